package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errTest = errors.New("collaborator unavailable")

// fakeSource is an in-memory MediaSource for scanner and executor tests.
// Calls are recorded so tests can assert on the exact collaborator traffic.
type fakeSource struct {
	mu sync.Mutex

	movies  map[string][]MovieRef  // libraryID -> movies
	shows   map[string][]ShowRef   // libraryID -> shows
	seasons map[string][]SeasonRef // showKey -> seasons
	facts   map[string]*Facts      // itemKey -> facts

	factsErr map[string]error // itemKey -> forced facts failure
	listErr  error            // forced list failure
	mutErr   error            // forced failure on every mutating call

	calls []string // "op:itemKey[:detail]"
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		movies:   make(map[string][]MovieRef),
		shows:    make(map[string][]ShowRef),
		seasons:  make(map[string][]SeasonRef),
		facts:    make(map[string]*Facts),
		factsErr: make(map[string]error),
	}
}

func (f *fakeSource) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSource) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeSource) ListMovies(_ context.Context, libraryID string) ([]MovieRef, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.movies[libraryID], nil
}

func (f *fakeSource) ListShows(_ context.Context, libraryID string) ([]ShowRef, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.shows[libraryID], nil
}

func (f *fakeSource) ListSeasons(_ context.Context, show ShowRef) ([]SeasonRef, error) {
	return f.seasons[show.Key], nil
}

func (f *fakeSource) MovieFacts(_ context.Context, movie MovieRef) (*Facts, error) {
	if err := f.factsErr[movie.Key]; err != nil {
		return nil, err
	}
	facts, ok := f.facts[movie.Key]
	if !ok {
		return nil, fmt.Errorf("no facts for %s", movie.Key)
	}
	return facts, nil
}

func (f *fakeSource) SeasonFacts(_ context.Context, season SeasonRef) (*Facts, error) {
	if err := f.factsErr[season.Key]; err != nil {
		return nil, err
	}
	facts, ok := f.facts[season.Key]
	if !ok {
		return nil, fmt.Errorf("no facts for %s", season.Key)
	}
	return facts, nil
}

func (f *fakeSource) AddToCollection(_ context.Context, itemKey, collection string, _ ItemType) error {
	f.record("add:" + itemKey + ":" + collection)
	return f.mutErr
}

func (f *fakeSource) AddShowToCollection(_ context.Context, seasonKey, collection string) error {
	f.record("addShow:" + seasonKey + ":" + collection)
	return f.mutErr
}

func (f *fakeSource) RemoveFromCollection(_ context.Context, itemKey, collection string, _ ItemType) error {
	f.record("remove:" + itemKey + ":" + collection)
	return f.mutErr
}

func (f *fakeSource) SetTitle(_ context.Context, itemKey, title string, _ ItemType) error {
	f.record("setTitle:" + itemKey + ":" + title)
	return f.mutErr
}

func (f *fakeSource) ClearTitle(_ context.Context, itemKey string, _ ItemType) error {
	f.record("clearTitle:" + itemKey)
	return f.mutErr
}

func (f *fakeSource) DeleteItem(_ context.Context, itemKey string) error {
	f.record("delete:" + itemKey)
	return f.mutErr
}

// fakeManager is an in-memory DownloadManager.
type fakeManager struct {
	mu      sync.Mutex
	entries map[string]int64 // title -> id
	findErr error
	delErr  error
	deleted []int64
	message string
}

func newFakeManager(message string) *fakeManager {
	return &fakeManager{entries: make(map[string]int64), message: message}
}

func (f *fakeManager) FindByTitle(_ context.Context, title string) (*DownloadRef, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.entries[title]
	if !ok {
		return nil, nil
	}
	return &DownloadRef{ID: id, Title: title}, nil
}

func (f *fakeManager) DeleteWithFiles(_ context.Context, id int64) (string, error) {
	if f.delErr != nil {
		return "", f.delErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.message, nil
}

// fakeFactory hands out a fixed collaborator set, or a configured error.
type fakeFactory struct {
	collab *Collaborators
	err    error
}

func (f *fakeFactory) Collaborators(_ context.Context) (*Collaborators, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.collab, nil
}

func intp(v int) *int { return &v }
