package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/curatarr/curatarr/rules"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(days int) int64 {
	return testNow.AddDate(0, 0, -days).Unix()
}

func writeContainer(w http.ResponseWriter, inner map[string]any) {
	json.NewEncoder(w).Encode(map[string]any{"MediaContainer": inner})
}

// plexFake is a minimal Plex server for client tests. Route handlers are
// registered per test; mutating requests are recorded for assertions.
type plexFake struct {
	mux      *http.ServeMux
	srv      *httptest.Server
	requests []string
	history  []map[string]any
}

func newPlexFake(t *testing.T) *plexFake {
	t.Helper()
	f := &plexFake{mux: http.NewServeMux()}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Plex-Token") != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			f.requests = append(f.requests, r.Method+" "+r.URL.Path+"?"+r.URL.Query().Encode())
		}
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)

	// Server identity for collection URIs.
	f.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeContainer(w, map[string]any{"machineIdentifier": "machine-1"})
	})
	// Watch history, empty unless the test seeds f.history.
	f.mux.HandleFunc("/status/sessions/history/all", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": f.history})
	})
	return f
}

func (f *plexFake) client() *PlexClient {
	c := NewPlexClient(f.srv.URL, "token", nil)
	c.now = func() time.Time { return testNow }
	return c
}

// TestPlexLibraries verifies only movie and show sections become libraries.
func TestPlexLibraries(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/sections", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Directory": []map[string]any{
			{"key": "1", "title": "Movies", "type": "movie"},
			{"key": "2", "title": "TV Shows", "type": "show"},
			{"key": "3", "title": "Music", "type": "artist"},
		}})
	})

	libs, err := f.client().Libraries(context.Background())
	if err != nil {
		t.Fatalf("Libraries() failed: %v", err)
	}
	if len(libs) != 2 {
		t.Fatalf("libraries = %d, want 2", len(libs))
	}
	if libs[0].SourceID != "1" || libs[0].Type != rules.LibraryMovie {
		t.Errorf("libs[0] = %+v", libs[0])
	}
	if libs[1].SourceID != "2" || libs[1].Type != rules.LibraryShow {
		t.Errorf("libs[1] = %+v", libs[1])
	}
}

// TestPlexListMoviesAndSeasons verifies the listing endpoints and filtering.
func TestPlexListMoviesAndSeasons(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/sections/1/all", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "101", "title": "Heat", "type": "movie"},
			{"ratingKey": "102", "title": "Ronin", "type": "movie"},
			{"ratingKey": "999", "title": "Stray", "type": "clip"},
		}})
	})
	f.mux.HandleFunc("/library/metadata/200/children", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "201", "title": "Season 1", "type": "season", "index": 1},
			{"ratingKey": "202", "title": "Season 2", "type": "season", "index": 2},
		}})
	})

	client := f.client()

	movies, err := client.ListMovies(context.Background(), "1")
	if err != nil {
		t.Fatalf("ListMovies() failed: %v", err)
	}
	if len(movies) != 2 || movies[0].Key != "101" {
		t.Errorf("movies = %+v", movies)
	}

	seasons, err := client.ListSeasons(context.Background(), rules.ShowRef{Key: "200", Title: "The Wire"})
	if err != nil {
		t.Fatalf("ListSeasons() failed: %v", err)
	}
	if len(seasons) != 2 {
		t.Fatalf("seasons = %+v", seasons)
	}
	if seasons[1].Index != 2 || seasons[1].ShowKey != "200" {
		t.Errorf("seasons[1] = %+v", seasons[1])
	}
}

// TestPlexMovieFacts verifies collection tags and last-played resolution from
// the item's own lastViewedAt.
func TestPlexMovieFacts(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/metadata/101", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{{
			"ratingKey":    "101",
			"title":        "Heat",
			"type":         "movie",
			"lastViewedAt": daysAgo(90),
			"Collection":   []map[string]any{{"tag": "Keep"}, {"tag": "Crime"}},
		}}})
	})

	facts, err := f.client().MovieFacts(context.Background(), rules.MovieRef{Key: "101", Title: "Heat"})
	if err != nil {
		t.Fatalf("MovieFacts() failed: %v", err)
	}
	if facts.Key != "101" || facts.ItemType != rules.ItemMovie || facts.Title != "Heat" {
		t.Errorf("facts = %+v", facts)
	}
	if facts.LastPlayedDays == nil || *facts.LastPlayedDays != 90 {
		t.Errorf("LastPlayedDays = %v, want 90", facts.LastPlayedDays)
	}
	if len(facts.InCollections) != 2 || facts.InCollections[0] != "Keep" {
		t.Errorf("InCollections = %v", facts.InCollections)
	}
}

// TestPlexMovieFactsHistoryFallback verifies the watch-history snapshot fills
// in when the item carries no lastViewedAt.
func TestPlexMovieFactsHistoryFallback(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/metadata/101", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{{
			"ratingKey": "101", "title": "Heat", "type": "movie",
		}}})
	})
	f.history = []map[string]any{
		{"ratingKey": "101", "viewedAt": daysAgo(30)},
		{"ratingKey": "101", "viewedAt": daysAgo(120)}, // older entry loses
	}

	facts, err := f.client().MovieFacts(context.Background(), rules.MovieRef{Key: "101", Title: "Heat"})
	if err != nil {
		t.Fatalf("MovieFacts() failed: %v", err)
	}
	if facts.LastPlayedDays == nil || *facts.LastPlayedDays != 30 {
		t.Errorf("LastPlayedDays = %v, want 30 (most recent history entry)", facts.LastPlayedDays)
	}
}

// TestPlexMovieFactsNeverPlayed verifies the nil sentinel for unplayed items.
func TestPlexMovieFactsNeverPlayed(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/metadata/101", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{{
			"ratingKey": "101", "title": "Heat", "type": "movie",
		}}})
	})

	facts, err := f.client().MovieFacts(context.Background(), rules.MovieRef{Key: "101", Title: "Heat"})
	if err != nil {
		t.Fatalf("MovieFacts() failed: %v", err)
	}
	if facts.LastPlayedDays != nil {
		t.Errorf("LastPlayedDays = %v, want nil for never played", facts.LastPlayedDays)
	}
}

// TestPlexSeasonFacts verifies the season snapshot: show title, episode
// sweep, most recent watch, and collection union across show, season, and
// direct collection membership.
func TestPlexSeasonFacts(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/metadata/201", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{{
			"ratingKey": "201", "title": "Season 2", "type": "season", "index": 2,
			"parentRatingKey": "200", "librarySectionID": 2,
			"Collection": []map[string]any{{"tag": "Season Picks"}},
		}}})
	})
	f.mux.HandleFunc("/library/metadata/200", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{{
			"ratingKey": "200", "title": "The Wire", "type": "show",
			"Collection": []map[string]any{{"tag": "Keep"}},
		}}})
	})
	f.mux.HandleFunc("/library/metadata/201/children", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "301", "title": "Ebb Tide", "type": "episode", "index": 1, "lastViewedAt": daysAgo(200)},
			{"ratingKey": "302", "title": "Collateral Damage", "type": "episode", "index": 2, "lastViewedAt": daysAgo(150)},
			{"ratingKey": "303", "title": "Hot Shots", "type": "episode", "index": 3},
		}})
	})
	f.mux.HandleFunc("/library/sections/2/collections", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "900", "title": "Direct Season Collection", "type": "collection"},
		}})
	})
	f.mux.HandleFunc("/library/collections/900/children", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "201", "title": "Season 2", "type": "season"},
		}})
	})

	facts, err := f.client().SeasonFacts(context.Background(), rules.SeasonRef{Key: "201", ShowKey: "200", Title: "Season 2", Index: 2})
	if err != nil {
		t.Fatalf("SeasonFacts() failed: %v", err)
	}

	if facts.ShowTitle != "The Wire" || facts.SeasonNumber != 2 {
		t.Errorf("show/season = %q/%d", facts.ShowTitle, facts.SeasonNumber)
	}
	if facts.EpisodeCount != 3 {
		t.Errorf("EpisodeCount = %d, want 3", facts.EpisodeCount)
	}
	if facts.LastWatchedEpisodeDays == nil || *facts.LastWatchedEpisodeDays != 150 {
		t.Errorf("LastWatchedEpisodeDays = %v, want 150", facts.LastWatchedEpisodeDays)
	}
	if facts.LastWatchedEpisodeTitle != "Collateral Damage" || facts.LastWatchedEpisodeNumber != 2 {
		t.Errorf("last watched = %q #%d", facts.LastWatchedEpisodeTitle, facts.LastWatchedEpisodeNumber)
	}
	if facts.LastWatchedEpisodeDate == nil || !facts.LastWatchedEpisodeDate.Equal(testNow.AddDate(0, 0, -150)) {
		t.Errorf("LastWatchedEpisodeDate = %v", facts.LastWatchedEpisodeDate)
	}

	want := map[string]bool{"Keep": true, "Season Picks": true, "Direct Season Collection": true}
	if len(facts.InCollections) != len(want) {
		t.Fatalf("InCollections = %v, want %v", facts.InCollections, want)
	}
	for _, name := range facts.InCollections {
		if !want[name] {
			t.Errorf("unexpected collection %q", name)
		}
	}
}

// TestPlexAddToCollectionCreates verifies a missing collection is created
// with the item as its first member.
func TestPlexAddToCollectionCreates(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/metadata/101", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{{
			"ratingKey": "101", "title": "Heat", "type": "movie", "librarySectionID": 1,
		}}})
	})
	f.mux.HandleFunc("/library/sections/1/collections", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{})
	})
	f.mux.HandleFunc("/library/collections", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{})
	})

	if err := f.client().AddToCollection(context.Background(), "101", "Leaving Soon", rules.ItemMovie); err != nil {
		t.Fatalf("AddToCollection() failed: %v", err)
	}

	if len(f.requests) != 1 {
		t.Fatalf("requests = %v, want 1 create", f.requests)
	}
	want := "POST /library/collections?sectionId=1&smart=0&title=Leaving+Soon&type=1&uri=server%3A%2F%2Fmachine-1%2Fcom.plexapp.plugins.library%2Flibrary%2Fmetadata%2F101"
	if f.requests[0] != want {
		t.Errorf("request = %q\nwant      %q", f.requests[0], want)
	}
}

// TestPlexAddToCollectionExisting verifies the add-item path for a collection
// that already exists, matched case-insensitively.
func TestPlexAddToCollectionExisting(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/metadata/101", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{{
			"ratingKey": "101", "title": "Heat", "type": "movie", "librarySectionID": 1,
		}}})
	})
	f.mux.HandleFunc("/library/sections/1/collections", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "900", "title": "Leaving Soon", "type": "collection"},
		}})
	})
	f.mux.HandleFunc("/library/collections/900/children", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{})
	})
	f.mux.HandleFunc("/library/collections/900/items", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{})
	})

	if err := f.client().AddToCollection(context.Background(), "101", "leaving soon", rules.ItemMovie); err != nil {
		t.Fatalf("AddToCollection() failed: %v", err)
	}

	if len(f.requests) != 1 {
		t.Fatalf("requests = %v, want 1 add", f.requests)
	}
	want := "PUT /library/collections/900/items?uri=server%3A%2F%2Fmachine-1%2Fcom.plexapp.plugins.library%2Flibrary%2Fmetadata%2F101"
	if f.requests[0] != want {
		t.Errorf("request = %q\nwant      %q", f.requests[0], want)
	}
}

// TestPlexRemoveFromCollectionSeasonRemovesShow verifies that removing a
// season whose parent show is the collection member removes the show.
func TestPlexRemoveFromCollectionSeasonRemovesShow(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/metadata/201", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{{
			"ratingKey": "201", "title": "Season 2", "type": "season",
			"parentRatingKey": "200", "librarySectionID": 2,
		}}})
	})
	f.mux.HandleFunc("/library/sections/2/collections", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "900", "title": "Keep", "type": "collection"},
		}})
	})
	f.mux.HandleFunc("/library/collections/900/children", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{
			{"ratingKey": "200", "title": "The Wire", "type": "show"},
		}})
	})
	f.mux.HandleFunc("/library/collections/900/children/200", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{})
	})

	if err := f.client().RemoveFromCollection(context.Background(), "201", "Keep", rules.ItemSeason); err != nil {
		t.Fatalf("RemoveFromCollection() failed: %v", err)
	}

	if len(f.requests) != 1 {
		t.Fatalf("requests = %v, want 1 delete", f.requests)
	}
	if f.requests[0] != "DELETE /library/collections/900/children/200?" {
		t.Errorf("request = %q, want show removal", f.requests[0])
	}
}

// TestPlexSetAndClearTitle verifies the edit endpoint call shapes.
func TestPlexSetAndClearTitle(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/metadata/101", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{"Metadata": []map[string]any{{
			"ratingKey": "101", "title": "[leaving] Heat", "originalTitle": "Heat",
			"type": "movie", "librarySectionID": 1,
		}}})
	})
	f.mux.HandleFunc("/library/sections/1/all", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{})
	})

	client := f.client()

	if err := client.SetTitle(context.Background(), "101", "[leaving] Heat", rules.ItemMovie); err != nil {
		t.Fatalf("SetTitle() failed: %v", err)
	}
	if err := client.ClearTitle(context.Background(), "101", rules.ItemMovie); err != nil {
		t.Fatalf("ClearTitle() failed: %v", err)
	}

	if len(f.requests) != 2 {
		t.Fatalf("requests = %v, want 2 edits", f.requests)
	}
	wantSet := "PUT /library/sections/1/all?id=101&title.locked=1&title.value=%5Bleaving%5D+Heat&type=1"
	if f.requests[0] != wantSet {
		t.Errorf("set request = %q\nwant         %q", f.requests[0], wantSet)
	}
	wantClear := "PUT /library/sections/1/all?id=101&title.locked=0&title.value=Heat&type=1"
	if f.requests[1] != wantClear {
		t.Errorf("clear request = %q\nwant           %q", f.requests[1], wantClear)
	}
}

// TestPlexDeleteItem verifies catalog deletion.
func TestPlexDeleteItem(t *testing.T) {
	f := newPlexFake(t)
	f.mux.HandleFunc("/library/metadata/101", func(w http.ResponseWriter, r *http.Request) {
		writeContainer(w, map[string]any{})
	})

	if err := f.client().DeleteItem(context.Background(), "101"); err != nil {
		t.Fatalf("DeleteItem() failed: %v", err)
	}
	if len(f.requests) != 1 || f.requests[0] != "DELETE /library/metadata/101?" {
		t.Errorf("requests = %v, want [DELETE /library/metadata/101?]", f.requests)
	}
}
