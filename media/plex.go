package media

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/curatarr/curatarr/rules"
)

// Plex media type codes used by the collection and edit endpoints.
const (
	plexTypeMovie  = "1"
	plexTypeShow   = "2"
	plexTypeSeason = "3"
)

// cacheTTL bounds how long watch-history and collection snapshots are reused
// within a scan before being refetched.
const cacheTTL = 5 * time.Minute

// PlexClient talks to a Plex Media Server over its HTTP API and implements
// rules.MediaSource. Item keys are Plex rating keys.
//
// Watch history and collection membership are snapshotted with a short TTL:
// a library scan touches every item, and refetching either per item would
// hammer the server.
type PlexClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time

	mu            sync.Mutex
	history       map[string]time.Time
	historyAt     time.Time
	collections   map[string][]collectionEntry
	collectionsAt time.Time
}

// collectionEntry is one collection in a section with its member rating keys.
type collectionEntry struct {
	ratingKey string
	title     string
	members   map[string]string // rating key -> item type
}

// NewPlexClient creates a client for the Plex server at baseURL.
func NewPlexClient(baseURL, token string, logger *slog.Logger) *PlexClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlexClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      logger.With("component", "media.plex"),
		now:         time.Now,
		collections: make(map[string][]collectionEntry),
	}
}

type plexContainer struct {
	MediaContainer struct {
		MachineIdentifier string          `json:"machineIdentifier"`
		Directory         []plexDirectory `json:"Directory"`
		Metadata          []plexMetadata  `json:"Metadata"`
	} `json:"MediaContainer"`
}

type plexDirectory struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type plexMetadata struct {
	RatingKey        string    `json:"ratingKey"`
	Title            string    `json:"title"`
	OriginalTitle    string    `json:"originalTitle"`
	Type             string    `json:"type"`
	Index            int       `json:"index"`
	ParentRatingKey  string    `json:"parentRatingKey"`
	ParentTitle      string    `json:"parentTitle"`
	LibrarySectionID int64     `json:"librarySectionID"`
	LastViewedAt     int64     `json:"lastViewedAt"`
	ViewedAt         int64     `json:"viewedAt"`
	Collection       []plexTag `json:"Collection"`
}

type plexTag struct {
	Tag string `json:"tag"`
}

// TestConnection verifies the server is reachable with the configured token.
func (c *PlexClient) TestConnection(ctx context.Context) error {
	var out plexContainer
	if err := c.get(ctx, "/library/sections", nil, &out); err != nil {
		return fmt.Errorf("plex connection test failed: %w", err)
	}
	return nil
}

// Libraries returns the server's movie and show sections. Other section
// types (music, photos) are not rule targets and are skipped.
func (c *PlexClient) Libraries(ctx context.Context) ([]rules.Library, error) {
	var out plexContainer
	if err := c.get(ctx, "/library/sections", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list plex sections: %w", err)
	}

	var libs []rules.Library
	for _, d := range out.MediaContainer.Directory {
		switch d.Type {
		case "movie", "show":
			libs = append(libs, rules.Library{
				SourceID: d.Key,
				Title:    d.Title,
				Type:     rules.LibraryType(d.Type),
			})
		}
	}
	return libs, nil
}

// ListMovies returns all movies in a section.
func (c *PlexClient) ListMovies(ctx context.Context, libraryID string) ([]rules.MovieRef, error) {
	var out plexContainer
	if err := c.get(ctx, "/library/sections/"+libraryID+"/all", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}

	var movies []rules.MovieRef
	for _, m := range out.MediaContainer.Metadata {
		if m.Type != "movie" {
			continue
		}
		movies = append(movies, rules.MovieRef{Key: m.RatingKey, Title: m.Title})
	}
	return movies, nil
}

// ListShows returns all shows in a section.
func (c *PlexClient) ListShows(ctx context.Context, libraryID string) ([]rules.ShowRef, error) {
	var out plexContainer
	if err := c.get(ctx, "/library/sections/"+libraryID+"/all", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list shows: %w", err)
	}

	var shows []rules.ShowRef
	for _, m := range out.MediaContainer.Metadata {
		if m.Type != "show" {
			continue
		}
		shows = append(shows, rules.ShowRef{Key: m.RatingKey, Title: m.Title})
	}
	return shows, nil
}

// ListSeasons returns the seasons of one show.
func (c *PlexClient) ListSeasons(ctx context.Context, show rules.ShowRef) ([]rules.SeasonRef, error) {
	var out plexContainer
	if err := c.get(ctx, "/library/metadata/"+show.Key+"/children", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}

	var seasons []rules.SeasonRef
	for _, m := range out.MediaContainer.Metadata {
		if m.Type != "season" {
			continue
		}
		seasons = append(seasons, rules.SeasonRef{
			Key:     m.RatingKey,
			ShowKey: show.Key,
			Title:   m.Title,
			Index:   m.Index,
		})
	}
	return seasons, nil
}

// MovieFacts assembles the evaluation snapshot for one movie.
func (c *PlexClient) MovieFacts(ctx context.Context, movie rules.MovieRef) (*rules.Facts, error) {
	item, err := c.fetchItem(ctx, movie.Key)
	if err != nil {
		return nil, err
	}

	facts := &rules.Facts{
		Key:      item.RatingKey,
		ItemType: rules.ItemMovie,
		Title:    item.Title,
	}

	for _, tag := range item.Collection {
		facts.InCollections = append(facts.InCollections, tag.Tag)
	}

	if days, ok := c.daysSinceViewed(ctx, item.RatingKey, item.LastViewedAt); ok {
		facts.LastPlayedDays = &days
	}

	return facts, nil
}

// SeasonFacts assembles the evaluation snapshot for one season. Collection
// membership is the union of the parent show's tags and any collection that
// directly contains either the show or the season.
func (c *PlexClient) SeasonFacts(ctx context.Context, season rules.SeasonRef) (*rules.Facts, error) {
	item, err := c.fetchItem(ctx, season.Key)
	if err != nil {
		return nil, err
	}
	show, err := c.fetchItem(ctx, item.ParentRatingKey)
	if err != nil {
		return nil, err
	}

	facts := &rules.Facts{
		Key:          item.RatingKey,
		ItemType:     rules.ItemSeason,
		Title:        item.Title,
		ShowTitle:    show.Title,
		SeasonNumber: item.Index,
	}

	seen := make(map[string]struct{})
	addCollection := func(name string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := seen[key]; dup || name == "" {
			return
		}
		seen[key] = struct{}{}
		facts.InCollections = append(facts.InCollections, name)
	}
	for _, tag := range show.Collection {
		addCollection(tag.Tag)
	}
	for _, tag := range item.Collection {
		addCollection(tag.Tag)
	}

	// Seasons can sit in collections directly without a tag on the show;
	// sweep the section's collections for either key.
	section := fmt.Sprintf("%d", item.LibrarySectionID)
	entries, err := c.sectionCollections(ctx, section)
	if err != nil {
		c.logger.Warn("collection sweep failed", "section", section, "error", err)
	} else {
		for _, entry := range entries {
			if _, ok := entry.members[show.RatingKey]; ok {
				addCollection(entry.title)
				continue
			}
			if _, ok := entry.members[item.RatingKey]; ok {
				addCollection(entry.title)
			}
		}
	}

	// Episode sweep: most recent watch wins.
	var episodes plexContainer
	if err := c.get(ctx, "/library/metadata/"+season.Key+"/children", nil, &episodes); err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}

	for _, ep := range episodes.MediaContainer.Metadata {
		if ep.Type != "episode" {
			continue
		}
		facts.EpisodeCount++

		days, ok := c.daysSinceViewed(ctx, ep.RatingKey, ep.LastViewedAt)
		if !ok {
			continue
		}
		if facts.LastWatchedEpisodeDays == nil || days < *facts.LastWatchedEpisodeDays {
			d := days
			facts.LastWatchedEpisodeDays = &d
			facts.LastWatchedEpisodeTitle = ep.Title
			facts.LastWatchedEpisodeNumber = ep.Index
			watched := c.now().AddDate(0, 0, -days)
			facts.LastWatchedEpisodeDate = &watched
		}
	}

	return facts, nil
}

// AddToCollection adds the item itself (a movie, or the season rather than
// its show) to the named collection, creating the collection if needed.
func (c *PlexClient) AddToCollection(ctx context.Context, itemKey, collection string, itemType rules.ItemType) error {
	item, err := c.fetchItem(ctx, itemKey)
	if err != nil {
		return err
	}

	section := fmt.Sprintf("%d", item.LibrarySectionID)
	entry, err := c.findCollection(ctx, section, collection)
	if err != nil {
		return err
	}

	if entry == nil {
		return c.createCollection(ctx, section, collection, typeCode(itemType), item.RatingKey)
	}
	return c.addToCollectionEntry(ctx, entry.ratingKey, item.RatingKey)
}

// AddShowToCollection adds the parent show of a season to a collection. Plex
// refuses to mix shows and seasons in one collection, so seasons of the same
// show are evicted first; seasons of other shows make the add fail with a
// *rules.ConflictError.
func (c *PlexClient) AddShowToCollection(ctx context.Context, seasonKey, collection string) error {
	season, err := c.fetchItem(ctx, seasonKey)
	if err != nil {
		return err
	}
	show, err := c.fetchItem(ctx, season.ParentRatingKey)
	if err != nil {
		return err
	}

	for _, tag := range show.Collection {
		if sameName(tag.Tag, collection) {
			// Show is already in the collection, nothing to do.
			return nil
		}
	}

	section := fmt.Sprintf("%d", show.LibrarySectionID)
	entry, err := c.findCollection(ctx, section, collection)
	if err != nil {
		return err
	}
	if entry == nil {
		return c.createCollection(ctx, section, collection, plexTypeShow, show.RatingKey)
	}

	foreignSeasons := false
	for memberKey, memberType := range entry.members {
		if memberType != "season" {
			continue
		}
		member, err := c.fetchItem(ctx, memberKey)
		if err != nil {
			continue
		}
		if member.ParentRatingKey == show.RatingKey {
			if err := c.removeFromCollectionEntry(ctx, entry.ratingKey, memberKey); err != nil {
				c.logger.Warn("failed to evict season before show add", "collection", collection, "season_key", memberKey, "error", err)
			}
		} else {
			foreignSeasons = true
		}
	}
	if foreignSeasons {
		return &rules.ConflictError{Message: fmt.Sprintf(
			"Collection %q contains seasons from other shows and cannot accept shows. Please create a new collection or remove those seasons first.", collection)}
	}

	c.invalidateCollections()
	return c.addToCollectionEntry(ctx, entry.ratingKey, show.RatingKey)
}

// RemoveFromCollection removes the item from the named collection. For a
// season whose show is in the collection, the show is removed instead, which
// takes all of its seasons with it.
func (c *PlexClient) RemoveFromCollection(ctx context.Context, itemKey, collection string, itemType rules.ItemType) error {
	item, err := c.fetchItem(ctx, itemKey)
	if err != nil {
		return err
	}

	section := fmt.Sprintf("%d", item.LibrarySectionID)
	entry, err := c.findCollection(ctx, section, collection)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("collection %q not found", collection)
	}

	removeKey := item.RatingKey
	if itemType == rules.ItemSeason {
		if _, showPresent := entry.members[item.ParentRatingKey]; showPresent {
			removeKey = item.ParentRatingKey
		}
	}
	if _, present := entry.members[removeKey]; !present {
		return fmt.Errorf("item not in collection %q", collection)
	}

	return c.removeFromCollectionEntry(ctx, entry.ratingKey, removeKey)
}

// SetTitle sets and locks the item's displayed title.
func (c *PlexClient) SetTitle(ctx context.Context, itemKey, title string, itemType rules.ItemType) error {
	item, err := c.fetchItem(ctx, itemKey)
	if err != nil {
		return err
	}
	return c.editTitle(ctx, item, typeCode(itemType), title, true)
}

// ClearTitle restores the item's original title and unlocks the field.
func (c *PlexClient) ClearTitle(ctx context.Context, itemKey string, itemType rules.ItemType) error {
	item, err := c.fetchItem(ctx, itemKey)
	if err != nil {
		return err
	}
	original := item.OriginalTitle
	if original == "" {
		original = item.Title
	}
	return c.editTitle(ctx, item, typeCode(itemType), original, false)
}

// DeleteItem removes the item from the library catalog. It does not touch
// files; file removal belongs to the download managers.
func (c *PlexClient) DeleteItem(ctx context.Context, itemKey string) error {
	if err := c.do(ctx, http.MethodDelete, "/library/metadata/"+itemKey, nil); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (c *PlexClient) editTitle(ctx context.Context, item plexMetadata, code, title string, lock bool) error {
	locked := "0"
	if lock {
		locked = "1"
	}
	q := url.Values{
		"type":         {code},
		"id":           {item.RatingKey},
		"title.value":  {title},
		"title.locked": {locked},
	}
	path := fmt.Sprintf("/library/sections/%d/all", item.LibrarySectionID)
	if err := c.do(ctx, http.MethodPut, path, q); err != nil {
		return fmt.Errorf("failed to edit title: %w", err)
	}
	return nil
}

func (c *PlexClient) fetchItem(ctx context.Context, ratingKey string) (plexMetadata, error) {
	var out plexContainer
	if err := c.get(ctx, "/library/metadata/"+ratingKey, nil, &out); err != nil {
		return plexMetadata{}, fmt.Errorf("failed to fetch item %s: %w", ratingKey, err)
	}
	if len(out.MediaContainer.Metadata) == 0 {
		return plexMetadata{}, fmt.Errorf("item %s: %w", ratingKey, rules.ErrNotFound)
	}
	return out.MediaContainer.Metadata[0], nil
}

// daysSinceViewed resolves the most recent watch for a rating key, preferring
// the item's own lastViewedAt and falling back to the history snapshot.
func (c *PlexClient) daysSinceViewed(ctx context.Context, ratingKey string, lastViewedAt int64) (int, bool) {
	var viewed time.Time
	if lastViewedAt > 0 {
		viewed = time.Unix(lastViewedAt, 0)
	} else if t, ok := c.historyLookup(ctx, ratingKey); ok {
		viewed = t
	} else {
		return 0, false
	}

	days := int(c.now().Sub(viewed).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, true
}

func (c *PlexClient) historyLookup(ctx context.Context, ratingKey string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history == nil || c.now().Sub(c.historyAt) > cacheTTL {
		c.history = c.loadHistory(ctx)
		c.historyAt = c.now()
	}

	t, ok := c.history[ratingKey]
	return t, ok
}

func (c *PlexClient) loadHistory(ctx context.Context) map[string]time.Time {
	var out plexContainer
	q := url.Values{"X-Plex-Container-Size": {"50000"}}
	if err := c.get(ctx, "/status/sessions/history/all", q, &out); err != nil {
		c.logger.Warn("failed to load watch history", "error", err)
		return map[string]time.Time{}
	}

	history := make(map[string]time.Time, len(out.MediaContainer.Metadata))
	for _, m := range out.MediaContainer.Metadata {
		if m.RatingKey == "" || m.ViewedAt == 0 {
			continue
		}
		viewed := time.Unix(m.ViewedAt, 0)
		if prev, ok := history[m.RatingKey]; !ok || viewed.After(prev) {
			history[m.RatingKey] = viewed
		}
	}
	return history
}

func (c *PlexClient) sectionCollections(ctx context.Context, sectionID string) ([]collectionEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.now().Sub(c.collectionsAt) > cacheTTL {
		c.collections = make(map[string][]collectionEntry)
		c.collectionsAt = c.now()
	}
	if cached, ok := c.collections[sectionID]; ok {
		return cached, nil
	}

	var out plexContainer
	if err := c.get(ctx, "/library/sections/"+sectionID+"/collections", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	var entries []collectionEntry
	for _, coll := range out.MediaContainer.Metadata {
		entry := collectionEntry{
			ratingKey: coll.RatingKey,
			title:     coll.Title,
			members:   make(map[string]string),
		}

		var children plexContainer
		if err := c.get(ctx, "/library/collections/"+coll.RatingKey+"/children", nil, &children); err != nil {
			c.logger.Warn("failed to list collection members", "collection", coll.Title, "error", err)
		} else {
			for _, m := range children.MediaContainer.Metadata {
				entry.members[m.RatingKey] = m.Type
			}
		}
		entries = append(entries, entry)
	}

	c.collections[sectionID] = entries
	return entries, nil
}

func (c *PlexClient) findCollection(ctx context.Context, sectionID, name string) (*collectionEntry, error) {
	entries, err := c.sectionCollections(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if sameName(entries[i].title, name) {
			return &entries[i], nil
		}
	}
	return nil, nil
}

func (c *PlexClient) createCollection(ctx context.Context, sectionID, name, typeCode, ratingKey string) error {
	machineID, err := c.machineIdentifier(ctx)
	if err != nil {
		return err
	}

	q := url.Values{
		"type":      {typeCode},
		"title":     {name},
		"smart":     {"0"},
		"sectionId": {sectionID},
		"uri":       {collectionURI(machineID, ratingKey)},
	}
	if err := c.do(ctx, http.MethodPost, "/library/collections", q); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}

	c.invalidateCollections()
	return nil
}

func (c *PlexClient) addToCollectionEntry(ctx context.Context, collectionKey, ratingKey string) error {
	machineID, err := c.machineIdentifier(ctx)
	if err != nil {
		return err
	}

	q := url.Values{"uri": {collectionURI(machineID, ratingKey)}}
	if err := c.do(ctx, http.MethodPut, "/library/collections/"+collectionKey+"/items", q); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "mix media types") {
			return &rules.ConflictError{Message: "collection cannot mix media types"}
		}
		return fmt.Errorf("failed to add to collection: %w", err)
	}

	c.invalidateCollections()
	return nil
}

func (c *PlexClient) removeFromCollectionEntry(ctx context.Context, collectionKey, ratingKey string) error {
	path := "/library/collections/" + collectionKey + "/children/" + ratingKey
	if err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("failed to remove from collection: %w", err)
	}

	c.invalidateCollections()
	return nil
}

func (c *PlexClient) machineIdentifier(ctx context.Context) (string, error) {
	var out plexContainer
	if err := c.get(ctx, "/", nil, &out); err != nil {
		return "", fmt.Errorf("failed to read server identity: %w", err)
	}
	return out.MediaContainer.MachineIdentifier, nil
}

func (c *PlexClient) invalidateCollections() {
	c.mu.Lock()
	c.collections = make(map[string][]collectionEntry)
	c.mu.Unlock()
}

func collectionURI(machineID, ratingKey string) string {
	return fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s", machineID, ratingKey)
}

func typeCode(itemType rules.ItemType) string {
	if itemType == rules.ItemSeason {
		return plexTypeSeason
	}
	return plexTypeMovie
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func (c *PlexClient) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.request(ctx, http.MethodGet, path, query, out)
}

func (c *PlexClient) do(ctx context.Context, method, path string, query url.Values) error {
	return c.request(ctx, method, path, query, nil)
}

func (c *PlexClient) request(ctx context.Context, method, path string, query url.Values, out any) error {
	headers := map[string]string{
		"X-Plex-Token": c.token,
		"Accept":       "application/json",
	}
	return requestJSON(ctx, c.http, method, c.baseURL+path, query, headers, out)
}
