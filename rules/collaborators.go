package rules

import "context"

// MovieRef identifies one movie in the media source.
type MovieRef struct {
	Key   string
	Title string
}

// ShowRef identifies one show in the media source.
type ShowRef struct {
	Key   string
	Title string
}

// SeasonRef identifies one season of a show in the media source.
type SeasonRef struct {
	Key     string
	ShowKey string
	Title   string
	Index   int
}

// MediaSource is the library catalog the engine evaluates and acts against.
// Mutating operations report failure through the returned error; there is no
// partial success.
type MediaSource interface {
	ListMovies(ctx context.Context, libraryID string) ([]MovieRef, error)
	ListShows(ctx context.Context, libraryID string) ([]ShowRef, error)
	ListSeasons(ctx context.Context, show ShowRef) ([]SeasonRef, error)

	MovieFacts(ctx context.Context, movie MovieRef) (*Facts, error)
	SeasonFacts(ctx context.Context, season SeasonRef) (*Facts, error)

	AddToCollection(ctx context.Context, itemKey, collection string, itemType ItemType) error
	// AddShowToCollection adds the parent show of a season to a collection.
	// Used by the manual candidate override; returns *ConflictError when the
	// collection cannot hold the show because of item-type mixing.
	AddShowToCollection(ctx context.Context, seasonKey, collection string) error
	RemoveFromCollection(ctx context.Context, itemKey, collection string, itemType ItemType) error
	SetTitle(ctx context.Context, itemKey, title string, itemType ItemType) error
	ClearTitle(ctx context.Context, itemKey string, itemType ItemType) error
	// DeleteItem removes the item from the library catalog only; file removal
	// is delegated to the download managers.
	DeleteItem(ctx context.Context, itemKey string) error
}

// DownloadRef identifies one entry in a download manager.
type DownloadRef struct {
	ID    int64
	Title string
}

// DownloadManager is a Radarr/Sonarr style service that owns media files.
type DownloadManager interface {
	// FindByTitle returns nil with no error when the title is unknown.
	FindByTitle(ctx context.Context, title string) (*DownloadRef, error)
	// DeleteWithFiles removes the entry and its files, returning a
	// human-readable outcome message.
	DeleteWithFiles(ctx context.Context, id int64) (string, error)
}

// Collaborators bundles the external services one scan or scheduler tick
// works against. Movies and Series are nil when unconfigured; actions that
// need them fail gracefully with a per-action result.
type Collaborators struct {
	Source MediaSource
	Movies DownloadManager
	Series DownloadManager
}

// CollaboratorFactory resolves collaborators from current settings. It is
// called once per scan and once per scheduler tick so that credential
// changes take effect without a restart. Returns ErrNotConfigured when the
// media source is unavailable.
type CollaboratorFactory interface {
	Collaborators(ctx context.Context) (*Collaborators, error)
}
