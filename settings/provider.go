package settings

import (
	"context"
	"log/slog"

	"github.com/curatarr/curatarr/media"
	"github.com/curatarr/curatarr/rules"
)

// Provider resolves rule-engine collaborators from the current settings.
// It implements rules.CollaboratorFactory, reloading settings on every call
// so credential changes take effect without a restart.
type Provider struct {
	repo   Repository
	logger *slog.Logger
}

// NewProvider creates a collaborator provider over the settings repository.
func NewProvider(repo Repository, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{repo: repo, logger: logger}
}

// Collaborators builds clients from the stored settings. The media source is
// mandatory; Radarr and Sonarr are optional and left nil when unconfigured.
func (p *Provider) Collaborators(ctx context.Context) (*rules.Collaborators, error) {
	s, err := p.repo.Load()
	if err != nil {
		return nil, err
	}
	if !s.PlexConfigured() {
		return nil, rules.ErrNotConfigured
	}

	collab := &rules.Collaborators{
		Source: media.NewPlexClient(s.PlexURL, s.PlexToken, p.logger),
	}
	if s.RadarrURL != "" && s.RadarrAPIKey != "" {
		collab.Movies = media.NewRadarrClient(s.RadarrURL, s.RadarrAPIKey)
	}
	if s.SonarrURL != "" && s.SonarrAPIKey != "" {
		collab.Series = media.NewSonarrClient(s.SonarrURL, s.SonarrAPIKey)
	}
	return collab, nil
}
