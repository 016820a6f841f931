package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Settings is the single system configuration row. Credential fields hold
// plaintext values in memory; repositories encrypt them at rest.
type Settings struct {
	PlexURL      string `json:"plex_url"`
	PlexToken    string `json:"plex_token,omitempty"`
	RadarrURL    string `json:"radarr_url"`
	RadarrAPIKey string `json:"radarr_api_key,omitempty"`
	SonarrURL    string `json:"sonarr_url"`
	SonarrAPIKey string `json:"sonarr_api_key,omitempty"`

	Language string `json:"language"`
	Theme    string `json:"theme"`

	UpdatedAt time.Time `json:"updated_at"`
}

// PlexConfigured reports whether the media source can be reached.
func (s *Settings) PlexConfigured() bool {
	return s.PlexURL != "" && s.PlexToken != ""
}

// Defaults returns the settings used before the user has saved anything.
func Defaults() *Settings {
	return &Settings{Language: "en", Theme: "light"}
}

// Repository stores the single settings row.
type Repository interface {
	Load() (*Settings, error)
	Save(s *Settings) error
}

// PostgresRepository persists settings in the system_settings table with
// credentials encrypted by the cipher.
type PostgresRepository struct {
	db     *sql.DB
	cipher *Cipher
}

// NewPostgresRepository creates a settings repository over db.
func NewPostgresRepository(db *sql.DB, cipher *Cipher) *PostgresRepository {
	return &PostgresRepository{db: db, cipher: cipher}
}

// Load reads the settings row, returning defaults when none exists yet.
func (r *PostgresRepository) Load() (*Settings, error) {
	var (
		s            Settings
		plexToken    sql.NullString
		radarrAPIKey sql.NullString
		sonarrAPIKey sql.NullString
		plexURL      sql.NullString
		radarrURL    sql.NullString
		sonarrURL    sql.NullString
	)
	err := r.db.QueryRow(`
		SELECT plex_url, plex_token_encrypted, radarr_url, radarr_api_key_encrypted,
			sonarr_url, sonarr_api_key_encrypted, language, theme, updated_at
		FROM system_settings
		WHERE id = 1
	`).Scan(&plexURL, &plexToken, &radarrURL, &radarrAPIKey,
		&sonarrURL, &sonarrAPIKey, &s.Language, &s.Theme, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	s.PlexURL = plexURL.String
	s.RadarrURL = radarrURL.String
	s.SonarrURL = sonarrURL.String

	if s.PlexToken, err = r.cipher.DecryptString(plexToken.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt plex token: %w", err)
	}
	if s.RadarrAPIKey, err = r.cipher.DecryptString(radarrAPIKey.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt radarr api key: %w", err)
	}
	if s.SonarrAPIKey, err = r.cipher.DecryptString(sonarrAPIKey.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt sonarr api key: %w", err)
	}

	return &s, nil
}

// Save upserts the settings row with credentials encrypted.
func (r *PostgresRepository) Save(s *Settings) error {
	plexToken, err := r.cipher.EncryptString(s.PlexToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt plex token: %w", err)
	}
	radarrAPIKey, err := r.cipher.EncryptString(s.RadarrAPIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt radarr api key: %w", err)
	}
	sonarrAPIKey, err := r.cipher.EncryptString(s.SonarrAPIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt sonarr api key: %w", err)
	}

	s.UpdatedAt = time.Now()

	_, err = r.db.Exec(`
		INSERT INTO system_settings (id, plex_url, plex_token_encrypted, radarr_url, radarr_api_key_encrypted,
			sonarr_url, sonarr_api_key_encrypted, language, theme, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET plex_url = EXCLUDED.plex_url,
			plex_token_encrypted = EXCLUDED.plex_token_encrypted,
			radarr_url = EXCLUDED.radarr_url,
			radarr_api_key_encrypted = EXCLUDED.radarr_api_key_encrypted,
			sonarr_url = EXCLUDED.sonarr_url,
			sonarr_api_key_encrypted = EXCLUDED.sonarr_api_key_encrypted,
			language = EXCLUDED.language,
			theme = EXCLUDED.theme,
			updated_at = EXCLUDED.updated_at
	`, s.PlexURL, plexToken, s.RadarrURL, radarrAPIKey,
		s.SonarrURL, sonarrAPIKey, s.Language, s.Theme, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	return nil
}

// InMemoryRepository holds settings in memory. Used in tests and when
// running without a database.
type InMemoryRepository struct {
	mu       sync.RWMutex
	settings *Settings
}

// NewInMemoryRepository creates an empty in-memory settings repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Load returns the stored settings or defaults.
func (r *InMemoryRepository) Load() (*Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.settings == nil {
		return Defaults(), nil
	}
	copied := *r.settings
	return &copied, nil
}

// Save stores a copy of the settings.
func (r *InMemoryRepository) Save(s *Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.UpdatedAt = time.Now()
	copied := *s
	r.settings = &copied
	return nil
}
