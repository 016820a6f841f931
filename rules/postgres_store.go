package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// Conditions and actions are stored as JSONB.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

// Add inserts a new rule into the database.
func (s *PostgresRuleStore) Add(rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)
	`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	conditions, actions, err := marshalRuleBody(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rules (id, library_id, name, enabled, dry_run, logic, conditions, actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rule.ID, rule.LibraryID, rule.Name, rule.Enabled, rule.DryRun, string(rule.Logic),
		conditions, actions, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT id, library_id, name, enabled, dry_run, logic, conditions, actions, created_at, updated_at
		FROM rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// List returns all rules ordered by creation time.
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	return s.list(`
		SELECT id, library_id, name, enabled, dry_run, logic, conditions, actions, created_at, updated_at
		FROM rules
		ORDER BY created_at ASC
	`)
}

// ListEnabled returns all enabled rules ordered by creation time.
func (s *PostgresRuleStore) ListEnabled() ([]*Rule, error) {
	return s.list(`
		SELECT id, library_id, name, enabled, dry_run, logic, conditions, actions, created_at, updated_at
		FROM rules
		WHERE enabled = true
		ORDER BY created_at ASC
	`)
}

func (s *PostgresRuleStore) list(query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule.
func (s *PostgresRuleStore) Update(rule *Rule) error {
	conditions, actions, err := marshalRuleBody(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rules
		SET library_id = $1, name = $2, enabled = $3, dry_run = $4, logic = $5,
		    conditions = $6, actions = $7, updated_at = $8
		WHERE id = $9
	`, rule.LibraryID, rule.Name, rule.Enabled, rule.DryRun, string(rule.Logic),
		conditions, actions, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}

	return nil
}

// Delete removes a rule and its candidates in one transaction.
func (s *PostgresRuleStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM candidates WHERE rule_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete rule candidates: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func marshalRuleBody(rule *Rule) (conditions, actions []byte, err error) {
	conditions, err = json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err = json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return conditions, actions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule       Rule
		logic      string
		conditions []byte
		actions    []byte
	)
	err := row.Scan(
		&rule.ID,
		&rule.LibraryID,
		&rule.Name,
		&rule.Enabled,
		&rule.DryRun,
		&logic,
		&conditions,
		&actions,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Logic = Logic(logic)
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	return &rule, nil
}

// PostgresCandidateStore implements CandidateStore backed by PostgreSQL.
type PostgresCandidateStore struct {
	db *sql.DB
}

// NewPostgresCandidateStore creates a new PostgreSQL-backed CandidateStore.
func NewPostgresCandidateStore(db *sql.DB) *PostgresCandidateStore {
	return &PostgresCandidateStore{db: db}
}

// ReplaceForRule clears the rule's candidates and inserts the new set in one
// transaction.
func (s *PostgresCandidateStore) ReplaceForRule(ruleID string, candidates []*Candidate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM candidates WHERE rule_id = $1`, ruleID); err != nil {
		return fmt.Errorf("failed to clear candidates: %w", err)
	}

	now := time.Now()
	for _, c := range candidates {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.RuleID = ruleID
		c.CreatedAt = now
		c.UpdatedAt = now

		actions, err := json.Marshal(c.Actions)
		if err != nil {
			return fmt.Errorf("failed to marshal candidate actions: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO candidates (id, rule_id, item_key, item_type, item_title, show_title,
				season_number, episode_count, last_watched_episode_title, last_watched_episode_number,
				last_watched_episode_date, reason, actions, scheduled_at, cancelled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, c.ID, c.RuleID, c.ItemKey, string(c.ItemType), c.ItemTitle, nullString(c.ShowTitle),
			nullIntPtr(c.SeasonNumber), nullIntPtr(c.EpisodeCount),
			nullString(c.LastWatchedEpisodeTitle), nullIntPtr(c.LastWatchedEpisodeNumber),
			nullTimePtr(c.LastWatchedEpisodeDate), c.Reason, actions,
			nullTimePtr(c.ScheduledAt), c.Cancelled, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert candidate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Get retrieves a candidate by ID.
func (s *PostgresCandidateStore) Get(id string) (*Candidate, error) {
	row := s.db.QueryRow(candidateSelect+` WHERE id = $1`, id)

	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("candidate %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}

	return c, nil
}

// List returns all non-cancelled candidates ordered by creation time.
func (s *PostgresCandidateStore) List() ([]*Candidate, error) {
	return s.list(candidateSelect + ` WHERE cancelled = false ORDER BY created_at ASC`)
}

// Due returns non-cancelled candidates whose scheduled date has passed.
func (s *PostgresCandidateStore) Due(now time.Time) ([]*Candidate, error) {
	return s.list(candidateSelect+`
		WHERE cancelled = false AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
	`, now)
}

func (s *PostgresCandidateStore) list(query string, args ...any) ([]*Candidate, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	return candidates, nil
}

// Delete removes a candidate from the database.
func (s *PostgresCandidateStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM candidates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete candidate: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("candidate %s: %w", id, ErrNotFound)
	}

	return nil
}

const candidateSelect = `
	SELECT id, rule_id, item_key, item_type, item_title, show_title,
		season_number, episode_count, last_watched_episode_title, last_watched_episode_number,
		last_watched_episode_date, reason, actions, scheduled_at, cancelled, created_at, updated_at
	FROM candidates
`

func scanCandidate(row rowScanner) (*Candidate, error) {
	var (
		c           Candidate
		itemType    string
		showTitle   sql.NullString
		seasonNum   sql.NullInt64
		episodes    sql.NullInt64
		lweTitle    sql.NullString
		lweNumber   sql.NullInt64
		lweDate     sql.NullTime
		actions     []byte
		scheduledAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.RuleID, &c.ItemKey, &itemType, &c.ItemTitle, &showTitle,
		&seasonNum, &episodes, &lweTitle, &lweNumber,
		&lweDate, &c.Reason, &actions, &scheduledAt, &c.Cancelled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ItemType = ItemType(itemType)
	c.ShowTitle = showTitle.String
	c.SeasonNumber = intPtr(seasonNum)
	c.EpisodeCount = intPtr(episodes)
	c.LastWatchedEpisodeTitle = lweTitle.String
	c.LastWatchedEpisodeNumber = intPtr(lweNumber)
	c.LastWatchedEpisodeDate = timePtr(lweDate)
	c.ScheduledAt = timePtr(scheduledAt)
	if err := json.Unmarshal(actions, &c.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidate actions: %w", err)
	}

	return &c, nil
}

// PostgresActionLogStore implements ActionLogStore backed by PostgreSQL.
type PostgresActionLogStore struct {
	db *sql.DB
}

// NewPostgresActionLogStore creates a new PostgreSQL-backed ActionLogStore.
func NewPostgresActionLogStore(db *sql.DB) *PostgresActionLogStore {
	return &PostgresActionLogStore{db: db}
}

// Append inserts a log entry. The rule reference is nullable so that entries
// survive rule deletion.
func (s *PostgresActionLogStore) Append(entry *ActionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var ruleID sql.NullString
	if entry.RuleID != nil {
		ruleID = sql.NullString{String: *entry.RuleID, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO action_logs (id, rule_id, item_key, item_type, item_title, action_type, status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, ruleID, entry.ItemKey, string(entry.ItemType), entry.ItemTitle,
		string(entry.ActionType), string(entry.Status), entry.Details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert action log: %w", err)
	}

	return nil
}

// List returns the most recent entries, newest first.
func (s *PostgresActionLogStore) List(limit int) ([]*ActionLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, rule_id, item_key, item_type, item_title, action_type, status, details, created_at
		FROM action_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}
	defer rows.Close()

	var entries []*ActionLog
	for rows.Next() {
		var (
			e          ActionLog
			ruleID     sql.NullString
			itemType   string
			actionType string
			status     string
		)
		if err := rows.Scan(&e.ID, &ruleID, &e.ItemKey, &itemType, &e.ItemTitle,
			&actionType, &status, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}
		if ruleID.Valid {
			id := ruleID.String
			e.RuleID = &id
		}
		e.ItemType = ItemType(itemType)
		e.ActionType = ActionKind(actionType)
		e.Status = ActionStatus(status)
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action logs: %w", err)
	}

	return entries, nil
}

// PostgresLibraryStore implements LibraryStore backed by PostgreSQL.
type PostgresLibraryStore struct {
	db *sql.DB
}

// NewPostgresLibraryStore creates a new PostgreSQL-backed LibraryStore.
func NewPostgresLibraryStore(db *sql.DB) *PostgresLibraryStore {
	return &PostgresLibraryStore{db: db}
}

// Upsert inserts or refreshes a library, keyed by its source ID.
func (s *PostgresLibraryStore) Upsert(lib *Library) error {
	if lib.ID == "" {
		lib.ID = uuid.New().String()
	}
	now := time.Now()

	err := s.db.QueryRow(`
		INSERT INTO libraries (id, source_id, title, library_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (source_id) DO UPDATE
		SET title = EXCLUDED.title, library_type = EXCLUDED.library_type, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, lib.ID, lib.SourceID, lib.Title, string(lib.Type), now).Scan(&lib.ID, &lib.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert library: %w", err)
	}

	lib.UpdatedAt = now
	return nil
}

// Get retrieves a library by ID.
func (s *PostgresLibraryStore) Get(id string) (*Library, error) {
	var (
		lib     Library
		libType string
	)
	err := s.db.QueryRow(`
		SELECT id, source_id, title, library_type, created_at, updated_at
		FROM libraries
		WHERE id = $1
	`, id).Scan(&lib.ID, &lib.SourceID, &lib.Title, &libType, &lib.CreatedAt, &lib.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("library %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}

	lib.Type = LibraryType(libType)
	return &lib, nil
}

// List returns all libraries ordered by title.
func (s *PostgresLibraryStore) List() ([]*Library, error) {
	rows, err := s.db.Query(`
		SELECT id, source_id, title, library_type, created_at, updated_at
		FROM libraries
		ORDER BY title ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer rows.Close()

	var libraries []*Library
	for rows.Next() {
		var (
			lib     Library
			libType string
		)
		if err := rows.Scan(&lib.ID, &lib.SourceID, &lib.Title, &libType,
			&lib.CreatedAt, &lib.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan library: %w", err)
		}
		lib.Type = LibraryType(libType)
		libraries = append(libraries, &lib)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating libraries: %w", err)
	}

	return libraries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIntPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullTimePtr(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
