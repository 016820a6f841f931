package rules

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotConfigured is returned by a CollaboratorFactory when the media source
// has no usable configuration. A scan against an unconfigured source is a
// silent no-op.
var ErrNotConfigured = errors.New("media source not configured")

// Logic combines the results of a rule's conditions.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpIsTrue       Operator = "IS_TRUE"
	OpIsFalse      Operator = "IS_FALSE"
	OpIn           Operator = "IN"
	OpNotIn        Operator = "NOT_IN"
)

// Condition is a single field/operator/value test against item facts.
// Field is a dotted name such as "movie.lastPlayedDays"; only the suffix
// after the first dot is resolved against the facts. Value may be a number,
// a string, a list of strings, or absent.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// ActionKind identifies an action variant. The set is closed; unknown kinds
// reaching the executor hit an explicit logged no-op branch.
type ActionKind string

const (
	ActionAddToCollection      ActionKind = "ADD_TO_COLLECTION"
	ActionRemoveFromCollection ActionKind = "REMOVE_FROM_COLLECTION"
	ActionSetTitleFormat       ActionKind = "SET_TITLE_FORMAT"
	ActionClearTitleFormat     ActionKind = "CLEAR_TITLE_FORMAT"
	ActionDeleteViaRadarr      ActionKind = "DELETE_VIA_RADARR"
	ActionDeleteViaSonarr      ActionKind = "DELETE_VIA_SONARR"
	ActionDeleteInPlex         ActionKind = "DELETE_IN_PLEX"
)

// Action is one side effect a rule applies to a matching item. DelayDays is
// only meaningful on delayed actions; CollectionName and TitleFormat are
// only meaningful for the collection and title kinds respectively.
type Action struct {
	Kind           ActionKind `json:"type"`
	DelayDays      int        `json:"delay_days,omitempty"`
	CollectionName string     `json:"collection_name,omitempty"`
	TitleFormat    string     `json:"title_format,omitempty"`
}

// ActionSet holds a rule's ordered immediate and delayed action lists.
type ActionSet struct {
	Immediate []Action `json:"immediate"`
	Delayed   []Action `json:"delayed"`
}

// Rule is a user-defined condition set plus action lists applied to one
// library. Rules are immutable during a single scan execution.
type Rule struct {
	ID         string      `json:"id"`
	LibraryID  string      `json:"library_id"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	DryRun     bool        `json:"dry_run"`
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
	Actions    ActionSet   `json:"actions"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// MaxDelayDays returns the largest delay over the rule's delayed actions.
func (r *Rule) MaxDelayDays() int {
	return maxDelayDays(r.Actions.Delayed)
}

func maxDelayDays(actions []Action) int {
	max := 0
	for _, a := range actions {
		if a.DelayDays > max {
			max = a.DelayDays
		}
	}
	return max
}

// ScheduledDate computes the due time for a candidate created at now from
// the given delayed actions. Returns nil when every action has zero delay:
// such candidates have no delayed phase to schedule.
func ScheduledDate(now time.Time, delayed []Action) *time.Time {
	max := maxDelayDays(delayed)
	if max <= 0 {
		return nil
	}
	due := now.AddDate(0, 0, max)
	return &due
}

// ItemType distinguishes the two evaluated item kinds.
type ItemType string

const (
	ItemMovie  ItemType = "movie"
	ItemSeason ItemType = "season"
)

// Facts is the per-item snapshot a rule evaluates against. It is assembled
// fresh by the media source for each evaluation and never persisted.
//
// LastPlayedDays and LastWatchedEpisodeDays are nil when the item was never
// played; the evaluator treats that as infinitely stale for the > and >=
// operators (see the field table in evaluator.go).
type Facts struct {
	Key      string
	ItemType ItemType

	// Title is the movie title, or the season-only title for seasons
	// (never the show title).
	Title string

	LastPlayedDays *int

	// Season-only fields.
	ShowTitle                string
	SeasonNumber             int
	EpisodeCount             int
	LastWatchedEpisodeDays   *int
	LastWatchedEpisodeTitle  string
	LastWatchedEpisodeNumber int
	LastWatchedEpisodeDate   *time.Time

	// InCollections is the set of collection names the item belongs to.
	// For seasons it is the union of the parent show's collections and any
	// collection containing either the show or the season itself.
	InCollections []string
}

// ActionStatus reports the outcome of one executed action.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusFailed  ActionStatus = "failed"
	StatusDryRun  ActionStatus = "dry_run"
)

// ActionResult records one action execution attempt against one item.
type ActionResult struct {
	ActionType ActionKind   `json:"action_type"`
	Status     ActionStatus `json:"status"`
	Message    string       `json:"message"`
}

// Candidate is a matched item awaiting execution of its delayed actions.
// Exactly one candidate exists per (rule, matched item) pair, carrying the
// full delayed action list; ScheduledAt is nil when all delays are zero.
type Candidate struct {
	ID                       string     `json:"id"`
	RuleID                   string     `json:"rule_id"`
	ItemKey                  string     `json:"item_key"`
	ItemType                 ItemType   `json:"item_type"`
	ItemTitle                string     `json:"item_title"`
	ShowTitle                string     `json:"show_title,omitempty"`
	SeasonNumber             *int       `json:"season_number,omitempty"`
	EpisodeCount             *int       `json:"episode_count,omitempty"`
	LastWatchedEpisodeTitle  string     `json:"last_watched_episode_title,omitempty"`
	LastWatchedEpisodeNumber *int       `json:"last_watched_episode_number,omitempty"`
	LastWatchedEpisodeDate   *time.Time `json:"last_watched_episode_date,omitempty"`
	Reason                   string     `json:"reason"`
	Actions                  []Action   `json:"actions"`
	ScheduledAt              *time.Time `json:"scheduled_at,omitempty"`
	Cancelled                bool       `json:"cancelled"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// ActionLog is one append-only record of an executed (or simulated) action.
// RuleID is nullable: scheduler-written entries may outlive their rule.
type ActionLog struct {
	ID         string       `json:"id"`
	RuleID     *string      `json:"rule_id,omitempty"`
	ItemKey    string       `json:"item_key"`
	ItemType   ItemType     `json:"item_type"`
	ItemTitle  string       `json:"item_title"`
	ActionType ActionKind   `json:"action_type"`
	Status     ActionStatus `json:"status"`
	Details    string       `json:"details,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// LibraryType distinguishes movie libraries from show libraries.
type LibraryType string

const (
	LibraryMovie LibraryType = "movie"
	LibraryShow  LibraryType = "show"
)

// Library is a media-source library section that rules can target.
type Library struct {
	ID        string      `json:"id"`
	SourceID  string      `json:"source_id"`
	Title     string      `json:"title"`
	Type      LibraryType `json:"library_type"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ConflictError is a user-visible conflict (for example, adding a show to a
// collection that already holds seasons of other shows). It is distinct from
// transient collaborator failures and carries a human-readable message.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ValidationError reports a rule that failed validation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid rule: %s", e.Message) }
