package rules

import (
	"testing"
	"time"
)

// TestEvaluateNumericOperators verifies comparisons against lastPlayedDays.
func TestEvaluateNumericOperators(t *testing.T) {
	facts := &Facts{Key: "m1", ItemType: ItemMovie, Title: "Heat", LastPlayedDays: intp(90)}

	testCases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"Greater true", Condition{Field: "movie.lastPlayedDays", Operator: OpGreater, Value: 60}, true},
		{"Greater false", Condition{Field: "movie.lastPlayedDays", Operator: OpGreater, Value: 90}, false},
		{"GreaterEqual boundary", Condition{Field: "movie.lastPlayedDays", Operator: OpGreaterEqual, Value: 90}, true},
		{"Less true", Condition{Field: "movie.lastPlayedDays", Operator: OpLess, Value: 120}, true},
		{"LessEqual boundary", Condition{Field: "movie.lastPlayedDays", Operator: OpLessEqual, Value: 90}, true},
		{"Equal", Condition{Field: "movie.lastPlayedDays", Operator: OpEqual, Value: 90}, true},
		{"NotEqual", Condition{Field: "movie.lastPlayedDays", Operator: OpNotEqual, Value: 90}, false},
		{"Float value from JSON", Condition{Field: "movie.lastPlayedDays", Operator: OpGreater, Value: 89.5}, true},
		{"Numeric string value", Condition{Field: "movie.lastPlayedDays", Operator: OpGreater, Value: "60"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.cond, facts)
			if got != tc.want {
				t.Errorf("Evaluate(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

// TestEvaluateNeverPlayed verifies that a nil lastPlayedDays counts as
// infinitely stale for > and >= and as zero for the other numeric operators.
func TestEvaluateNeverPlayed(t *testing.T) {
	facts := &Facts{Key: "m1", ItemType: ItemMovie, Title: "Heat", LastPlayedDays: nil}

	testCases := []struct {
		name string
		op   Operator
		want bool
	}{
		{"Greater matches any threshold", OpGreater, true},
		{"GreaterEqual matches any threshold", OpGreaterEqual, true},
		{"Less treats as zero", OpLess, true},
		{"LessEqual treats as zero", OpLessEqual, true},
		{"Equal treats as zero", OpEqual, false},
		{"NotEqual treats as zero", OpNotEqual, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(Condition{Field: "movie.lastPlayedDays", Operator: tc.op, Value: 365}, facts)
			if got != tc.want {
				t.Errorf("Evaluate(lastPlayedDays %s 365) with nil fact = %v, want %v", tc.op, got, tc.want)
			}
		})
	}
}

// TestEvaluateNeverPlayedOnlyOnWatchFields verifies that the never-played
// sentinel does not leak into ordinary numeric fields.
func TestEvaluateNeverPlayedOnlyOnWatchFields(t *testing.T) {
	// A movie item: season_number resolves as absent, not as never-played.
	facts := &Facts{Key: "m1", ItemType: ItemMovie, Title: "Heat"}

	got := Evaluate(Condition{Field: "season.season_number", Operator: OpGreater, Value: 0}, facts)
	if got {
		t.Error("absent season_number should not evaluate like a never-played metric")
	}
}

// TestEvaluateSeasonFields verifies the season-only fields resolve for
// seasons and stay absent for movies.
func TestEvaluateSeasonFields(t *testing.T) {
	watched := 12
	seasonFacts := &Facts{
		Key:                      "s1",
		ItemType:                 ItemSeason,
		Title:                    "Season 2",
		ShowTitle:                "The Wire",
		SeasonNumber:             2,
		EpisodeCount:             12,
		LastWatchedEpisodeDays:   &watched,
		LastWatchedEpisodeTitle:  "Port in a Storm",
		LastWatchedEpisodeNumber: 12,
	}

	testCases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"show_title IN", Condition{Field: "season.show_title", Operator: OpIn, Value: []any{"The Wire"}}, true},
		{"season_title equals via IN", Condition{Field: "season.season_title", Operator: OpIn, Value: []any{"Season 2"}}, true},
		{"season_number", Condition{Field: "season.season_number", Operator: OpEqual, Value: 2}, true},
		{"episode_count", Condition{Field: "season.episode_count", Operator: OpGreaterEqual, Value: 10}, true},
		{"lastWatchedEpisodeDays", Condition{Field: "season.lastWatchedEpisodeDays", Operator: OpGreater, Value: 7}, true},
		{"lastWatchedEpisodeNumber", Condition{Field: "season.lastWatchedEpisodeNumber", Operator: OpEqual, Value: 12}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.cond, seasonFacts)
			if got != tc.want {
				t.Errorf("Evaluate(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}

	movieFacts := &Facts{Key: "m1", ItemType: ItemMovie, Title: "Season 2"}
	if Evaluate(Condition{Field: "season.season_title", Operator: OpIn, Value: []any{"Season 2"}}, movieFacts) {
		t.Error("season_title should not resolve for a movie item")
	}
}

// TestEvaluateInCollections verifies IN/NOT_IN membership semantics.
func TestEvaluateInCollections(t *testing.T) {
	facts := &Facts{
		Key:           "m1",
		ItemType:      ItemMovie,
		Title:         "Heat",
		InCollections: []string{"Keep", "Favorites"},
	}

	testCases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"IN match", Condition{Field: "movie.inCollections", Operator: OpIn, Value: []any{"Keep"}}, true},
		{"IN no match", Condition{Field: "movie.inCollections", Operator: OpIn, Value: []any{"Watched"}}, false},
		{"IN case-insensitive", Condition{Field: "movie.inCollections", Operator: OpIn, Value: []any{"keep"}}, true},
		{"IN trims whitespace", Condition{Field: "movie.inCollections", Operator: OpIn, Value: []any{"  Keep  "}}, true},
		{"IN single string value", Condition{Field: "movie.inCollections", Operator: OpIn, Value: "Favorites"}, true},
		{"IN empty value list", Condition{Field: "movie.inCollections", Operator: OpIn, Value: []any{}}, false},
		{"NOT_IN no overlap", Condition{Field: "movie.inCollections", Operator: OpNotIn, Value: []any{"Watched"}}, true},
		{"NOT_IN overlap", Condition{Field: "movie.inCollections", Operator: OpNotIn, Value: []any{"Keep"}}, false},
		{"NOT_IN empty value vacuously true", Condition{Field: "movie.inCollections", Operator: OpNotIn, Value: []any{}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.cond, facts)
			if got != tc.want {
				t.Errorf("Evaluate(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

// TestEvaluateTruthiness verifies IS_TRUE / IS_FALSE against various shapes.
func TestEvaluateTruthiness(t *testing.T) {
	withCollections := &Facts{Key: "m1", ItemType: ItemMovie, Title: "Heat", InCollections: []string{"Keep"}}
	empty := &Facts{Key: "m2", ItemType: ItemMovie, Title: "Ronin"}

	if !Evaluate(Condition{Field: "movie.inCollections", Operator: OpIsTrue}, withCollections) {
		t.Error("IS_TRUE on non-empty collections should match")
	}
	if Evaluate(Condition{Field: "movie.inCollections", Operator: OpIsTrue}, empty) {
		t.Error("IS_TRUE on empty collections should not match")
	}
	if !Evaluate(Condition{Field: "movie.inCollections", Operator: OpIsFalse}, empty) {
		t.Error("IS_FALSE on empty collections should match")
	}
	if !Evaluate(Condition{Field: "movie.unknownField", Operator: OpIsFalse}, empty) {
		t.Error("IS_FALSE on an unknown field should match (absent is falsy)")
	}
}

// TestEvaluateUnknownFieldAndOperator verifies the degrade-to-false paths.
func TestEvaluateUnknownFieldAndOperator(t *testing.T) {
	facts := &Facts{Key: "m1", ItemType: ItemMovie, Title: "Heat", LastPlayedDays: intp(90)}

	if Evaluate(Condition{Field: "movie.nonsense", Operator: OpGreater, Value: 1}, facts) {
		t.Error("unknown field should evaluate to false")
	}
	if Evaluate(Condition{Field: "movie.lastPlayedDays", Operator: "CONTAINS", Value: 1}, facts) {
		t.Error("unknown operator should evaluate to false")
	}
	if Evaluate(Condition{Field: "movie.lastPlayedDays", Operator: OpGreater, Value: 1}, nil) {
		t.Error("nil facts should evaluate to false")
	}
}

// TestFieldKeySuffixResolution verifies that only the suffix after the first
// dot selects the field.
func TestFieldKeySuffixResolution(t *testing.T) {
	facts := &Facts{Key: "m1", ItemType: ItemMovie, Title: "Heat", LastPlayedDays: intp(90)}

	testCases := []struct {
		field string
		want  bool
	}{
		{"movie.lastPlayedDays", true},
		{"season.lastPlayedDays", true},
		{"lastPlayedDays", true},
		{"movie.title.lastPlayedDays", false}, // suffix is "title.lastPlayedDays"
	}

	for _, tc := range testCases {
		got := Evaluate(Condition{Field: tc.field, Operator: OpGreater, Value: 30}, facts)
		if got != tc.want {
			t.Errorf("Evaluate(field=%q) = %v, want %v", tc.field, got, tc.want)
		}
	}
}

// TestEvaluateAll verifies AND/OR combination and the empty-conditions rule.
func TestEvaluateAll(t *testing.T) {
	facts := &Facts{
		Key:            "m1",
		ItemType:       ItemMovie,
		Title:          "Heat",
		LastPlayedDays: intp(90),
		InCollections:  []string{"Keep"},
	}

	match := Condition{Field: "movie.lastPlayedDays", Operator: OpGreater, Value: 30}
	miss := Condition{Field: "movie.inCollections", Operator: OpNotIn, Value: []any{"Keep"}}

	testCases := []struct {
		name  string
		conds []Condition
		logic Logic
		want  bool
	}{
		{"AND all match", []Condition{match, match}, LogicAnd, true},
		{"AND one misses", []Condition{match, miss}, LogicAnd, false},
		{"OR one matches", []Condition{miss, match}, LogicOr, true},
		{"OR none match", []Condition{miss, miss}, LogicOr, false},
		{"Empty conditions never match", nil, LogicAnd, false},
		{"Unknown logic defaults to AND", []Condition{match, miss}, Logic("XOR"), false},
		{"Lowercase or accepted", []Condition{miss, match}, Logic("or"), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateAll(tc.conds, tc.logic, facts)
			if got != tc.want {
				t.Errorf("EvaluateAll(logic=%s) = %v, want %v", tc.logic, got, tc.want)
			}
		})
	}
}

// TestScheduledDate verifies due-date computation from delayed actions.
func TestScheduledDate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		delayed []Action
		want    *time.Time
	}{
		{"No delayed actions", nil, nil},
		{"All zero delays", []Action{{Kind: ActionDeleteInPlex}}, nil},
		{
			"Max delay wins",
			[]Action{
				{Kind: ActionRemoveFromCollection, CollectionName: "Leaving Soon", DelayDays: 7},
				{Kind: ActionDeleteViaRadarr, DelayDays: 30},
			},
			timep(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ScheduledDate(now, tc.delayed)
			switch {
			case tc.want == nil && got != nil:
				t.Errorf("ScheduledDate() = %v, want nil", got)
			case tc.want != nil && got == nil:
				t.Errorf("ScheduledDate() = nil, want %v", tc.want)
			case tc.want != nil && !got.Equal(*tc.want):
				t.Errorf("ScheduledDate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func timep(t time.Time) *time.Time { return &t }
