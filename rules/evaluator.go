package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// fieldKind is the value shape a condition field resolves to.
type fieldKind int

const (
	fieldNumber fieldKind = iota
	fieldString
	fieldStringList
)

// fieldSpec maps one condition field name to a typed accessor on Facts.
//
// neverPlayed marks "days since last played/watched" metrics: when the fact
// is absent the item was never played, which counts as infinitely stale for
// > and >= and as 0 for the remaining numeric operators. The flag is an
// explicit per-field declaration; new fields must opt in.
type fieldSpec struct {
	kind        fieldKind
	neverPlayed bool
	resolve     func(f *Facts) (any, bool)
}

var fieldTable = map[string]fieldSpec{
	"title": {kind: fieldString, resolve: func(f *Facts) (any, bool) {
		return f.Title, f.Title != ""
	}},
	"lastPlayedDays": {kind: fieldNumber, neverPlayed: true, resolve: func(f *Facts) (any, bool) {
		if f.LastPlayedDays == nil {
			return nil, false
		}
		return float64(*f.LastPlayedDays), true
	}},
	"inCollections": {kind: fieldStringList, resolve: func(f *Facts) (any, bool) {
		return f.InCollections, true
	}},
	"show_title": {kind: fieldString, resolve: func(f *Facts) (any, bool) {
		return f.ShowTitle, f.ShowTitle != ""
	}},
	"season_title": {kind: fieldString, resolve: func(f *Facts) (any, bool) {
		return f.Title, f.ItemType == ItemSeason && f.Title != ""
	}},
	"season_number": {kind: fieldNumber, resolve: func(f *Facts) (any, bool) {
		return float64(f.SeasonNumber), f.ItemType == ItemSeason
	}},
	"episode_count": {kind: fieldNumber, resolve: func(f *Facts) (any, bool) {
		return float64(f.EpisodeCount), f.ItemType == ItemSeason
	}},
	"lastWatchedEpisodeDays": {kind: fieldNumber, neverPlayed: true, resolve: func(f *Facts) (any, bool) {
		if f.LastWatchedEpisodeDays == nil {
			return nil, false
		}
		return float64(*f.LastWatchedEpisodeDays), true
	}},
	"lastWatchedEpisodeTitle": {kind: fieldString, resolve: func(f *Facts) (any, bool) {
		return f.LastWatchedEpisodeTitle, f.LastWatchedEpisodeTitle != ""
	}},
	"lastWatchedEpisodeNumber": {kind: fieldNumber, resolve: func(f *Facts) (any, bool) {
		return float64(f.LastWatchedEpisodeNumber), f.LastWatchedEpisodeNumber != 0
	}},
}

// fieldKey strips everything up to and including the first dot, so that
// "movie.lastPlayedDays" and "season.lastWatchedEpisodeDays" resolve by
// their suffix.
func fieldKey(field string) string {
	if i := strings.Index(field, "."); i >= 0 {
		return field[i+1:]
	}
	return field
}

// Evaluate tests a single condition against item facts. It never returns an
// error: malformed fields, operators, and values all degrade to false.
func Evaluate(cond Condition, facts *Facts) bool {
	if facts == nil {
		return false
	}

	spec, known := fieldTable[fieldKey(cond.Field)]
	var (
		value   any
		present bool
	)
	if known {
		value, present = spec.resolve(facts)
	}
	// Unknown field: fall through with an absent value so that IS_FALSE keeps
	// its vacuous semantics, and every other operator is false.

	switch cond.Operator {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual:
		return evaluateNumeric(cond.Operator, spec, known, value, present, cond.Value)
	case OpIsTrue:
		return truthy(value, present)
	case OpIsFalse:
		return !truthy(value, present)
	case OpIn:
		return evaluateIn(value, present, cond.Value)
	case OpNotIn:
		return evaluateNotIn(value, present, cond.Value)
	}
	return false
}

// EvaluateAll combines conditions with AND/OR logic. An empty condition list
// matches nothing. Unknown logic tokens default to AND.
func EvaluateAll(conds []Condition, logic Logic, facts *Facts) bool {
	if len(conds) == 0 {
		return false
	}
	if Logic(strings.ToUpper(string(logic))) == LogicOr {
		for _, c := range conds {
			if Evaluate(c, facts) {
				return true
			}
		}
		return false
	}
	for _, c := range conds {
		if !Evaluate(c, facts) {
			return false
		}
	}
	return true
}

func evaluateNumeric(op Operator, spec fieldSpec, known bool, value any, present bool, condValue any) bool {
	var factNum float64
	if !present {
		if !known || !spec.neverPlayed {
			return false
		}
		// Never played: infinitely stale for "older than" comparisons,
		// zero for the rest.
		switch op {
		case OpGreater, OpGreaterEqual:
			factNum = math.Inf(1)
		default:
			factNum = 0
		}
	} else {
		n, ok := toFloat(value)
		if !ok {
			return false
		}
		factNum = n
	}

	condNum, ok := toFloat(condValue)
	if !ok {
		condNum = 0
	}

	switch op {
	case OpGreater:
		return factNum > condNum
	case OpGreaterEqual:
		return factNum >= condNum
	case OpLess:
		return factNum < condNum
	case OpLessEqual:
		return factNum <= condNum
	case OpEqual:
		return factNum == condNum
	case OpNotEqual:
		return factNum != condNum
	}
	return false
}

func evaluateIn(value any, present bool, condValue any) bool {
	set, ok := asStringSet(value, present)
	if !ok {
		return false
	}
	wanted := conditionStrings(condValue)
	if len(wanted) == 0 {
		return false
	}
	for _, w := range wanted {
		if _, found := set[normalizeName(w)]; found {
			return true
		}
	}
	return false
}

func evaluateNotIn(value any, present bool, condValue any) bool {
	set, ok := asStringSet(value, present)
	if !ok {
		return false
	}
	wanted := conditionStrings(condValue)
	if len(wanted) == 0 {
		// Vacuously not-in.
		return true
	}
	for _, w := range wanted {
		if _, found := set[normalizeName(w)]; found {
			return false
		}
	}
	return true
}

func asStringSet(value any, present bool) (map[string]struct{}, bool) {
	if !present {
		return nil, false
	}
	list, ok := value.([]string)
	if !ok {
		return nil, false
	}
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		set[normalizeName(s)] = struct{}{}
	}
	return set, true
}

// conditionStrings flattens a condition value into its string elements. The
// value may be a single string or a list (JSON decoding yields []any).
func conditionStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	case []string:
		var out []string
		for _, s := range t {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		// Numeric strings coerce; anything else fails.
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(value any, present bool) bool {
	if !present {
		return false
	}
	switch t := value.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []string:
		return len(t) > 0
	}
	return false
}
