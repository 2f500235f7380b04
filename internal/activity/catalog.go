package activity

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

const (
	defaultStarsForPerfect = 3
	defaultLocale          = "en"
	defaultDifficulty      = "easy"
	defaultVersion         = 1
)

var validDifficulties = map[string]bool{"easy": true, "medium": true, "hard": true}

var validHintTypes = map[string]bool{"text": true, "reveal": true, "audio": true}

// NormalizeQuestion fills defaults and validates q. It is applied on every
// create, update and import.
func NormalizeQuestion(q Question) (Question, error) {
	q.ID = strings.TrimSpace(q.ID)
	q.Activity = strings.TrimSpace(q.Activity)

	switch {
	case q.ID == "":
		return q, invalid("id is required")
	case q.Activity == "":
		return q, invalid("activity is required")
	case q.Level < 1:
		return q, invalid("level must be a positive integer, got %d", q.Level)
	case q.QuestionNo < 1:
		return q, invalid("question_no must be a positive integer, got %d", q.QuestionNo)
	}

	if q.Version == 0 {
		q.Version = defaultVersion
	}
	if q.Locale == "" {
		q.Locale = defaultLocale
	}
	if q.Difficulty == "" {
		q.Difficulty = defaultDifficulty
	}
	if !validDifficulties[q.Difficulty] {
		return q, invalid("difficulty %q must be easy, medium or hard", q.Difficulty)
	}
	if q.StarsForPerfect == 0 {
		q.StarsForPerfect = defaultStarsForPerfect
	}
	if q.StarsForPerfect < 1 || q.StarsForPerfect > 3 {
		return q, invalid("stars_for_perfect must be between 1 and 3, got %d", q.StarsForPerfect)
	}
	if q.Presentation.DisplayType == "" {
		q.Presentation.DisplayType = DisplayDragDrop
	}
	if !q.Presentation.DisplayType.Valid() {
		return q, invalid("unknown display_type %q", q.Presentation.DisplayType)
	}
	if q.TimeLimitSeconds < 0 {
		return q, invalid("time_limit_seconds must not be negative")
	}
	for i, h := range q.Hints {
		if !validHintTypes[h.Type] {
			return q, invalid("hints[%d]: unknown type %q", i, h.Type)
		}
		if h.Value == "" {
			return q, invalid("hints[%d]: value is required", i)
		}
	}
	if q.Items == nil {
		q.Items = []string{}
	}
	if q.Answer == nil {
		q.Answer = []string{}
	}
	if len(q.Answer) == 0 && !q.isMatch() {
		return q, invalid("answer is required")
	}
	if q.Hints == nil {
		q.Hints = []Hint{}
	}
	if q.MatchPairs == nil {
		q.MatchPairs = []MatchPair{}
	}
	if q.AnalyticsTags == nil {
		q.AnalyticsTags = []string{}
	}
	return q, nil
}

func (q Question) isMatch() bool {
	return q.Presentation.DisplayType == DisplayMatch && len(q.MatchPairs) > 0
}

// Canonical reduces questions to one per (activity, level, question_no):
// the highest version wins, ties go to the smallest id. The result is
// sorted by (activity, level, question_no).
func Canonical(questions []Question) []Question {
	type slot struct {
		activity string
		level    int
		no       int
	}
	best := make(map[slot]Question, len(questions))
	for _, q := range questions {
		k := slot{q.Activity, q.Level, q.QuestionNo}
		cur, ok := best[k]
		if !ok || q.Version > cur.Version || (q.Version == cur.Version && q.ID < cur.ID) {
			best[k] = q
		}
	}

	out := make([]Question, 0, len(best))
	for _, q := range best {
		out = append(out, q)
	}
	SortQuestions(out)
	return out
}

// SortQuestions orders by (activity, level, question_no, id).
func SortQuestions(qs []Question) {
	sort.Slice(qs, func(i, j int) bool {
		a, b := qs[i], qs[j]
		if a.Activity != b.Activity {
			return a.Activity < b.Activity
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.QuestionNo != b.QuestionNo {
			return a.QuestionNo < b.QuestionNo
		}
		return a.ID < b.ID
	})
}

// MatchesFilter reports whether q satisfies f.
func (f QuestionFilter) MatchesFilter(q Question) bool {
	if f.Activity != "" && q.Activity != f.Activity {
		return false
	}
	if f.Level != 0 && q.Level != f.Level {
		return false
	}
	return true
}

// Matches reports whether q satisfies the admin query, ignoring paging.
// Search is a case-insensitive substring match over question text, id and
// activity.
func (aq AdminQuestionQuery) Matches(q Question) bool {
	if !(QuestionFilter{Activity: aq.Activity, Level: aq.Level}).MatchesFilter(q) {
		return false
	}
	if aq.Locale != "" && q.Locale != aq.Locale {
		return false
	}
	if aq.Search == "" {
		return true
	}
	folder := cases.Fold()
	needle := folder.String(aq.Search)
	for _, hay := range []string{q.QuestionText, q.ID, q.Activity} {
		if strings.Contains(folder.String(hay), needle) {
			return true
		}
	}
	return false
}

// Paging returns the normalized page and limit plus the slice offset.
func (aq AdminQuestionQuery) Paging() (page, limit, offset int) {
	page, limit = aq.Page, aq.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	return page, limit, (page - 1) * limit
}

// NormalizeConfig fills defaults and validates c.
func NormalizeConfig(c ActivityConfig) (ActivityConfig, error) {
	c.Activity = strings.TrimSpace(c.Activity)
	if c.Activity == "" {
		return c, invalid("activity is required")
	}
	if strings.TrimSpace(c.DisplayName) == "" {
		return c, invalid("display_name is required")
	}
	if c.MaxLevels == 0 {
		c.MaxLevels = 10
	}
	if c.QuestionsPerLevel == 0 {
		c.QuestionsPerLevel = 5
	}
	if c.MinSuccessRate == 0 {
		c.MinSuccessRate = 0.7
	}
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 1 {
		return c, invalid("min_success_rate must be between 0 and 1")
	}
	c.StarsSystem = c.StarsSystem.withDefaults()
	if c.StarsSystem.PassTimeSeconds == 0 {
		c.StarsSystem.PassTimeSeconds = 120
	}
	if c.StarsSystem.GoodTimeSeconds < c.StarsSystem.PerfectTimeSeconds {
		return c, invalid("good_time_seconds must not be below perfect_time_seconds")
	}
	return c, nil
}

// DefaultConfigs are the configs installed for the built-in activities
// when no config exists yet.
func DefaultConfigs() []ActivityConfig {
	return []ActivityConfig{
		{
			Activity:          ActivityArrange,
			DisplayName:       "Arrange Items",
			Description:       "Arrange items in the correct order",
			Enabled:           true,
			MaxLevels:         10,
			QuestionsPerLevel: 5,
			MinSuccessRate:    0.7,
			StarsSystem:       StarsSystem{PerfectTimeSeconds: 30, GoodTimeSeconds: 60, PassTimeSeconds: 120},
		},
		{
			Activity:          ActivityMatch,
			DisplayName:       "Match Pairs",
			Description:       "Match items with their corresponding pairs",
			Enabled:           true,
			MaxLevels:         10,
			QuestionsPerLevel: 5,
			MinSuccessRate:    0.7,
			StarsSystem:       StarsSystem{PerfectTimeSeconds: 40, GoodTimeSeconds: 80, PassTimeSeconds: 150},
		},
		{
			Activity:          ActivityTapSequence,
			DisplayName:       "Tap Sequence",
			Description:       "Tap items in the correct sequence",
			Enabled:           true,
			MaxLevels:         10,
			QuestionsPerLevel: 5,
			MinSuccessRate:    0.7,
			StarsSystem:       StarsSystem{PerfectTimeSeconds: 25, GoodTimeSeconds: 50, PassTimeSeconds: 100},
		},
	}
}

func touch(created, updated *time.Time, now time.Time) {
	if created.IsZero() {
		*created = now
	}
	*updated = now
}
