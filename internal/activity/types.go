// Package activity implements the activity progression engine: question
// catalog, attempt grading, the attempt ledger, per-user unlock state and
// the level/progress views built from them.
package activity

import (
	"encoding/json"
	"time"
)

// Built-in activity types. The set is open; any non-empty string is a
// valid activity key.
const (
	ActivityArrange     = "arrange"
	ActivityMatch       = "match"
	ActivityTapSequence = "tap_sequence"
)

// DisplayType selects how a question is presented and, for match, how it
// is graded.
type DisplayType string

const (
	DisplayDragDrop       DisplayType = "drag_drop"
	DisplayTapSequence    DisplayType = "tap_sequence"
	DisplayMultipleChoice DisplayType = "multiple_choice"
	DisplayMatch          DisplayType = "match"
	DisplayImageText      DisplayType = "image_text"
	DisplayTextImage      DisplayType = "text_image"
)

// Valid reports whether d is a known display type.
func (d DisplayType) Valid() bool {
	switch d {
	case DisplayDragDrop, DisplayTapSequence, DisplayMultipleChoice,
		DisplayMatch, DisplayImageText, DisplayTextImage:
		return true
	}
	return false
}

// Hint is a purchasable hint shown to the user.
type Hint struct {
	Type  string `json:"type" yaml:"type"` // text, reveal or audio
	Value string `json:"value" yaml:"value"`
	Cost  int    `json:"cost" yaml:"cost"`
}

// Presentation controls client rendering.
type Presentation struct {
	Shuffle     bool        `json:"shuffle" yaml:"shuffle"`
	DisplayType DisplayType `json:"display_type" yaml:"display_type"`
}

// MatchPair is one declared pair of a match question.
type MatchPair struct {
	QuestionValue string `json:"question_value" yaml:"question_value"`
	AnswerValue   string `json:"answer_value" yaml:"answer_value"`
	QuestionImage string `json:"question_image,omitempty" yaml:"question_image"`
	AnswerImage   string `json:"answer_image,omitempty" yaml:"answer_image"`
}

// Assets holds optional media references.
type Assets struct {
	AudioPrompt     string `json:"audio_prompt,omitempty" yaml:"audio_prompt"`
	ImageBackground string `json:"image_background,omitempty" yaml:"image_background"`
}

// Question is a catalog entry.
type Question struct {
	ID               string       `json:"id" yaml:"id"`
	Activity         string       `json:"activity" yaml:"activity"`
	Level            int          `json:"level" yaml:"level"`
	QuestionNo       int          `json:"question_no" yaml:"question_no"`
	Version          int          `json:"version" yaml:"version"`
	Locale           string       `json:"locale" yaml:"locale"`
	Items            []string     `json:"question_items" yaml:"question_items"`
	Answer           []string     `json:"answer" yaml:"answer"`
	Presentation     Presentation `json:"presentation" yaml:"presentation"`
	MatchPairs       []MatchPair  `json:"match_pairs" yaml:"match_pairs"`
	Hints            []Hint       `json:"hints" yaml:"hints"`
	TimeLimitSeconds int          `json:"time_limit_seconds" yaml:"time_limit_seconds"`
	StarsForPerfect  int          `json:"stars_for_perfect" yaml:"stars_for_perfect"`
	Difficulty       string       `json:"difficulty" yaml:"difficulty"`
	QuestionText     string       `json:"question_text" yaml:"question_text"`
	ImageURL         string       `json:"image_url" yaml:"image_url"`
	Assets           Assets       `json:"assets" yaml:"assets"`
	AnalyticsTags    []string     `json:"analytics_tags" yaml:"analytics_tags"`
	CreatedAt        time.Time    `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time    `json:"updated_at" yaml:"-"`
}

// Attempt is one graded submission. Activity, Level and QuestionNo are
// captured at submission time and never re-derived.
type Attempt struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	QuestionID       string          `json:"activity_question_id"`
	Activity         string          `json:"activity"`
	Level            int             `json:"level"`
	QuestionNo       int             `json:"question_no"`
	Submission       json.RawMessage `json:"attempt_order"`
	Success          bool            `json:"success"`
	TimeTakenSeconds float64         `json:"time_taken_seconds"`
	HintsUsed        int             `json:"hints_used"`
	StarsEarned      int             `json:"stars_earned"`
	ClientMetadata   map[string]any  `json:"client_metadata"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ActivityProgress is the unlock state for one activity.
type ActivityProgress struct {
	Level             int `json:"level"`
	HighestQuestionNo int `json:"highest_q_no"`
}

// UserProgress is the per-user unlock state across activities.
type UserProgress struct {
	UserID     string                      `json:"user_id"`
	Unlocked   map[string]ActivityProgress `json:"unlocked"`
	LastPlayed *time.Time                  `json:"last_played"`
	CreatedAt  time.Time                   `json:"created_at"`
	UpdatedAt  time.Time                   `json:"updated_at"`
}

// StarsSystem holds the reward-tier time thresholds in seconds.
type StarsSystem struct {
	PerfectTimeSeconds float64 `json:"perfect_time_seconds" yaml:"perfect_time_seconds"`
	GoodTimeSeconds    float64 `json:"good_time_seconds" yaml:"good_time_seconds"`
	PassTimeSeconds    float64 `json:"pass_time_seconds" yaml:"pass_time_seconds"`
}

// ActivityConfig holds per-activity grading and progression settings.
type ActivityConfig struct {
	Activity             string      `json:"activity" yaml:"activity"`
	DisplayName          string      `json:"display_name" yaml:"display_name"`
	Description          string      `json:"description" yaml:"description"`
	Enabled              bool        `json:"enabled" yaml:"enabled"`
	MaxLevels            int         `json:"max_levels" yaml:"max_levels"`
	QuestionsPerLevel    int         `json:"questions_per_level" yaml:"questions_per_level"`
	MinSuccessRate       float64     `json:"min_success_rate" yaml:"min_success_rate"`
	UnlockOnFirstSuccess bool        `json:"unlock_on_first_success" yaml:"unlock_on_first_success"`
	StarsSystem          StarsSystem `json:"stars_system" yaml:"stars_system"`
	CreatedAt            time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt            time.Time   `json:"updated_at" yaml:"-"`
}

// QuestionFilter narrows catalog listings. Zero values match everything.
type QuestionFilter struct {
	Activity string
	Level    int
}

// AdminQuestionQuery is the admin listing query with search and paging.
type AdminQuestionQuery struct {
	Activity string
	Level    int
	Locale   string
	Search   string
	Page     int
	Limit    int
}

// AttemptFilter narrows ledger queries. Zero values match everything.
type AttemptFilter struct {
	UserID   string
	Activity string
	Level    int
	Success  *bool
	Since    time.Time
	Limit    int
}

// Matches reports whether the attempt satisfies f, ignoring Limit.
func (f AttemptFilter) Matches(a Attempt) bool {
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.Activity != "" && a.Activity != f.Activity {
		return false
	}
	if f.Level != 0 && a.Level != f.Level {
		return false
	}
	if f.Success != nil && a.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
