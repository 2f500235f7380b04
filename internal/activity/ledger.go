package activity

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// prepareAttempt validates an attempt before it is appended and fills its
// id and timestamp.
func prepareAttempt(a Attempt) (Attempt, error) {
	switch {
	case strings.TrimSpace(a.UserID) == "":
		return a, invalid("user_id is required")
	case strings.TrimSpace(a.QuestionID) == "":
		return a, invalid("activity_question_id is required")
	case a.Activity == "":
		return a, invalid("activity is required")
	case len(bytes.TrimSpace(a.Submission)) == 0:
		return a, invalid("attempt_order is required")
	case a.TimeTakenSeconds < 0:
		return a, invalid("time_taken_seconds must not be negative")
	case a.HintsUsed < 0:
		return a, invalid("hints_used must not be negative")
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.ClientMetadata == nil {
		a.ClientMetadata = map[string]any{}
	}
	return a, nil
}

// AttemptStats summarizes a set of attempts.
type AttemptStats struct {
	Total              int     `json:"total"`
	Successful         int     `json:"successful"`
	SuccessRate        float64 `json:"success_rate"` // percent, 0-100
	AverageTimeSeconds float64 `json:"average_time_seconds"`
	TotalStars         int     `json:"total_stars"`
}

// Summarize computes AttemptStats over attempts.
func Summarize(attempts []Attempt) AttemptStats {
	var st AttemptStats
	var totalTime float64
	for _, a := range attempts {
		st.Total++
		if a.Success {
			st.Successful++
		}
		totalTime += a.TimeTakenSeconds
		st.TotalStars += a.StarsEarned
	}
	if st.Total > 0 {
		st.SuccessRate = round2(float64(st.Successful) / float64(st.Total) * 100)
		st.AverageTimeSeconds = round2(totalTime / float64(st.Total))
	}
	return st
}

// ActivityStat is the per-activity attempt breakdown of an analytics window.
type ActivityStat struct {
	Activity           string  `json:"activity"`
	TotalAttempts      int     `json:"total_attempts"`
	SuccessfulAttempts int     `json:"successful_attempts"`
	TotalTimeSeconds   float64 `json:"total_time"`
	TotalStars         int     `json:"total_stars"`
}

// GroupByActivity aggregates attempts per activity, sorted by activity.
func GroupByActivity(attempts []Attempt) []ActivityStat {
	byActivity := make(map[string]*ActivityStat)
	for _, a := range attempts {
		st, ok := byActivity[a.Activity]
		if !ok {
			st = &ActivityStat{Activity: a.Activity}
			byActivity[a.Activity] = st
		}
		st.TotalAttempts++
		if a.Success {
			st.SuccessfulAttempts++
		}
		st.TotalTimeSeconds += a.TimeTakenSeconds
		st.TotalStars += a.StarsEarned
	}

	out := make([]ActivityStat, 0, len(byActivity))
	for _, st := range byActivity {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Activity < out[j].Activity })
	return out
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
