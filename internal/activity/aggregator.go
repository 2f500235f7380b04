package activity

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultDifficulty maps a level number to its difficulty label: levels 1-2
// are easy, 3-4 medium, 5 and above hard.
func DefaultDifficulty(level int) string {
	switch {
	case level > 4:
		return "hard"
	case level > 2:
		return "medium"
	default:
		return "easy"
	}
}

// LevelSummary is one level of an activity as seen by a user.
type LevelSummary struct {
	Level              int    `json:"level"`
	Title              string `json:"title"`
	TotalQuestions     int    `json:"total_questions"`
	CompletedQuestions int    `json:"completed_questions"`
	IsCompleted        bool   `json:"is_completed"`
	Difficulty         string `json:"difficulty"`
	IsUnlocked         bool   `json:"is_unlocked"`
	IsCurrent          bool   `json:"is_current"`
}

// LevelsProgress is the user's position within an activity.
type LevelsProgress struct {
	CurrentLevel      int `json:"current_level"`
	HighestQuestionNo int `json:"highest_question_no"`
	TotalLevels       int `json:"total_levels"`
}

// LevelsView is the level list of an activity for one user.
type LevelsView struct {
	Levels       []LevelSummary `json:"levels"`
	UserProgress LevelsProgress `json:"user_progress"`
}

// QuestionProgress is a question annotated with the user's completion.
type QuestionProgress struct {
	Question
	Completed bool `json:"completed"`
}

// LevelProgress summarises the user's completion of one level.
type LevelProgress struct {
	CompletedQuestions       int   `json:"completed_questions"`
	TotalQuestions           int   `json:"total_questions"`
	CurrentLevel             int   `json:"current_level"`
	HighestQuestionNo        int   `json:"highest_question_no"`
	CompletedQuestionNumbers []int `json:"completed_question_numbers"`
}

// QuestionsView is the question list of one level for one user.
type QuestionsView struct {
	Questions           []QuestionProgress `json:"questions"`
	NextIncompleteIndex int                `json:"next_incomplete_index"`
	Progress            LevelProgress      `json:"progress"`
}

// GetLevels lists the levels of an activity with the user's completion of
// each. An activity without questions is ErrNotFound.
func (e *Engine) GetLevels(ctx context.Context, userID, activity string) (LevelsView, error) {
	userID, activity = strings.TrimSpace(userID), strings.TrimSpace(activity)
	if userID == "" || activity == "" {
		return LevelsView{}, invalid("user_id and activity are required")
	}

	var (
		questions []Question
		attempts  []Attempt
		entry     ActivityProgress
	)
	succeeded := true

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		questions, err = e.store.ListQuestions(gctx, QuestionFilter{Activity: activity})
		return err
	})
	g.Go(func() error {
		var err error
		attempts, err = e.store.QueryAttempts(gctx, AttemptFilter{UserID: userID, Activity: activity, Success: &succeeded})
		return err
	})
	g.Go(func() error {
		var err error
		entry, err = e.activityProgress(gctx, userID, activity)
		return err
	})
	if err := g.Wait(); err != nil {
		return LevelsView{}, err
	}
	if len(questions) == 0 {
		return LevelsView{}, notFound("no questions for activity %s", activity)
	}

	done := make(map[int][]int)
	for _, a := range attempts {
		done[a.Level] = append(done[a.Level], a.QuestionNo)
	}

	byLevel := make(map[int][]Question)
	var levels []int
	for _, q := range questions {
		if _, ok := byLevel[q.Level]; !ok {
			levels = append(levels, q.Level)
		}
		byLevel[q.Level] = append(byLevel[q.Level], q)
	}
	slices.Sort(levels)

	view := LevelsView{Levels: make([]LevelSummary, 0, len(levels))}
	for _, level := range levels {
		completed, total := countCompleted(byLevel[level], done[level])
		view.Levels = append(view.Levels, LevelSummary{
			Level:              level,
			Title:              fmt.Sprintf("Level %d", level),
			TotalQuestions:     total,
			CompletedQuestions: completed,
			IsCompleted:        total > 0 && completed == total,
			Difficulty:         e.difficulty(level),
			IsUnlocked:         true,
			IsCurrent:          level == entry.Level,
		})
	}
	view.UserProgress = LevelsProgress{
		CurrentLevel:      entry.Level,
		HighestQuestionNo: entry.HighestQuestionNo,
		TotalLevels:       len(view.Levels),
	}
	return view, nil
}

// GetQuestionsWithProgress lists the questions of one level, each flagged
// with whether the user has solved it, plus the index of the first unsolved
// one (the last index when all are solved).
func (e *Engine) GetQuestionsWithProgress(ctx context.Context, userID, activity string, level int) (QuestionsView, error) {
	userID, activity = strings.TrimSpace(userID), strings.TrimSpace(activity)
	switch {
	case userID == "":
		return QuestionsView{}, invalid("user_id is required")
	case activity == "":
		return QuestionsView{}, invalid("activity is required")
	case level < 1:
		return QuestionsView{}, invalid("level must be a positive integer")
	}

	var (
		questions []Question
		doneNos   []int
		entry     ActivityProgress
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		questions, err = e.store.ListQuestions(gctx, QuestionFilter{Activity: activity, Level: level})
		return err
	})
	g.Go(func() error {
		var err error
		doneNos, err = e.store.DistinctQuestionNumbers(gctx, userID, activity, level)
		return err
	})
	g.Go(func() error {
		var err error
		entry, err = e.activityProgress(gctx, userID, activity)
		return err
	})
	if err := g.Wait(); err != nil {
		return QuestionsView{}, err
	}
	if len(questions) == 0 {
		return QuestionsView{}, notFound("no questions for activity %s level %d", activity, level)
	}

	done := make(map[int]bool, len(doneNos))
	for _, n := range doneNos {
		done[n] = true
	}

	view := QuestionsView{
		Questions:           make([]QuestionProgress, 0, len(questions)),
		NextIncompleteIndex: len(questions) - 1,
	}
	found := false
	for i, q := range questions {
		if q.QuestionText == "" {
			q.QuestionText = fmt.Sprintf("Level %d - Question %d", q.Level, q.QuestionNo)
		}
		completed := done[q.QuestionNo]
		if !completed && !found {
			view.NextIncompleteIndex = i
			found = true
		}
		view.Questions = append(view.Questions, QuestionProgress{Question: q, Completed: completed})
	}
	if doneNos == nil {
		doneNos = []int{}
	}
	view.Progress = LevelProgress{
		CompletedQuestions:       len(doneNos),
		TotalQuestions:           len(questions),
		CurrentLevel:             entry.Level,
		HighestQuestionNo:        entry.HighestQuestionNo,
		CompletedQuestionNumbers: doneNos,
	}
	return view, nil
}

// activityProgress returns the user's entry for activity, or level 1 with
// nothing solved when there is none.
func (e *Engine) activityProgress(ctx context.Context, userID, activity string) (ActivityProgress, error) {
	p, ok, err := e.store.GetProgress(ctx, userID)
	if err != nil {
		return ActivityProgress{}, err
	}
	if entry, found := p.Unlocked[activity]; ok && found {
		return entry, nil
	}
	return ActivityProgress{Level: 1}, nil
}
