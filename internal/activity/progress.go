package activity

import (
	"context"
	"fmt"
	"time"
)

// AdvanceProgress applies a successful attempt on q to the user's unlock
// state inside tx:
//
//  1. load or create the user's progress;
//  2. the first success in an activity initialises it at q's level and
//     question number and stops;
//  3. otherwise the highest question number is raised to q's if larger;
//  4. when every question of the current level has a successful attempt,
//     the level advances by one and the highest question number resets;
//  5. last played is stamped and the entry saved.
//
// The caller serialises calls per (user, activity).
func AdvanceProgress(ctx context.Context, tx Tx, userID string, q Question, now time.Time) (UserProgress, error) {
	progress, err := tx.LockProgress(ctx, userID)
	if err != nil {
		return UserProgress{}, fmt.Errorf("lock progress: %w", err)
	}

	entry, ok := progress.Unlocked[q.Activity]
	if !ok {
		entry = ActivityProgress{Level: q.Level, HighestQuestionNo: q.QuestionNo}
	} else {
		entry.HighestQuestionNo = max(entry.HighestQuestionNo, q.QuestionNo)

		complete, err := levelCompleteTx(ctx, tx, userID, q.Activity, entry.Level)
		if err != nil {
			return UserProgress{}, err
		}
		if complete {
			entry.Level++
			entry.HighestQuestionNo = 0
		}
	}

	if err := tx.SaveActivityProgress(ctx, userID, q.Activity, entry, now); err != nil {
		return UserProgress{}, fmt.Errorf("save progress: %w", err)
	}

	progress.Unlocked[q.Activity] = entry
	progress.LastPlayed = &now
	progress.UpdatedAt = now
	return progress, nil
}

func levelCompleteTx(ctx context.Context, tx Tx, userID, activity string, level int) (bool, error) {
	questions, err := tx.ListQuestions(ctx, QuestionFilter{Activity: activity, Level: level})
	if err != nil {
		return false, fmt.Errorf("list level questions: %w", err)
	}
	done, err := tx.DistinctQuestionNumbers(ctx, userID, activity, level)
	if err != nil {
		return false, fmt.Errorf("distinct question numbers: %w", err)
	}
	completed, total := countCompleted(questions, done)
	return total > 0 && completed >= total, nil
}

// countCompleted returns how many of questions have their question number in
// done, and the number of questions.
func countCompleted(questions []Question, done []int) (completed, total int) {
	set := make(map[int]bool, len(done))
	for _, n := range done {
		set[n] = true
	}
	for _, q := range questions {
		if set[q.QuestionNo] {
			completed++
		}
	}
	return completed, len(questions)
}
