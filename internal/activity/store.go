package activity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Catalog is read and admin access to questions.
type Catalog interface {
	GetQuestion(ctx context.Context, id string) (Question, error)
	// ListQuestions returns canonical questions sorted by (level, question_no).
	ListQuestions(ctx context.Context, f QuestionFilter) ([]Question, error)
	SearchQuestions(ctx context.Context, q AdminQuestionQuery) ([]Question, int, error)
	CreateQuestion(ctx context.Context, q Question) (Question, error)
	UpdateQuestion(ctx context.Context, q Question) (Question, error)
	// UpsertQuestion reports whether the question was newly created.
	UpsertQuestion(ctx context.Context, q Question) (Question, bool, error)
	// DeleteQuestion removes the question and every attempt referencing it,
	// returning the number of attempts removed.
	DeleteQuestion(ctx context.Context, id string) (int, error)
}

// ConfigStore holds activity configs.
type ConfigStore interface {
	GetConfig(ctx context.Context, activity string) (ActivityConfig, error)
	ListConfigs(ctx context.Context) ([]ActivityConfig, error)
	CreateConfig(ctx context.Context, c ActivityConfig) (ActivityConfig, error)
	UpdateConfig(ctx context.Context, c ActivityConfig) (ActivityConfig, error)
}

// Ledger is the append-only attempt log.
type Ledger interface {
	RecordAttempt(ctx context.Context, a Attempt) (Attempt, error)
	// QueryAttempts returns matching attempts, newest first.
	QueryAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error)
	// DistinctQuestionNumbers returns the sorted question numbers the user
	// has at least one successful attempt for.
	DistinctQuestionNumbers(ctx context.Context, userID, activity string, level int) ([]int, error)
}

// ProgressStore holds per-user unlock state outside the write path.
type ProgressStore interface {
	GetProgress(ctx context.Context, userID string) (UserProgress, bool, error)
	// EnsureProgress returns the user's progress, creating an empty record
	// when none exists.
	EnsureProgress(ctx context.Context, userID string) (UserProgress, error)
	// ListProgress returns every record, most recently played first.
	ListProgress(ctx context.Context) ([]UserProgress, error)
}

// Tx is the transactional view used by the submission path. Writes made
// through a Tx become visible together when the transaction commits.
type Tx interface {
	RecordAttempt(ctx context.Context, a Attempt) (Attempt, error)
	ListQuestions(ctx context.Context, f QuestionFilter) ([]Question, error)
	DistinctQuestionNumbers(ctx context.Context, userID, activity string, level int) ([]int, error)
	// LockProgress loads or creates the user's progress and holds it for the
	// rest of the transaction.
	LockProgress(ctx context.Context, userID string) (UserProgress, error)
	SaveActivityProgress(ctx context.Context, userID, activity string, p ActivityProgress, lastPlayed time.Time) error
}

// Store is the full persistence boundary of the engine.
type Store interface {
	Catalog
	ConfigStore
	Ledger
	ProgressStore
	// InTx runs fn in one transaction; fn's error (or a cancelled ctx)
	// discards every write.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	questions map[string]Question
	attempts  []Attempt
	progress  map[string]UserProgress
	configs   map[string]ActivityConfig
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		questions: make(map[string]Question),
		progress:  make(map[string]UserProgress),
		configs:   make(map[string]ActivityConfig),
	}
}

func (s *MemoryStore) GetQuestion(_ context.Context, id string) (Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.questions[id]
	if !ok {
		return Question{}, notFound("question %s", id)
	}
	return q, nil
}

func (s *MemoryStore) ListQuestions(_ context.Context, f QuestionFilter) ([]Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listQuestionsLocked(f), nil
}

func (s *MemoryStore) listQuestionsLocked(f QuestionFilter) []Question {
	var matched []Question
	for _, q := range s.questions {
		if f.MatchesFilter(q) {
			matched = append(matched, q)
		}
	}
	return Canonical(matched)
}

func (s *MemoryStore) SearchQuestions(_ context.Context, aq AdminQuestionQuery) ([]Question, int, error) {
	s.mu.RLock()
	var matched []Question
	for _, q := range s.questions {
		if aq.Matches(q) {
			matched = append(matched, q)
		}
	}
	s.mu.RUnlock()

	SortQuestions(matched)
	_, limit, offset := aq.Paging()
	total := len(matched)
	if offset >= total {
		return []Question{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (s *MemoryStore) CreateQuestion(_ context.Context, q Question) (Question, error) {
	q, err := NormalizeQuestion(q)
	if err != nil {
		return Question{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.questions[q.ID]; exists {
		return Question{}, conflict("question id %s already exists", q.ID)
	}
	touch(&q.CreatedAt, &q.UpdatedAt, time.Now())
	s.questions[q.ID] = q
	return q, nil
}

func (s *MemoryStore) UpdateQuestion(_ context.Context, q Question) (Question, error) {
	q, err := NormalizeQuestion(q)
	if err != nil {
		return Question{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.questions[q.ID]
	if !exists {
		return Question{}, notFound("question %s", q.ID)
	}
	q.CreatedAt = cur.CreatedAt
	touch(&q.CreatedAt, &q.UpdatedAt, time.Now())
	s.questions[q.ID] = q
	return q, nil
}

func (s *MemoryStore) UpsertQuestion(_ context.Context, q Question) (Question, bool, error) {
	q, err := NormalizeQuestion(q)
	if err != nil {
		return Question{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.questions[q.ID]
	if exists {
		q.CreatedAt = cur.CreatedAt
	} else {
		q.CreatedAt = time.Time{}
	}
	touch(&q.CreatedAt, &q.UpdatedAt, time.Now())
	s.questions[q.ID] = q
	return q, !exists, nil
}

func (s *MemoryStore) DeleteQuestion(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.questions[id]; !ok {
		return 0, notFound("question %s", id)
	}
	delete(s.questions, id)

	kept := s.attempts[:0]
	removed := 0
	for _, a := range s.attempts {
		if a.QuestionID == id {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return removed, nil
}

func (s *MemoryStore) GetConfig(_ context.Context, activity string) (ActivityConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.configs[activity]
	if !ok {
		return ActivityConfig{}, notFound("activity config %s", activity)
	}
	return c, nil
}

func (s *MemoryStore) ListConfigs(_ context.Context) ([]ActivityConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ActivityConfig, 0, len(s.configs))
	for _, c := range s.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Activity < out[j].Activity })
	return out, nil
}

func (s *MemoryStore) CreateConfig(_ context.Context, c ActivityConfig) (ActivityConfig, error) {
	c, err := NormalizeConfig(c)
	if err != nil {
		return ActivityConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[c.Activity]; exists {
		return ActivityConfig{}, conflict("activity config %s already exists", c.Activity)
	}
	touch(&c.CreatedAt, &c.UpdatedAt, time.Now())
	s.configs[c.Activity] = c
	return c, nil
}

func (s *MemoryStore) UpdateConfig(_ context.Context, c ActivityConfig) (ActivityConfig, error) {
	c, err := NormalizeConfig(c)
	if err != nil {
		return ActivityConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.configs[c.Activity]
	if !exists {
		return ActivityConfig{}, notFound("activity config %s", c.Activity)
	}
	c.CreatedAt = cur.CreatedAt
	touch(&c.CreatedAt, &c.UpdatedAt, time.Now())
	s.configs[c.Activity] = c
	return c, nil
}

func (s *MemoryStore) RecordAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	var recorded Attempt
	err := s.InTx(ctx, func(tx Tx) error {
		var err error
		recorded, err = tx.RecordAttempt(ctx, a)
		return err
	})
	return recorded, err
}

func (s *MemoryStore) QueryAttempts(_ context.Context, f AttemptFilter) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Attempt{}
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if f.Matches(s.attempts[i]) {
			out = append(out, s.attempts[i])
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) DistinctQuestionNumbers(_ context.Context, userID, activity string, level int) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return distinctSuccessful(s.attempts, nil, userID, activity, level), nil
}

func (s *MemoryStore) GetProgress(_ context.Context, userID string) (UserProgress, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[userID]
	if !ok {
		return UserProgress{}, false, nil
	}
	return cloneProgress(p), true, nil
}

func (s *MemoryStore) EnsureProgress(_ context.Context, userID string) (UserProgress, error) {
	if userID == "" {
		return UserProgress{}, invalid("user_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProgress(s.ensureProgressLocked(userID)), nil
}

func (s *MemoryStore) ensureProgressLocked(userID string) UserProgress {
	p, ok := s.progress[userID]
	if !ok {
		now := time.Now()
		p = UserProgress{
			UserID:    userID,
			Unlocked:  map[string]ActivityProgress{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.progress[userID] = p
	}
	return p
}

func (s *MemoryStore) ListProgress(_ context.Context) ([]UserProgress, error) {
	s.mu.RLock()
	out := make([]UserProgress, 0, len(s.progress))
	for _, p := range s.progress {
		out = append(out, cloneProgress(p))
	}
	s.mu.RUnlock()

	SortByLastPlayed(out)
	return out, nil
}

// InTx stages writes and applies them under the store lock when fn
// succeeds.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{store: s, progress: make(map[string]UserProgress)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return transient("commit", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range tx.attempts {
		if _, ok := s.questions[a.QuestionID]; !ok {
			return notFound("question %s", a.QuestionID)
		}
	}
	s.attempts = append(s.attempts, tx.attempts...)
	for userID, staged := range tx.progress {
		cur := s.ensureProgressLocked(userID)
		cur = cloneProgress(cur)
		for activity := range tx.touched[userID] {
			cur.Unlocked[activity] = staged.Unlocked[activity]
		}
		if staged.LastPlayed != nil {
			cur.LastPlayed = staged.LastPlayed
		}
		cur.UpdatedAt = staged.UpdatedAt
		s.progress[userID] = cur
	}
	return nil
}

type memoryTx struct {
	store    *MemoryStore
	attempts []Attempt
	progress map[string]UserProgress
	touched  map[string]map[string]bool
}

func (tx *memoryTx) RecordAttempt(_ context.Context, a Attempt) (Attempt, error) {
	a, err := prepareAttempt(a)
	if err != nil {
		return Attempt{}, err
	}

	tx.store.mu.RLock()
	_, ok := tx.store.questions[a.QuestionID]
	tx.store.mu.RUnlock()
	if !ok {
		return Attempt{}, notFound("question %s", a.QuestionID)
	}

	tx.attempts = append(tx.attempts, a)
	return a, nil
}

func (tx *memoryTx) ListQuestions(ctx context.Context, f QuestionFilter) ([]Question, error) {
	return tx.store.ListQuestions(ctx, f)
}

func (tx *memoryTx) DistinctQuestionNumbers(_ context.Context, userID, activity string, level int) ([]int, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return distinctSuccessful(tx.store.attempts, tx.attempts, userID, activity, level), nil
}

func (tx *memoryTx) LockProgress(_ context.Context, userID string) (UserProgress, error) {
	if userID == "" {
		return UserProgress{}, invalid("user_id is required")
	}
	if p, ok := tx.progress[userID]; ok {
		return cloneProgress(p), nil
	}

	tx.store.mu.RLock()
	p, ok := tx.store.progress[userID]
	tx.store.mu.RUnlock()
	if !ok {
		now := time.Now()
		p = UserProgress{UserID: userID, Unlocked: map[string]ActivityProgress{}, CreatedAt: now, UpdatedAt: now}
	}
	p = cloneProgress(p)
	tx.progress[userID] = p
	return cloneProgress(p), nil
}

func (tx *memoryTx) SaveActivityProgress(_ context.Context, userID, activity string, ap ActivityProgress, lastPlayed time.Time) error {
	p, ok := tx.progress[userID]
	if !ok {
		return invalid("progress for %s was not locked in this transaction", userID)
	}
	p.Unlocked[activity] = ap
	p.LastPlayed = &lastPlayed
	p.UpdatedAt = lastPlayed
	tx.progress[userID] = p

	if tx.touched == nil {
		tx.touched = make(map[string]map[string]bool)
	}
	if tx.touched[userID] == nil {
		tx.touched[userID] = make(map[string]bool)
	}
	tx.touched[userID][activity] = true
	return nil
}

func distinctSuccessful(committed, staged []Attempt, userID, activity string, level int) []int {
	seen := make(map[int]bool)
	for _, set := range [][]Attempt{committed, staged} {
		for _, a := range set {
			if a.Success && a.UserID == userID && a.Activity == activity && a.Level == level {
				seen[a.QuestionNo] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func cloneProgress(p UserProgress) UserProgress {
	unlocked := make(map[string]ActivityProgress, len(p.Unlocked))
	for k, v := range p.Unlocked {
		unlocked[k] = v
	}
	p.Unlocked = unlocked
	if p.LastPlayed != nil {
		t := *p.LastPlayed
		p.LastPlayed = &t
	}
	return p
}

// SortByLastPlayed orders progress records most recently played first;
// never-played records go last.
func SortByLastPlayed(ps []UserProgress) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i].LastPlayed, ps[j].LastPlayed
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
