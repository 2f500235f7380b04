package activity

import (
	"bytes"
	"encoding/json"
	"math"

	"golang.org/x/text/unicode/norm"
)

// Default reward thresholds used when an activity has no config.
const (
	defaultPerfectTimeSeconds = 30
	defaultGoodTimeSeconds    = 60
	goodTierFactor            = 0.8
)

// SubmissionKind tags the shape of a decoded submission.
type SubmissionKind int

const (
	SubmissionInvalid SubmissionKind = iota
	SubmissionScalar
	SubmissionSequence
	SubmissionPairs
)

func (k SubmissionKind) String() string {
	switch k {
	case SubmissionScalar:
		return "scalar"
	case SubmissionSequence:
		return "sequence"
	case SubmissionPairs:
		return "pairs"
	default:
		return "invalid"
	}
}

// Submission is what a user sent for a question: a single string, an
// ordered sequence of strings, or a question_value -> answer_value mapping.
type Submission struct {
	Kind     SubmissionKind
	Scalar   string
	Sequence []string
	Pairs    map[string]string
}

// DecodeSubmission classifies raw JSON. It never fails: anything that is not
// a string, an array of strings or an object becomes SubmissionInvalid.
// Object members with non-string values are dropped, so they can never
// satisfy a pair.
func DecodeSubmission(raw json.RawMessage) Submission {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Submission{Kind: SubmissionInvalid}
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return Submission{Kind: SubmissionScalar, Scalar: s}
		}
	case '[':
		var seq []string
		if err := json.Unmarshal(raw, &seq); err == nil {
			return Submission{Kind: SubmissionSequence, Sequence: seq}
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil {
			pairs := make(map[string]string, len(obj))
			for k, v := range obj {
				var s string
				if json.Unmarshal(v, &s) == nil {
					pairs[k] = s
				}
			}
			return Submission{Kind: SubmissionPairs, Pairs: pairs}
		}
	}
	return Submission{Kind: SubmissionInvalid}
}

// Grade is the outcome of grading one submission.
type Grade struct {
	Success     bool
	StarsEarned int
}

// GradeAttempt decides correctness and the reward tier. It is pure and
// never fails; a wrongly shaped submission is simply unsuccessful.
func GradeAttempt(q Question, sub Submission, timeTakenSeconds float64, stars StarsSystem) Grade {
	if !IsCorrect(q, sub) {
		return Grade{}
	}
	return Grade{Success: true, StarsEarned: StarsFor(q.StarsForPerfect, timeTakenSeconds, stars)}
}

// IsCorrect applies the correctness rules in order; the first that applies
// decides.
func IsCorrect(q Question, sub Submission) bool {
	switch {
	case q.isMatch():
		if sub.Kind != SubmissionPairs {
			return false
		}
		for _, p := range q.MatchPairs {
			got, ok := sub.Pairs[p.QuestionValue]
			if !ok || !sameText(got, p.AnswerValue) {
				return false
			}
		}
		return true

	case len(q.Answer) == 1:
		switch sub.Kind {
		case SubmissionScalar:
			return sameText(sub.Scalar, q.Answer[0])
		case SubmissionSequence:
			return len(sub.Sequence) == 1 && sameText(sub.Sequence[0], q.Answer[0])
		}
		return false

	default:
		if sub.Kind != SubmissionSequence || len(sub.Sequence) != len(q.Answer) {
			return false
		}
		for i := range q.Answer {
			if !sameText(sub.Sequence[i], q.Answer[i]) {
				return false
			}
		}
		return true
	}
}

// StarsFor maps the time taken on a correct attempt to a star count.
func StarsFor(starsForPerfect int, timeTakenSeconds float64, stars StarsSystem) int {
	stars = stars.withDefaults()
	switch {
	case timeTakenSeconds <= stars.PerfectTimeSeconds:
		return starsForPerfect
	case timeTakenSeconds <= stars.GoodTimeSeconds:
		return int(math.Ceil(float64(starsForPerfect) * goodTierFactor))
	default:
		return 1
	}
}

func (s StarsSystem) withDefaults() StarsSystem {
	if s.PerfectTimeSeconds == 0 {
		s.PerfectTimeSeconds = defaultPerfectTimeSeconds
	}
	if s.GoodTimeSeconds == 0 {
		s.GoodTimeSeconds = defaultGoodTimeSeconds
	}
	return s
}

// sameText compares in NFC so composed and decomposed forms of the same
// text are equal.
func sameText(a, b string) bool {
	return a == b || norm.NFC.String(a) == norm.NFC.String(b)
}
