package domain

import (
	"math"
	"sort"
)

var validLetters = map[string]struct{}{"A": {}, "B": {}, "C": {}, "D": {}}

// ValidOption reports whether option is one of the four answer letters.
func ValidOption(option string) bool {
	_, ok := validLetters[option]
	return ok
}

// ScoreAnswers walks the questions in question-number order and counts attempted and correct
// answers. A question counts as attempted only when its answer is present and non-empty.
func ScoreAnswers(questions []Question, answers map[string]string) (score, attempted int) {
	ordered := make([]Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	for _, q := range ordered {
		answer, ok := answers[q.ID]
		if !ok || answer == "" {
			continue
		}
		attempted++
		if answer == q.CorrectAnswer {
			score++
		}
	}
	return score, attempted
}

// QuestionResult is the per-question breakdown returned for a one-shot submission.
type QuestionResult struct {
	QuestionID    string
	QuestionText  string
	UserAnswer    string
	Answered      bool
	CorrectAnswer string
	IsCorrect     bool
	Explanation   string
}

// GradeAnswers returns one result per question in question-number order.
func GradeAnswers(questions []Question, answers map[string]string) []QuestionResult {
	ordered := make([]Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	results := make([]QuestionResult, 0, len(ordered))
	for _, q := range ordered {
		answer, ok := answers[q.ID]
		results = append(results, QuestionResult{
			QuestionID:    q.ID,
			QuestionText:  q.Text,
			UserAnswer:    answer,
			Answered:      ok,
			CorrectAnswer: q.CorrectAnswer,
			IsCorrect:     ok && answer == q.CorrectAnswer,
			Explanation:   q.Explanation,
		})
	}
	return results
}

// Percentage returns score/total*100 rounded half-to-even to two decimals, or 0 for an empty quiz.
func Percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.RoundToEven(float64(score)/float64(total)*100*100) / 100
}
