package thread

import "qahub/api/internal/store"

// Selection is the MostAnswered winner. Tie is set when later questions share the count.
type Selection struct {
	Index    int
	Question store.Question
	Count    int
	Tie      bool
}

// MostAnswered picks the first question, in the given order, with the highest answer count.
func MostAnswered(questions []store.Question) (Selection, error) {
	if len(questions) == 0 {
		return Selection{}, fail(KindNotFound, "notFound", "There are no questions available")
	}
	best, ties := -1, 0
	for i, q := range questions {
		n := len(q.Answers)
		switch {
		case best < 0 || n > len(questions[best].Answers):
			best, ties = i, 1
		case n == len(questions[best].Answers):
			ties++
		}
	}
	count := len(questions[best].Answers)
	if count == 0 {
		return Selection{}, fail(KindNoResult, "noAnswers", "There are no answers yet for the questions")
	}
	return Selection{Index: best, Question: questions[best], Count: count, Tie: ties > 1}, nil
}
