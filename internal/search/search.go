// Package search finds questions by text, through Meilisearch when it is reachable and
// by scanning the store otherwise.
package search

import "qahub/api/internal/store"

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string `json:"_id"`
	Question     string `json:"question"`
	User         string `json:"user"`
	AnswersCount int    `json:"answersCount"`
	// Snippet is the question text with matches wrapped in <mark>.
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"count"`
	Query   string   `json:"query"`
}

// QuestionRecord is the data we index for a question. Answer text is searchable too.
type QuestionRecord struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Answers      []string `json:"answers"`
	User         string   `json:"user"`
	AnswersCount int      `json:"answersCount"`
	CreatedAt    int64    `json:"createdAt"`
}

// RecordFor flattens a question aggregate into its index record.
func RecordFor(q store.Question) QuestionRecord {
	answers := make([]string, 0, len(q.Answers))
	for _, a := range q.Answers {
		answers = append(answers, a.Answer)
	}
	return QuestionRecord{
		ID:           q.ID,
		Question:     q.Question,
		Answers:      answers,
		User:         q.UserID,
		AnswersCount: len(q.Answers),
		CreatedAt:    q.CreatedAt.UnixMilli(),
	}
}

const defaultLimit = 20
