package search

import (
	"context"
	"fmt"
	"html"
	"strings"

	"qahub/api/internal/store"
)

// QuestionLister is the slice of the store the fallback scan needs.
type QuestionLister interface {
	ListQuestions(ctx context.Context) ([]store.Question, error)
}

// Scan matches questions by case-insensitive substring over question and answer text.
type Scan struct {
	store QuestionLister
}

func NewScan(store QuestionLister) *Scan {
	return &Scan{store: store}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("scan questions: %w", err)
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var matched []Result
	for _, question := range questions {
		if !matches(RecordFor(question), needle) {
			continue
		}
		matched = append(matched, Result{
			ID:           question.ID,
			Question:     question.Question,
			User:         question.UserID,
			AnswersCount: len(question.Answers),
			Snippet:      highlight(question.Question, needle),
		})
	}

	total := len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	start := min(max(q.Offset, 0), total)
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

// LoadAllRecords reads every question for a full reindex.
func (s *Scan) LoadAllRecords(ctx context.Context) ([]QuestionRecord, error) {
	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	records := make([]QuestionRecord, 0, len(questions))
	for _, q := range questions {
		records = append(records, RecordFor(q))
	}
	return records, nil
}

func matches(r QuestionRecord, needle string) bool {
	if strings.Contains(strings.ToLower(r.Question), needle) {
		return true
	}
	for _, a := range r.Answers {
		if strings.Contains(strings.ToLower(a), needle) {
			return true
		}
	}
	return false
}

// highlight wraps the first match of needle in text with <mark>, escaping the rest.
func highlight(text, needle string) string {
	i := strings.Index(strings.ToLower(text), needle)
	// Lowercasing can change byte lengths for some runes; fall back to plain text then.
	if i < 0 || len(strings.ToLower(text)) != len(text) {
		return html.EscapeString(text)
	}
	j := i + len(needle)
	return html.EscapeString(text[:i]) + "<mark>" + html.EscapeString(text[i:j]) + "</mark>" + html.EscapeString(text[j:])
}
