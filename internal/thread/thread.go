// Package thread holds the question/answer state machine. Every function mutates an
// in-memory *store.Question; persistence and version checks belong to the caller.
package thread

import (
	"fmt"
	"time"

	"qahub/api/internal/rbac"
	"qahub/api/internal/store"
	"qahub/api/internal/util"
)

type Kind int

const (
	KindNotFound Kind = iota + 1
	KindForbidden
	KindConflict
	KindNoResult
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNoResult:
		return "no_result"
	default:
		return "unknown"
	}
}

// Error is a rejected transition. Field is the key the client sees the message under.
type Error struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func fail(kind Kind, field, message string) *Error {
	return &Error{Kind: kind, Field: field, Message: message}
}

var (
	ErrQuestionNotFound = fail(KindNotFound, "notFound", "Question by that id not found")
	ErrAnswerNotFound   = fail(KindNotFound, "notFound", "Answer by that id not found")
)

// Actor is the authenticated caller.
type Actor struct {
	UserID  string
	IsAdmin bool
}

func (a Actor) Role() rbac.Role {
	return rbac.For(a.IsAdmin)
}

func isOwner(q *store.Question, actor Actor) bool {
	return q.UserID != "" && q.UserID == actor.UserID
}

func NewQuestion(owner Actor, text string, now time.Time) store.Question {
	q := store.Question{
		ID:        util.NewID(),
		UserID:    owner.UserID,
		Question:  text,
		CreatedAt: now.UTC().Truncate(time.Millisecond),
	}
	q.Normalize()
	return q
}

// EditQuestion replaces the text. Answered questions are frozen.
func EditQuestion(q *store.Question, actor Actor, text string) error {
	if !isOwner(q, actor) {
		return fail(KindForbidden, "noAuth", "You don/t have that permission to edit the question")
	}
	if len(q.Answers) != 0 {
		return fail(KindConflict, "answerFound", "The question cannot be edited since it already has answers")
	}
	if q.Question == text {
		return fail(KindConflict, "noChange", "No changes in question detected")
	}
	q.Question = text
	return nil
}

// CanDelete allows the owner or a moderator.
func CanDelete(q *store.Question, actor Actor) error {
	if isOwner(q, actor) || rbac.Can(actor.Role(), rbac.ActionModerate) {
		return nil
	}
	return fail(KindForbidden, "noAuth", "You don/t have that permission to delete the question")
}

// AddAnswer puts a fresh answer at the front of the list.
func AddAnswer(q *store.Question, actor Actor, text string, now time.Time) *store.Answer {
	answer := store.Answer{
		ID:         util.NewID(),
		UserID:     actor.UserID,
		QuestionID: q.ID,
		Answer:     text,
		Comments:   []store.Comment{},
		Upvotes:    []store.Vote{},
		Downvotes:  []store.Vote{},
		Time:       now.UTC().Truncate(time.Millisecond),
	}
	q.Answers = append([]store.Answer{answer}, q.Answers...)
	return &q.Answers[0]
}

// AddComment appends a comment to the answer.
func AddComment(q *store.Question, actor Actor, answerID, text string, now time.Time) (*store.Answer, error) {
	answer := findAnswer(q, answerID)
	if answer == nil {
		return nil, ErrAnswerNotFound
	}
	answer.Comments = append(answer.Comments, store.Comment{
		ID:       util.NewID(),
		UserID:   actor.UserID,
		AnswerID: answer.ID,
		Comment:  text,
		Time:     now.UTC().Truncate(time.Millisecond),
	})
	return answer, nil
}

func findAnswer(q *store.Question, answerID string) *store.Answer {
	for i := range q.Answers {
		if q.Answers[i].ID == answerID {
			return &q.Answers[i]
		}
	}
	return nil
}
