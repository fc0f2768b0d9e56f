package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrDuplicateUserName = errors.New("user name already taken")
	ErrDuplicateQuestion = errors.New("question already asked")
	// ErrVersionConflict means the question changed between load and save.
	ErrVersionConflict = errors.New("question was modified concurrently")
)

type User struct {
	ID           string    `json:"_id" bson:"_id"`
	FirstName    string    `json:"firstName" bson:"first_name"`
	LastName     string    `json:"lastName" bson:"last_name"`
	UserName     string    `json:"userName" bson:"user_name"`
	Email        string    `json:"email" bson:"email"`
	Avatar       string    `json:"avatar" bson:"avatar"`
	PasswordHash string    `json:"-" bson:"password"`
	Confirmed    bool      `json:"confirmed" bson:"confirmed"`
	IsAdmin      bool      `json:"isAdmin" bson:"is_admin"`
	CreatedAt    time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updated_at"`
}

// Question is the aggregate root. Answers are kept most recent first.
type Question struct {
	ID        string    `json:"_id" bson:"_id"`
	UserID    string    `json:"user" bson:"user"`
	Question  string    `json:"question" bson:"question"`
	Answers   []Answer  `json:"answers" bson:"answers"`
	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

type Answer struct {
	ID         string    `json:"_id" bson:"_id"`
	UserID     string    `json:"user" bson:"user"`
	QuestionID string    `json:"question" bson:"question"`
	Answer     string    `json:"answer" bson:"answer"`
	Comments   []Comment `json:"comments" bson:"comments"`
	// CheckedBy holds the id of the user who accepted the answer, empty when unaccepted.
	CheckedBy string    `json:"check,omitempty" bson:"check,omitempty"`
	Upvotes   []Vote    `json:"upvote" bson:"upvote"`
	Downvotes []Vote    `json:"downvote" bson:"downvote"`
	Time      time.Time `json:"time" bson:"time"`
}

type Comment struct {
	ID       string    `json:"_id" bson:"_id"`
	UserID   string    `json:"user" bson:"user"`
	AnswerID string    `json:"answer" bson:"answer"`
	Comment  string    `json:"comment" bson:"comment"`
	Time     time.Time `json:"time" bson:"time"`
}

type Vote struct {
	ID     string `json:"_id" bson:"_id"`
	UserID string `json:"user" bson:"user"`
}

// Normalize replaces nil slices with empty ones so documents encode as [] rather than null.
func (q *Question) Normalize() {
	if q.Answers == nil {
		q.Answers = []Answer{}
	}
	for i := range q.Answers {
		a := &q.Answers[i]
		if a.Comments == nil {
			a.Comments = []Comment{}
		}
		if a.Upvotes == nil {
			a.Upvotes = []Vote{}
		}
		if a.Downvotes == nil {
			a.Downvotes = []Vote{}
		}
	}
}

// Clone returns a deep copy so a failed transition never leaks into the loaded document.
func (q Question) Clone() Question {
	out := q
	out.Answers = make([]Answer, len(q.Answers))
	for i, a := range q.Answers {
		a.Comments = append([]Comment{}, a.Comments...)
		a.Upvotes = append([]Vote{}, a.Upvotes...)
		a.Downvotes = append([]Vote{}, a.Downvotes...)
		out.Answers[i] = a
	}
	return out
}
