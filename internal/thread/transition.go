package thread

import (
	"qahub/api/internal/store"
	"qahub/api/internal/util"
)

// AcceptState is the acceptance slot of one answer: Unaccepted, or Accepted by a user.
type AcceptState struct {
	by string
}

func Unaccepted() AcceptState { return AcceptState{} }

func AcceptedBy(userID string) AcceptState { return AcceptState{by: userID} }

func StateOf(a store.Answer) AcceptState { return AcceptState{by: a.CheckedBy} }

func (s AcceptState) Accepted() bool { return s.by != "" }

func (s AcceptState) By() string { return s.by }

func (s AcceptState) String() string {
	if !s.Accepted() {
		return "unaccepted"
	}
	return "accepted(" + s.by + ")"
}

func setState(a *store.Answer, s AcceptState) { a.CheckedBy = s.by }

// Transition is one answer-level operation.
type Transition int

const (
	Accept Transition = iota + 1
	Unaccept
	Upvote
	RemoveUpvote
	Downvote
	RemoveDownvote
)

var transitionNames = map[Transition]string{
	Accept:         "check",
	Unaccept:       "uncheck",
	Upvote:         "upvote",
	RemoveUpvote:   "unupvote",
	Downvote:       "downvote",
	RemoveDownvote: "undownvote",
}

func (t Transition) String() string {
	if name, ok := transitionNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTransition maps a route segment such as "check" or "unupvote" to its transition.
func ParseTransition(name string) (Transition, bool) {
	for t, n := range transitionNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Creates reports whether a successful transition adds a marker rather than removing one.
func (t Transition) Creates() bool {
	return t == Accept || t == Upvote || t == Downvote
}

// Apply runs t against the answer answerID of q on behalf of actor.
func Apply(q *store.Question, actor Actor, answerID string, t Transition) (*store.Answer, error) {
	switch t {
	case Accept:
		return accept(q, actor, answerID)
	case Unaccept:
		return unaccept(q, actor, answerID)
	case Upvote:
		return castVote(q, actor, answerID, upvotes)
	case RemoveUpvote:
		return retractVote(q, actor, answerID, upvotes)
	case Downvote:
		return castVote(q, actor, answerID, downvotes)
	case RemoveDownvote:
		return retractVote(q, actor, answerID, downvotes)
	default:
		return nil, fail(KindNotFound, "notFound", "Unknown answer action")
	}
}

// accept checks ownership, then that no answer holds the slot, then that the target exists.
func accept(q *store.Question, actor Actor, answerID string) (*store.Answer, error) {
	if !isOwner(q, actor) {
		return nil, fail(KindForbidden, "notAuth", "Only the question owner can check an answer")
	}
	for _, a := range q.Answers {
		if StateOf(a).Accepted() {
			return nil, fail(KindConflict, "alreadyChecked", "You have already checked another answer")
		}
	}
	answer := findAnswer(q, answerID)
	if answer == nil {
		return nil, ErrAnswerNotFound
	}
	setState(answer, AcceptedBy(actor.UserID))
	return answer, nil
}

func unaccept(q *store.Question, actor Actor, answerID string) (*store.Answer, error) {
	if !isOwner(q, actor) {
		return nil, fail(KindForbidden, "noAuth", "Only the question owner can uncheck an answer")
	}
	answer := findAnswer(q, answerID)
	if answer == nil {
		return nil, ErrAnswerNotFound
	}
	if !StateOf(*answer).Accepted() {
		return nil, fail(KindConflict, "notChecked", "The answer has not been checked")
	}
	setState(answer, Unaccepted())
	return answer, nil
}

// ballot selects one of the two vote lists of an answer plus its rejection messages.
type ballot struct {
	list        func(*store.Answer) *[]store.Vote
	dupField    string
	dupMessage  string
	noneField   string
	noneMessage string
}

var (
	upvotes = ballot{
		list:        func(a *store.Answer) *[]store.Vote { return &a.Upvotes },
		dupField:    "alreadyUpvoted",
		dupMessage:  "You have already upvoted this answer",
		noneField:   "notUpvoted",
		noneMessage: "You have not upvoted the answer",
	}
	downvotes = ballot{
		list:        func(a *store.Answer) *[]store.Vote { return &a.Downvotes },
		dupField:    "alreadyDownvoted",
		dupMessage:  "You have already downvoted",
		noneField:   "notDownvoted",
		noneMessage: "You have not downvoted the answer",
	}
)

func voteIndex(votes []store.Vote, userID string) int {
	for i, v := range votes {
		if v.UserID == userID {
			return i
		}
	}
	return -1
}

// castVote appends the caller's marker. Up and down lists are independent.
func castVote(q *store.Question, actor Actor, answerID string, b ballot) (*store.Answer, error) {
	answer := findAnswer(q, answerID)
	if answer == nil {
		return nil, ErrAnswerNotFound
	}
	votes := b.list(answer)
	if voteIndex(*votes, actor.UserID) >= 0 {
		return nil, fail(KindConflict, b.dupField, b.dupMessage)
	}
	*votes = append(*votes, store.Vote{ID: util.NewID(), UserID: actor.UserID})
	return answer, nil
}

// retractVote removes exactly the caller's marker.
func retractVote(q *store.Question, actor Actor, answerID string, b ballot) (*store.Answer, error) {
	answer := findAnswer(q, answerID)
	if answer == nil {
		return nil, ErrAnswerNotFound
	}
	votes := b.list(answer)
	i := voteIndex(*votes, actor.UserID)
	if i < 0 {
		return nil, fail(KindConflict, b.noneField, b.noneMessage)
	}
	*votes = append((*votes)[:i:i], (*votes)[i+1:]...)
	return answer, nil
}
