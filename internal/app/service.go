package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"qahub/api/internal/auth"
	"qahub/api/internal/email"
	"qahub/api/internal/search"
	"qahub/api/internal/session"
	"qahub/api/internal/store"
	"qahub/api/internal/thread"
	"qahub/api/internal/util"
	"qahub/api/internal/validation"
)

type Session struct {
	Token        string
	UserID       string
	Email        string
	PasswordHash string
	IsAdmin      bool
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) actor() thread.Actor {
	return thread.Actor{UserID: s.UserID, IsAdmin: s.IsAdmin}
}

type DataStore interface {
	Ping(ctx context.Context) error
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsersByID(context.Context, []string) (map[string]store.User, error)
	InsertQuestion(context.Context, store.Question) error
	FindQuestionByText(context.Context, string) (store.Question, error)
	GetQuestion(context.Context, string) (store.Question, error)
	ReplaceQuestion(context.Context, *store.Question) error
	DeleteQuestion(context.Context, string) error
	ListQuestions(context.Context) ([]store.Question, error)
	ListQuestionsByUser(context.Context, string) ([]store.Question, error)
}

type accountService interface {
	SignUp(context.Context, validation.Signup) (store.User, error)
	SignIn(context.Context, validation.Login) (store.User, error)
}

type questionIndex interface {
	Search(context.Context, search.Query) (search.Response, error)
	IndexQuestion(store.Question)
	DeleteQuestion(string)
}

type notifier interface {
	IsConfigured() bool
	SendWelcome(to, userName string) error
	SendAnswerNotice(to string, data email.AnswerNoticeData) error
}

// Deps are the collaborators a Service is built from. Only Store, Issuer and
// Accounts are required.
type Deps struct {
	Store      DataStore
	Issuer     *auth.Issuer
	Accounts   accountService
	Denylist   session.Denylist
	Limiter    session.Limiter
	Search     questionIndex
	Mailer     notifier
	RateLimit  int
	RateWindow time.Duration
}

type Service struct {
	store      DataStore
	issuer     *auth.Issuer
	accounts   accountService
	denylist   session.Denylist
	limiter    session.Limiter
	search     questionIndex
	mailer     notifier
	rateLimit  int
	rateWindow time.Duration
	now        func() time.Time
}

func New(deps Deps) *Service {
	s := &Service{
		store:      deps.Store,
		issuer:     deps.Issuer,
		accounts:   deps.Accounts,
		denylist:   deps.Denylist,
		limiter:    deps.Limiter,
		search:     deps.Search,
		mailer:     deps.Mailer,
		rateLimit:  deps.RateLimit,
		rateWindow: deps.RateWindow,
		now:        time.Now,
	}
	if s.denylist == nil || s.limiter == nil {
		memory := session.NewMemoryStore()
		if s.denylist == nil {
			s.denylist = memory
		}
		if s.limiter == nil {
			s.limiter = memory
		}
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewScan(deps.Store))
	}
	if s.rateWindow <= 0 {
		s.rateWindow = time.Minute
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// PingSessions checks the token denylist backend when it can report health.
func (s *Service) PingSessions(ctx context.Context) error {
	if p, ok := s.denylist.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Throttle counts one attempt of action from client. A zero limit disables throttling.
func (s *Service) Throttle(ctx context.Context, action, client string) error {
	if s.rateLimit <= 0 {
		return nil
	}
	ok, retry, err := s.limiter.Allow(ctx, action+":"+client, s.rateLimit, s.rateWindow)
	if err != nil {
		// A broken counter must not lock everyone out.
		log.Printf("app: rate limiter: %v", err)
		return nil
	}
	if ok {
		return nil
	}
	seconds := int((retry + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	derr := domainError(http.StatusTooManyRequests, CodeRateLimited, "global",
		fmt.Sprintf("Too many attempts. Try again in %d seconds", seconds))
	derr.RetryAfter = seconds
	return derr
}

// Authentication

func (s *Service) SignUp(ctx context.Context, in validation.Signup) (store.User, error) {
	if res := validation.ValidateSignup(&in); !res.IsValid {
		return store.User{}, validationError(res.Errors)
	}
	user, err := s.accounts.SignUp(ctx, in)
	if err != nil {
		return store.User{}, err
	}
	if s.mailer != nil && s.mailer.IsConfigured() {
		go func(to, name string) {
			if err := s.mailer.SendWelcome(to, name); err != nil {
				log.Printf("app: welcome email to %s: %v", to, err)
			}
		}(user.Email, user.UserName)
	}
	return user, nil
}

type LoginResult struct {
	Token     string
	User      store.User
	ExpiresAt time.Time
}

func (s *Service) Login(ctx context.Context, in validation.Login) (LoginResult, error) {
	if res := validation.ValidateLogin(&in); !res.IsValid {
		return LoginResult{}, validationError(res.Errors)
	}
	user, err := s.accounts.SignIn(ctx, in)
	if err != nil {
		return LoginResult{}, err
	}
	token, claims, err := s.issuer.Issue(auth.Claims{
		UserID:       user.ID,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		IsAdmin:      user.IsAdmin,
	})
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, User: user, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check revoked token: %w", err)
	}
	if revoked {
		return Session{}, errRevokedToken
	}
	return Session{
		Token:        token,
		UserID:       claims.UserID,
		Email:        claims.Email,
		PasswordHash: claims.PasswordHash,
		IsAdmin:      claims.IsAdmin,
		JTI:          claims.ID,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session) error {
	if err := s.denylist.RevokeToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Me loads the caller's account. A token minted before a password change is rejected.
func (s *Service) Me(ctx context.Context, sess Session) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, errUserNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	if user.PasswordHash != sess.PasswordHash {
		return store.User{}, errStaleToken
	}
	return user, nil
}

// Questions

type UserRef struct {
	ID       string `json:"_id"`
	UserName string `json:"userName,omitempty"`
}

type QuestionSummary struct {
	ID       string  `json:"_id"`
	Question string  `json:"question"`
	User     UserRef `json:"user"`
}

type QuestionView struct {
	ID        string         `json:"_id"`
	Question  string         `json:"question"`
	User      UserRef        `json:"user"`
	Answers   []store.Answer `json:"answers"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (s *Service) CreateQuestion(ctx context.Context, sess Session, in validation.Question) (store.Question, error) {
	if res := validation.ValidateQuestion(&in); !res.IsValid {
		return store.Question{}, validationError(res.Errors)
	}
	if _, err := s.store.FindQuestionByText(ctx, in.Question); err == nil {
		return store.Question{}, store.ErrDuplicateQuestion
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Question{}, fmt.Errorf("lookup question: %w", err)
	}

	q := thread.NewQuestion(sess.actor(), in.Question, s.now())
	if err := s.store.InsertQuestion(ctx, q); err != nil {
		if errors.Is(err, store.ErrDuplicateQuestion) {
			return store.Question{}, err
		}
		return store.Question{}, fmt.Errorf("insert question: %w", err)
	}
	s.search.IndexQuestion(q)
	return q, nil
}

func (s *Service) ListQuestions(ctx context.Context) ([]QuestionSummary, error) {
	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, errNoQuestions
	}
	users, err := s.usersFor(ctx, questions)
	if err != nil {
		return nil, err
	}
	out := make([]QuestionSummary, 0, len(questions))
	for _, q := range questions {
		out = append(out, QuestionSummary{ID: q.ID, Question: q.Question, User: userRef(users, q.UserID)})
	}
	return out, nil
}

func (s *Service) GetQuestion(ctx context.Context, id string) (QuestionView, error) {
	q, err := s.loadQuestion(ctx, id)
	if err != nil {
		return QuestionView{}, err
	}
	users, err := s.usersFor(ctx, []store.Question{q})
	if err != nil {
		return QuestionView{}, err
	}
	return view(q, users), nil
}

func (s *Service) EditQuestion(ctx context.Context, sess Session, id string, in validation.Question) (store.Question, error) {
	if res := validation.ValidateQuestion(&in); !res.IsValid {
		return store.Question{}, validationError(res.Errors)
	}
	return s.mutate(ctx, id, func(q *store.Question) error {
		return thread.EditQuestion(q, sess.actor(), in.Question)
	})
}

func (s *Service) DeleteQuestion(ctx context.Context, sess Session, id string) error {
	q, err := s.loadQuestion(ctx, id)
	if errors.Is(err, thread.ErrQuestionNotFound) {
		return errGoneQuestion
	}
	if err != nil {
		return err
	}
	if err := thread.CanDelete(&q, sess.actor()); err != nil {
		return err
	}
	if err := s.store.DeleteQuestion(ctx, q.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errGoneQuestion
		}
		return fmt.Errorf("delete question: %w", err)
	}
	s.search.DeleteQuestion(q.ID)
	return nil
}

// Answers

func (s *Service) AddAnswer(ctx context.Context, sess Session, questionID string, in validation.Answer) (store.Question, error) {
	if res := validation.ValidateAnswer(&in); !res.IsValid {
		return store.Question{}, validationError(res.Errors)
	}
	var added store.Answer
	q, err := s.mutate(ctx, questionID, func(q *store.Question) error {
		added = *thread.AddAnswer(q, sess.actor(), in.Answer, s.now())
		return nil
	})
	if err != nil {
		return store.Question{}, err
	}
	s.notifyAnswer(q, added)
	return q, nil
}

// AnswerTransition runs one of the accept/vote transitions against an answer.
func (s *Service) AnswerTransition(ctx context.Context, sess Session, questionID, answerID string, t thread.Transition) (store.Question, error) {
	return s.mutate(ctx, questionID, func(q *store.Question) error {
		_, err := thread.Apply(q, sess.actor(), answerID, t)
		return err
	})
}

func (s *Service) AddComment(ctx context.Context, sess Session, questionID, answerID string, in validation.Comment) (store.Question, error) {
	if res := validation.ValidateComment(&in); !res.IsValid {
		return store.Question{}, validationError(res.Errors)
	}
	return s.mutate(ctx, questionID, func(q *store.Question) error {
		_, err := thread.AddComment(q, sess.actor(), answerID, in.Comment, s.now())
		return err
	})
}

// Queries

type MostAnsweredResult struct {
	Question QuestionView
	Count    int
	Tie      bool
}

func (s *Service) MostAnswered(ctx context.Context) (MostAnsweredResult, error) {
	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return MostAnsweredResult{}, fmt.Errorf("list questions: %w", err)
	}
	sel, err := thread.MostAnswered(questions)
	if err != nil {
		return MostAnsweredResult{}, err
	}
	users, err := s.usersFor(ctx, []store.Question{sel.Question})
	if err != nil {
		return MostAnsweredResult{}, err
	}
	return MostAnsweredResult{Question: view(sel.Question, users), Count: sel.Count, Tie: sel.Tie}, nil
}

func (s *Service) OwnQuestions(ctx context.Context, sess Session) ([]store.Question, error) {
	questions, err := s.store.ListQuestionsByUser(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("list own questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, errNoOwnQ
	}
	return questions, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, validationError(map[string]string{"q": "Search query is required"})
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	resp, err := s.search.Search(ctx, q)
	if err != nil {
		return search.Response{}, fmt.Errorf("search: %w", err)
	}
	return resp, nil
}

// mutate loads the question, applies fn to a private copy and saves it only if
// nobody else wrote the question in between.
func (s *Service) mutate(ctx context.Context, questionID string, fn func(*store.Question) error) (store.Question, error) {
	q, err := s.loadQuestion(ctx, questionID)
	if err != nil {
		return store.Question{}, err
	}
	work := q.Clone()
	if err := fn(&work); err != nil {
		return store.Question{}, err
	}
	if err := s.store.ReplaceQuestion(ctx, &work); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return store.Question{}, thread.ErrQuestionNotFound
		case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrDuplicateQuestion):
			return store.Question{}, err
		}
		return store.Question{}, fmt.Errorf("save question: %w", err)
	}
	s.search.IndexQuestion(work)
	return work, nil
}

func (s *Service) loadQuestion(ctx context.Context, id string) (store.Question, error) {
	if !util.ValidID(id) {
		return store.Question{}, thread.ErrQuestionNotFound
	}
	q, err := s.store.GetQuestion(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Question{}, thread.ErrQuestionNotFound
	}
	if err != nil {
		return store.Question{}, fmt.Errorf("load question: %w", err)
	}
	q.Normalize()
	return q, nil
}

func (s *Service) usersFor(ctx context.Context, questions []store.Question) (map[string]store.User, error) {
	seen := make(map[string]struct{}, len(questions))
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		if _, ok := seen[q.UserID]; ok {
			continue
		}
		seen[q.UserID] = struct{}{}
		ids = append(ids, q.UserID)
	}
	users, err := s.store.ListUsersByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load question owners: %w", err)
	}
	return users, nil
}

func (s *Service) notifyAnswer(q store.Question, answer store.Answer) {
	if s.mailer == nil || !s.mailer.IsConfigured() || answer.UserID == q.UserID {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		users, err := s.store.ListUsersByID(ctx, []string{q.UserID, answer.UserID})
		if err != nil {
			log.Printf("app: answer notice for %s: %v", q.ID, err)
			return
		}
		owner, ok := users[q.UserID]
		if !ok {
			return
		}
		err = s.mailer.SendAnswerNotice(owner.Email, email.AnswerNoticeData{
			UserName:   owner.UserName,
			Question:   q.Question,
			Answer:     answer.Answer,
			Answerer:   users[answer.UserID].UserName,
			QuestionID: q.ID,
		})
		if err != nil {
			log.Printf("app: answer notice to %s: %v", owner.Email, err)
		}
	}()
}

func userRef(users map[string]store.User, id string) UserRef {
	return UserRef{ID: id, UserName: users[id].UserName}
}

func view(q store.Question, users map[string]store.User) QuestionView {
	q.Normalize()
	return QuestionView{
		ID:        q.ID,
		Question:  q.Question,
		User:      userRef(users, q.UserID),
		Answers:   q.Answers,
		Version:   q.Version,
		CreatedAt: q.CreatedAt,
	}
}
