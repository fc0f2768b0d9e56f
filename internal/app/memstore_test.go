package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"qahub/api/internal/auth"
	"qahub/api/internal/authpw"
	"qahub/api/internal/store"
)

// memStore is an in-memory DataStore with the same CAS contract as the real backends.
type memStore struct {
	mu        sync.Mutex
	users     []store.User
	questions []store.Question

	pingErr error
	listErr error
	// beforeReplace runs once, before the next ReplaceQuestion takes the lock.
	beforeReplace func()
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return store.ErrDuplicateEmail
		}
		if u.UserName == user.UserName {
			return store.ErrDuplicateUserName
		}
	}
	m.users = append(m.users, user)
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) ListUsersByID(_ context.Context, ids []string) (map[string]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.User, len(ids))
	for _, id := range ids {
		for _, u := range m.users {
			if u.ID == id {
				out[id] = u
			}
		}
	}
	return out, nil
}

func (m *memStore) setPasswordHash(id, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].ID == id {
			m.users[i].PasswordHash = hash
		}
	}
}

func (m *memStore) InsertQuestion(_ context.Context, q store.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.questions {
		if existing.Question == q.Question {
			return store.ErrDuplicateQuestion
		}
	}
	m.questions = append(m.questions, q.Clone())
	return nil
}

func (m *memStore) FindQuestionByText(_ context.Context, text string) (store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.questions {
		if q.Question == text {
			return q.Clone(), nil
		}
	}
	return store.Question{}, store.ErrNotFound
}

func (m *memStore) GetQuestion(_ context.Context, id string) (store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.questions {
		if q.ID == id {
			return q.Clone(), nil
		}
	}
	return store.Question{}, store.ErrNotFound
}

func (m *memStore) ReplaceQuestion(_ context.Context, q *store.Question) error {
	if hook := m.beforeReplace; hook != nil {
		m.beforeReplace = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.questions {
		if m.questions[i].ID != q.ID {
			continue
		}
		if m.questions[i].Version != q.Version {
			return store.ErrVersionConflict
		}
		saved := q.Clone()
		saved.Version++
		m.questions[i] = saved
		q.Version = saved.Version
		return nil
	}
	return store.ErrNotFound
}

// bumpVersion simulates a concurrent writer.
func (m *memStore) bumpVersion(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.questions {
		if m.questions[i].ID == id {
			m.questions[i].Version++
		}
	}
}

func (m *memStore) DeleteQuestion(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.questions {
		if m.questions[i].ID == id {
			m.questions = append(m.questions[:i], m.questions[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) ListQuestions(context.Context) ([]store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]store.Question, 0, len(m.questions))
	for _, q := range m.questions {
		out = append(out, q.Clone())
	}
	return out, nil
}

func (m *memStore) ListQuestionsByUser(_ context.Context, userID string) ([]store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Question{}
	for _, q := range m.questions {
		if q.UserID == userID {
			out = append(out, q.Clone())
		}
	}
	return out, nil
}

const testSecret = "test-secret"

func newTestService(ms *memStore) *Service {
	return New(Deps{
		Store:    ms,
		Issuer:   auth.NewIssuer(testSecret, time.Hour),
		Accounts: authpw.NewService(ms, bcrypt.MinCost),
	})
}

func newTestServer(t *testing.T) (http.Handler, *memStore, *Service) {
	t.Helper()
	ms := newMemStore()
	svc := newTestService(ms)
	return NewHTTPServer(svc, "*").Handler(), ms, svc
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	payload := map[string]any{}
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

func signupBody(userName, email string) map[string]any {
	return map[string]any{"registerUser": map[string]any{
		"firstName":       "Ada",
		"lastName":        "Lovelace",
		"userName":        userName,
		"email":           email,
		"password":        "Secret#123",
		"confirmPassword": "Secret#123",
	}}
}

// registerAndLogin returns a token and the new user's id.
func registerAndLogin(t *testing.T, h http.Handler, userName string) (string, string) {
	t.Helper()
	email := userName + "@example.com"
	rr, payload := doJSON(t, h, http.MethodPost, "/api/users/signup", "", signupBody(userName, email))
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup %s: expected 201, got %d body=%s", userName, rr.Code, rr.Body.String())
	}
	userID, _ := payload["_id"].(string)

	rr, payload = doJSON(t, h, http.MethodPost, "/api/users/login", "", map[string]any{
		"credentials": map[string]any{"email": email, "password": "Secret#123"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d body=%s", userName, rr.Code, rr.Body.String())
	}
	token, _ := payload["token"].(string)
	return token, userID
}

func askQuestion(t *testing.T, h http.Handler, token, text string) string {
	t.Helper()
	rr, payload := doJSON(t, h, http.MethodPost, "/api/questions/question", token, map[string]any{
		"addQuestion": map[string]any{"question": text},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("ask %q: expected 201, got %d body=%s", text, rr.Code, rr.Body.String())
	}
	saved, _ := payload["savedQuestion"].(map[string]any)
	id, _ := saved["_id"].(string)
	return id
}

func answerQuestion(t *testing.T, h http.Handler, token, questionID, text string) string {
	t.Helper()
	rr, payload := doJSON(t, h, http.MethodPost, "/api/questions/"+questionID+"/answer", token, map[string]any{
		"addAnswer": map[string]any{"answer": text},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("answer: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	answers, _ := payload["answers"].([]any)
	first, _ := answers[0].(map[string]any)
	id, _ := first["_id"].(string)
	return id
}

func errorsOf(payload map[string]any) map[string]any {
	errs, _ := payload["errors"].(map[string]any)
	return errs
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, payload map[string]any, status int, field, message string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	if got := payload["status"]; got != strconv.Itoa(status) {
		t.Fatalf("expected body status %q, got %v", strconv.Itoa(status), got)
	}
	errs := errorsOf(payload)
	if errs[field] != message {
		t.Fatalf("expected errors.%s=%q, got %v", field, message, errs)
	}
}
