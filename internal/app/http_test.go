package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"qahub/api/internal/auth"
	"qahub/api/internal/authpw"
	"qahub/api/internal/util"
)

func TestHealthAndReady(t *testing.T) {
	h, ms, _ := newTestServer(t)

	rr, payload := doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health: %d %v", rr.Code, payload)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK || payload["state"] != "ready" {
		t.Fatalf("ready: %d %v", rr.Code, payload)
	}
	sessions := payload["checks"].(map[string]any)["sessions"].(map[string]any)
	if sessions["status"] != "ok" {
		t.Fatalf("expected sessions check ok, got %v", sessions)
	}

	ms.pingErr = errors.New("connection refused")
	rr, payload = doJSON(t, h, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable || payload["state"] != "not_ready" {
		t.Fatalf("not ready: %d %v", rr.Code, payload)
	}
}

type downDenylist struct{}

func (downDenylist) RevokeToken(context.Context, string, time.Time) error { return nil }
func (downDenylist) IsRevoked(context.Context, string) (bool, error)      { return false, nil }
func (downDenylist) Ping(context.Context) error                           { return errors.New("redis: connection refused") }

func TestReadyReportsSessionBackend(t *testing.T) {
	ms := newMemStore()
	svc := New(Deps{
		Store:    ms,
		Issuer:   auth.NewIssuer(testSecret, time.Hour),
		Accounts: authpw.NewService(ms, bcrypt.MinCost),
		Denylist: downDenylist{},
	})
	h := NewHTTPServer(svc, "*").Handler()

	rr, payload := doJSON(t, h, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable || payload["state"] != "not_ready" {
		t.Fatalf("expected 503, got %d %v", rr.Code, payload)
	}
	checks := payload["checks"].(map[string]any)
	if checks["database"].(map[string]any)["status"] != "ok" || checks["sessions"].(map[string]any)["status"] != "error" {
		t.Fatalf("unexpected checks %v", checks)
	}
}

func TestPreflightHasNoBody(t *testing.T) {
	h, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/questions/questions", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Body.Len() != 0 {
		t.Fatalf("expected empty 204, got %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestSignupThenLogin(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr, payload := doJSON(t, h, http.MethodPost, "/api/users/signup", "", signupBody("ada", "Ada@Example.com"))
	if rr.Code != http.StatusCreated || payload["status"] != "201" {
		t.Fatalf("signup: %d %s", rr.Code, rr.Body.String())
	}
	if _, leaked := payload["password"]; leaked {
		t.Fatal("signup response must not carry the password")
	}
	userID, _ := payload["_id"].(string)
	if !util.ValidID(userID) {
		t.Fatalf("expected a 24-hex id, got %q", userID)
	}

	rr, payload = doJSON(t, h, http.MethodPost, "/api/users/login", "", map[string]any{
		"credentials": map[string]any{"email": "ada@example.com", "password": "Secret#123"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	token, _ := payload["token"].(string)
	claims, err := auth.NewIssuer(testSecret, time.Hour).Parse(token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("token subject %q, want %q", claims.UserID, userID)
	}
	user, _ := payload["user"].(map[string]any)
	if user["userName"] != "ada" {
		t.Fatalf("unexpected login user %v", user)
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/users/me", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: %d %s", rr.Code, rr.Body.String())
	}
	me, _ := payload["user"].(map[string]any)
	if me["_id"] != userID {
		t.Fatalf("unexpected me payload %v", payload)
	}
}

func TestSignupValidationAndDuplicates(t *testing.T) {
	h, _, _ := newTestServer(t)

	body := signupBody("ada", "ada@example.com")
	body["registerUser"].(map[string]any)["confirmPassword"] = "Other#1234"
	rr, payload := doJSON(t, h, http.MethodPost, "/api/users/signup", "", body)
	expectError(t, rr, payload, http.StatusBadRequest, "confirmPassword", "Passwords must match!!!")
	if payload["code"] != CodeValidationFailed {
		t.Fatalf("unexpected code %v", payload["code"])
	}

	registerAndLogin(t, h, "ada")

	rr, payload = doJSON(t, h, http.MethodPost, "/api/users/signup", "", signupBody("other", "ada@example.com"))
	expectError(t, rr, payload, http.StatusConflict, "global", "Email already exists")

	rr, payload = doJSON(t, h, http.MethodPost, "/api/users/signup", "", signupBody("ada", "fresh@example.com"))
	expectError(t, rr, payload, http.StatusConflict, "userName", "User name already taken")
}

func TestLoginFailures(t *testing.T) {
	h, _, _ := newTestServer(t)
	registerAndLogin(t, h, "ada")

	rr, payload := doJSON(t, h, http.MethodPost, "/api/users/login", "", map[string]any{
		"credentials": map[string]any{"email": "nobody@example.com", "password": "Secret#123"},
	})
	expectError(t, rr, payload, http.StatusUnauthorized, "global", "Failed to log in. Confirm email and password")

	rr, payload = doJSON(t, h, http.MethodPost, "/api/users/login", "", map[string]any{
		"credentials": map[string]any{"email": "ada@example.com", "password": "Wrong#1234"},
	})
	expectError(t, rr, payload, http.StatusUnauthorized, "global", "Invalid credentials")

	rr, payload = doJSON(t, h, http.MethodPost, "/api/users/login", "", map[string]any{})
	if rr.Code != http.StatusBadRequest || errorsOf(payload)["email"] != "Email field is required" {
		t.Fatalf("empty login: %d %v", rr.Code, payload)
	}
}

func TestTokenChecks(t *testing.T) {
	h, _, _ := newTestServer(t)
	token, userID := registerAndLogin(t, h, "ada")

	rr, payload := doJSON(t, h, http.MethodGet, "/api/users/me", "", nil)
	expectError(t, rr, payload, http.StatusUnauthorized, "message", "Access denied. No token provided")

	rr, payload = doJSON(t, h, http.MethodGet, "/api/users/me", "not-a-jwt", nil)
	expectError(t, rr, payload, http.StatusBadRequest, "name", "JsonWebTokenError")

	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := auth.NewIssuer(testSecret, time.Hour).WithClock(past).Issue(auth.Claims{UserID: userID})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	rr, payload = doJSON(t, h, http.MethodGet, "/api/users/me", expired, nil)
	expectError(t, rr, payload, http.StatusBadRequest, "name", "TokenExpiredError")

	// A bare token without the Bearer prefix is accepted too.
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", token)
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	if raw.Code != http.StatusOK {
		t.Fatalf("raw token: %d %s", raw.Code, raw.Body.String())
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	h, _, _ := newTestServer(t)
	token, _ := registerAndLogin(t, h, "ada")

	rr, payload := doJSON(t, h, http.MethodPost, "/api/users/logout", token, nil)
	if rr.Code != http.StatusOK || payload["message"] != "You have logged out" {
		t.Fatalf("logout: %d %v", rr.Code, payload)
	}
	rr, payload = doJSON(t, h, http.MethodGet, "/api/users/me", token, nil)
	expectError(t, rr, payload, http.StatusBadRequest, "message", "jwt revoked")
}

func TestMeRejectsTokenAfterPasswordChange(t *testing.T) {
	h, ms, _ := newTestServer(t)
	token, userID := registerAndLogin(t, h, "ada")

	hash, err := authpw.HashPassword("Changed#123", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ms.setPasswordHash(userID, hash)

	rr, payload := doJSON(t, h, http.MethodGet, "/api/users/me", token, nil)
	expectError(t, rr, payload, http.StatusBadRequest, "message", "password changed since the token was issued")
}

func TestQuestionLifecycle(t *testing.T) {
	h, _, _ := newTestServer(t)
	alice, aliceID := registerAndLogin(t, h, "alice")
	bob, _ := registerAndLogin(t, h, "bob")

	rr, payload := doJSON(t, h, http.MethodGet, "/api/questions/questions", "", nil)
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "There are no questions available")

	qid := askQuestion(t, h, alice, "What is a goroutine?")

	rr, payload = doJSON(t, h, http.MethodPost, "/api/questions/question", bob, map[string]any{
		"addQuestion": map[string]any{"question": "What is a goroutine?"},
	})
	expectError(t, rr, payload, http.StatusConflict, "questionExists", "question already asked")

	rr, payload = doJSON(t, h, http.MethodPost, "/api/questions/question", bob, map[string]any{
		"addQuestion": map[string]any{"question": "no"},
	})
	expectError(t, rr, payload, http.StatusBadRequest, "question", "The minimum character expected is 3 while maximum is 255")

	rr, payload = doJSON(t, h, http.MethodGet, "/api/questions/questions", "", nil)
	if rr.Code != http.StatusOK || payload["count"] != float64(1) {
		t.Fatalf("list: %d %v", rr.Code, payload)
	}
	listed := payload["questionsFound"].([]any)[0].(map[string]any)
	if owner := listed["user"].(map[string]any); owner["userName"] != "alice" || owner["_id"] != aliceID {
		t.Fatalf("expected populated owner, got %v", owner)
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/questions/"+qid, bob, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rr.Code, rr.Body.String())
	}
	if found := payload["questionFound"].(map[string]any); found["question"] != "What is a goroutine?" {
		t.Fatalf("unexpected question %v", found)
	}

	edit := func(token, text string) (*httptest.ResponseRecorder, map[string]any) {
		return doJSON(t, h, http.MethodPut, "/api/questions/"+qid, token, map[string]any{
			"putQuestion": map[string]any{"question": text},
		})
	}
	rr, payload = edit(bob, "Hijacked question?")
	if rr.Code != http.StatusUnauthorized || errorsOf(payload)["noAuth"] == nil {
		t.Fatalf("stranger edit: %d %v", rr.Code, payload)
	}
	rr, payload = edit(alice, "What is a goroutine?")
	if rr.Code != http.StatusConflict || errorsOf(payload)["noChange"] == nil {
		t.Fatalf("unchanged edit: %d %v", rr.Code, payload)
	}
	rr, payload = edit(alice, "What exactly is a goroutine?")
	if rr.Code != http.StatusOK || payload["message"] != "Question successfully updated" {
		t.Fatalf("edit: %d %v", rr.Code, payload)
	}

	answerQuestion(t, h, bob, qid, "A lightweight thread managed by the runtime")
	rr, payload = edit(alice, "Something else entirely?")
	if rr.Code != http.StatusConflict || errorsOf(payload)["answerFound"] == nil {
		t.Fatalf("edit after answer: %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, h, http.MethodDelete, "/api/questions/"+qid, bob, nil)
	if rr.Code != http.StatusUnauthorized || errorsOf(payload)["noAuth"] == nil {
		t.Fatalf("stranger delete: %d %v", rr.Code, payload)
	}
	rr, payload = doJSON(t, h, http.MethodDelete, "/api/questions/"+qid, alice, nil)
	if rr.Code != http.StatusOK || payload["message"] != "Question deleted" {
		t.Fatalf("delete: %d %v", rr.Code, payload)
	}
	rr, payload = doJSON(t, h, http.MethodDelete, "/api/questions/"+qid, alice, nil)
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "Question by that id is either deleted or does not exists")

	rr, payload = doJSON(t, h, http.MethodGet, "/api/questions/"+qid, alice, nil)
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "Question by that id not found")
	rr, payload = doJSON(t, h, http.MethodGet, "/api/questions/not-an-id", alice, nil)
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "Question by that id not found")
}

func TestAddAnswerShape(t *testing.T) {
	h, _, _ := newTestServer(t)
	alice, aliceID := registerAndLogin(t, h, "alice")
	qid := askQuestion(t, h, alice, "What is a channel?")

	first := answerQuestion(t, h, alice, qid, "A typed conduit")
	rr, payload := doJSON(t, h, http.MethodPost, "/api/questions/"+qid+"/answer", alice, map[string]any{
		"addAnswer": map[string]any{"answer": "A pipe between goroutines"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("answer: %d %s", rr.Code, rr.Body.String())
	}
	if payload["_id"] != qid || payload["user"] != aliceID || payload["question"] != "What is a channel?" {
		t.Fatalf("unexpected answer payload %v", payload)
	}
	answers := payload["answers"].([]any)
	if len(answers) != 2 || answers[1].(map[string]any)["_id"] != first {
		t.Fatalf("expected newest answer first, got %v", answers)
	}

	rr, payload = doJSON(t, h, http.MethodPost, "/api/questions/"+qid+"/answer", alice, map[string]any{
		"addAnswer": map[string]any{"answer": ""},
	})
	expectError(t, rr, payload, http.StatusBadRequest, "answer", "The minimum character expected is 5 while maximum is 400")

	rr, payload = doJSON(t, h, http.MethodPost, "/api/questions/"+util.NewID()+"/answer", alice, map[string]any{
		"addAnswer": map[string]any{"answer": "Nobody will read this"},
	})
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "Question by that id not found")
}

func TestAnswerTransitions(t *testing.T) {
	h, _, _ := newTestServer(t)
	alice, aliceID := registerAndLogin(t, h, "alice")
	bob, bobID := registerAndLogin(t, h, "bob")
	qid := askQuestion(t, h, alice, "How do I stop a ticker?")
	aid := answerQuestion(t, h, bob, qid, "Call ticker.Stop()")
	other := answerQuestion(t, h, bob, qid, "Let it be collected")

	act := func(token, answerID, action string) (*httptest.ResponseRecorder, map[string]any) {
		return doJSON(t, h, http.MethodPost, "/api/questions/"+qid+"/"+answerID+"/"+action, token, nil)
	}
	answerIn := func(payload map[string]any, key, id string) map[string]any {
		q := payload[key].(map[string]any)
		for _, a := range q["answers"].([]any) {
			if m := a.(map[string]any); m["_id"] == id {
				return m
			}
		}
		t.Fatalf("answer %s missing from %s", id, key)
		return nil
	}

	rr, payload := act(bob, aid, "check")
	if rr.Code != http.StatusUnauthorized || errorsOf(payload)["notAuth"] == nil {
		t.Fatalf("stranger check: %d %v", rr.Code, payload)
	}

	rr, payload = act(alice, aid, "check")
	if rr.Code != http.StatusCreated || payload["message"] != "Answer checked" {
		t.Fatalf("check: %d %v", rr.Code, payload)
	}
	if got := answerIn(payload, "checkedQuestion", aid)["check"]; got != aliceID {
		t.Fatalf("expected check by %s, got %v", aliceID, got)
	}

	rr, payload = act(alice, other, "check")
	if rr.Code != http.StatusConflict || errorsOf(payload)["alreadyChecked"] == nil {
		t.Fatalf("second check: %d %v", rr.Code, payload)
	}

	rr, payload = act(alice, aid, "uncheck")
	if rr.Code != http.StatusOK || payload["message"] != "Answer unchecked" {
		t.Fatalf("uncheck: %d %v", rr.Code, payload)
	}
	if _, checked := answerIn(payload, "answer", aid)["check"]; checked {
		t.Fatal("expected the check marker to be cleared")
	}
	rr, payload = act(alice, aid, "uncheck")
	if rr.Code != http.StatusConflict || errorsOf(payload)["notChecked"] == nil {
		t.Fatalf("double uncheck: %d %v", rr.Code, payload)
	}

	rr, payload = act(bob, aid, "upvote")
	if rr.Code != http.StatusCreated || payload["message"] != "You have upvoted the answer" {
		t.Fatalf("upvote: %d %v", rr.Code, payload)
	}
	votes := answerIn(payload, "answer", aid)["upvote"].([]any)
	if len(votes) != 1 || votes[0].(map[string]any)["user"] != bobID {
		t.Fatalf("unexpected upvotes %v", votes)
	}
	rr, payload = act(bob, aid, "upvote")
	if rr.Code != http.StatusConflict || errorsOf(payload)["alreadyUpvoted"] == nil {
		t.Fatalf("double upvote: %d %v", rr.Code, payload)
	}
	rr, payload = act(bob, aid, "unupvote")
	if rr.Code != http.StatusOK || payload["message"] != "You have un upvoted the answer" {
		t.Fatalf("unupvote: %d %v", rr.Code, payload)
	}
	if left := answerIn(payload, "unupvote", aid)["upvote"].([]any); len(left) != 0 {
		t.Fatalf("expected no upvotes, got %v", left)
	}
	rr, payload = act(bob, aid, "unupvote")
	if rr.Code != http.StatusConflict || errorsOf(payload)["notUpvoted"] == nil {
		t.Fatalf("double unupvote: %d %v", rr.Code, payload)
	}

	rr, payload = act(alice, aid, "downvote")
	if rr.Code != http.StatusCreated || payload["message"] != "You have downvoted the answer" {
		t.Fatalf("downvote: %d %v", rr.Code, payload)
	}
	if _, ok := payload["downvote"]; !ok {
		t.Fatalf("expected downvote key, got %v", payload)
	}
	rr, payload = act(alice, aid, "undownvote")
	if rr.Code != http.StatusOK || payload["message"] != "You have un downvoted the answer" {
		t.Fatalf("undownvote: %d %v", rr.Code, payload)
	}
	if _, ok := payload["undownvoted"]; !ok {
		t.Fatalf("expected undownvoted key, got %v", payload)
	}

	rr, payload = act(bob, util.NewID(), "upvote")
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "Answer by that id not found")

	rr, payload = act(bob, aid, "frobnicate")
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "Route not found")
}

func TestAddComment(t *testing.T) {
	h, _, _ := newTestServer(t)
	alice, _ := registerAndLogin(t, h, "alice")
	qid := askQuestion(t, h, alice, "Is select fair?")
	aid := answerQuestion(t, h, alice, qid, "It picks uniformly at random")

	comment := func(answerID, text string) (*httptest.ResponseRecorder, map[string]any) {
		return doJSON(t, h, http.MethodPost, "/api/questions/"+qid+"/"+answerID+"/comment", alice, map[string]any{
			"addComment": map[string]any{"comment": text},
		})
	}

	rr, payload := comment(aid, "Thanks")
	if rr.Code != http.StatusCreated || payload["message"] != "Answer commented" {
		t.Fatalf("comment: %d %v", rr.Code, payload)
	}
	answer := payload["commented"].(map[string]any)["answers"].([]any)[0].(map[string]any)
	if comments := answer["comments"].([]any); len(comments) != 1 || comments[0].(map[string]any)["comment"] != "Thanks" {
		t.Fatalf("unexpected comments %v", answer["comments"])
	}

	rr, payload = comment(aid, "")
	expectError(t, rr, payload, http.StatusBadRequest, "comment", "Comment field is required")

	rr, payload = comment(util.NewID(), "Lost")
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "Answer by that id not found")
}

func TestMostAnswered(t *testing.T) {
	h, _, _ := newTestServer(t)
	alice, _ := registerAndLogin(t, h, "alice")
	bob, _ := registerAndLogin(t, h, "bob")

	rr, payload := doJSON(t, h, http.MethodGet, "/api/questions/questions/mostanswered", alice, nil)
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "There are no questions available")

	quiet := askQuestion(t, h, alice, "Anyone there?")
	rr, payload = doJSON(t, h, http.MethodGet, "/api/questions/questions/mostanswered", alice, nil)
	expectError(t, rr, payload, http.StatusBadRequest, "noAnswers", "There are no answers yet for the questions")

	first := askQuestion(t, h, bob, "Which came first?")
	second := askQuestion(t, h, alice, "Which came second?")
	for _, qid := range []string{first, first, second, second} {
		answerQuestion(t, h, alice, qid, "An answer of some length")
	}
	answerQuestion(t, h, bob, quiet, "Only one answer")

	rr, payload = doJSON(t, h, http.MethodGet, "/api/questions/questions/mostanswered", alice, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("mostanswered: %d %s", rr.Code, rr.Body.String())
	}
	if payload["answersCount"] != float64(2) {
		t.Fatalf("unexpected count %v", payload["answersCount"])
	}
	if got := payload["mostAnswered"].(map[string]any)["_id"]; got != first {
		t.Fatalf("expected earliest tied question %s, got %v", first, got)
	}
	if _, ok := payload["note"]; !ok {
		t.Fatal("expected a tie note")
	}
	if msg, _ := payload["message"].(string); !strings.Contains(msg, "bob") || !strings.Contains(msg, "(2)") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestOwnQuestions(t *testing.T) {
	h, _, _ := newTestServer(t)
	alice, _ := registerAndLogin(t, h, "alice")
	bob, _ := registerAndLogin(t, h, "bob")

	askQuestion(t, h, alice, "First of mine?")
	askQuestion(t, h, alice, "Second of mine?")

	rr, payload := doJSON(t, h, http.MethodGet, "/api/questions/questions/all", bob, nil)
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "This user has no questions yet")

	rr, payload = doJSON(t, h, http.MethodGet, "/api/questions/questions/all", alice, nil)
	if rr.Code != http.StatusOK || payload["message"] != "You have 2 questions" || payload["questionsCount"] != float64(2) {
		t.Fatalf("own questions: %d %v", rr.Code, payload)
	}
}

func TestSearchFallsBackToScan(t *testing.T) {
	h, _, _ := newTestServer(t)
	alice, _ := registerAndLogin(t, h, "alice")
	qid := askQuestion(t, h, alice, "How do goroutines leak?")
	askQuestion(t, h, alice, "What is a slice header?")
	answerQuestion(t, h, alice, qid, "Blocked forever on a channel")

	rr, payload := doJSON(t, h, http.MethodGet, "/api/questions/search?q=", "", nil)
	expectError(t, rr, payload, http.StatusBadRequest, "q", "Search query is required")

	rr, payload = doJSON(t, h, http.MethodGet, "/api/questions/search?q=GOROUTINES", "", nil)
	if rr.Code != http.StatusOK || payload["count"] != float64(1) {
		t.Fatalf("search: %d %v", rr.Code, payload)
	}
	hit := payload["results"].([]any)[0].(map[string]any)
	if hit["_id"] != qid {
		t.Fatalf("unexpected hit %v", hit)
	}

	rr, payload = doJSON(t, h, http.MethodGet, "/api/questions/search?q=channel", "", nil)
	if rr.Code != http.StatusOK || payload["count"] != float64(1) {
		t.Fatalf("search answers: %d %v", rr.Code, payload)
	}
}

func TestConcurrentWriteIsRejected(t *testing.T) {
	h, ms, _ := newTestServer(t)
	alice, _ := registerAndLogin(t, h, "alice")
	qid := askQuestion(t, h, alice, "Who wins the race?")

	ms.beforeReplace = func() { ms.bumpVersion(qid) }
	rr, payload := doJSON(t, h, http.MethodPost, "/api/questions/"+qid+"/answer", alice, map[string]any{
		"addAnswer": map[string]any{"answer": "The other writer"},
	})
	if rr.Code != http.StatusConflict || payload["code"] != CodeVersionConflict || errorsOf(payload)["version"] == nil {
		t.Fatalf("expected version conflict, got %d %v", rr.Code, payload)
	}

	got, err := ms.GetQuestion(t.Context(), qid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Answers) != 0 {
		t.Fatalf("rejected write must not persist, got %+v", got.Answers)
	}
}

func TestUnexpectedStoreErrorIsHidden(t *testing.T) {
	h, ms, _ := newTestServer(t)
	ms.listErr = errors.New("socket closed by peer")

	rr, payload := doJSON(t, h, http.MethodGet, "/api/questions/questions", "", nil)
	if rr.Code != http.StatusInternalServerError || payload["code"] != CodeInternal {
		t.Fatalf("expected 500, got %d %v", rr.Code, payload)
	}
	if strings.Contains(rr.Body.String(), "socket") {
		t.Fatalf("internal error text leaked: %s", rr.Body.String())
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	ms := newMemStore()
	svc := New(Deps{
		Store:      ms,
		Issuer:     auth.NewIssuer(testSecret, time.Hour),
		Accounts:   authpw.NewService(ms, bcrypt.MinCost),
		RateLimit:  2,
		RateWindow: time.Minute,
	})
	h := NewHTTPServer(svc, "*").Handler()

	login := map[string]any{"credentials": map[string]any{"email": "ghost@example.com", "password": "Secret#123"}}
	for i := 0; i < 2; i++ {
		rr, _ := doJSON(t, h, http.MethodPost, "/api/users/login", "", login)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}
	rr, payload := doJSON(t, h, http.MethodPost, "/api/users/login", "", login)
	if rr.Code != http.StatusTooManyRequests || payload["code"] != CodeRateLimited {
		t.Fatalf("expected 429, got %d %v", rr.Code, payload)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
}

func TestUnknownRoute(t *testing.T) {
	h, _, _ := newTestServer(t)
	rr, payload := doJSON(t, h, http.MethodGet, "/api/nothing/here", "", nil)
	expectError(t, rr, payload, http.StatusNotFound, "notFound", "Route not found")
}
