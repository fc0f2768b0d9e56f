package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qahub/api/internal/search"
	"qahub/api/internal/store"
	"qahub/api/internal/thread"
	"qahub/api/internal/util"
	"qahub/api/internal/validation"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		checks["sessions"] = map[string]any{"status": "ok"}
		if err := s.service.PingSessions(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["sessions"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"state":  status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" {
		s.notFoundRoute(w)
		return
	}

	switch parts[1] {
	case "users":
		s.handleUsers(w, r, parts[2:])
	case "questions":
		s.handleQuestions(w, r, parts[2:])
	default:
		s.notFoundRoute(w)
	}
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 {
		s.notFoundRoute(w)
		return
	}
	switch {
	case r.Method == http.MethodPost && parts[0] == "signup":
		s.handleSignUp(w, r)
	case r.Method == http.MethodPost && parts[0] == "login":
		s.handleLogin(w, r)
	case r.Method == http.MethodPost && parts[0] == "logout":
		sess, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.Logout(r.Context(), sess); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "You have logged out"})
	case r.Method == http.MethodGet && parts[0] == "me":
		sess, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		user, err := s.service.Me(r.Context(), sess)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	default:
		s.notFoundRoute(w)
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Throttle(r.Context(), "signup", clientIP(r)); err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		RegisterUser validation.Signup `json:"registerUser"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	user, err := s.service.SignUp(r.Context(), body.RegisterUser)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userPayload(user))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Throttle(r.Context(), "login", clientIP(r)); err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Credentials validation.Login `json:"credentials"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	result, err := s.service.Login(r.Context(), body.Credentials)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "You have logged in as " + result.User.Email,
		"token":   result.Token,
		"user": map[string]any{
			"email":     result.User.Email,
			"firstName": result.User.FirstName,
			"lastName":  result.User.LastName,
			"userName":  result.User.UserName,
			"avatar":    result.User.Avatar,
		},
	})
}

func (s *HTTPServer) handleQuestions(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 1 && parts[0] == "question" && r.Method == http.MethodPost:
		s.handleCreateQuestion(w, r)
		return
	case len(parts) == 1 && parts[0] == "questions" && r.Method == http.MethodGet:
		s.handleListQuestions(w, r)
		return
	case len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r)
		return
	case len(parts) == 2 && parts[0] == "questions" && parts[1] == "mostanswered" && r.Method == http.MethodGet:
		s.handleMostAnswered(w, r)
		return
	case len(parts) == 2 && parts[0] == "questions" && parts[1] == "all" && r.Method == http.MethodGet:
		s.handleOwnQuestions(w, r)
		return
	}

	questionID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		q, err := s.service.GetQuestion(r.Context(), questionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questionFound": q})
	case len(parts) == 1 && r.Method == http.MethodPut:
		s.handleEditQuestion(w, r, questionID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		sess, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.DeleteQuestion(r.Context(), sess, questionID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Question deleted"})
	case len(parts) == 2 && parts[1] == "answer" && r.Method == http.MethodPost:
		s.handleAddAnswer(w, r, questionID)
	case len(parts) == 3 && parts[2] == "comment" && r.Method == http.MethodPost:
		s.handleAddComment(w, r, questionID, parts[1])
	case len(parts) == 3 && r.Method == http.MethodPost:
		t, ok := thread.ParseTransition(parts[2])
		if !ok {
			s.notFoundRoute(w)
			return
		}
		s.handleTransition(w, r, questionID, parts[1], t)
	default:
		s.notFoundRoute(w)
	}
}

func (s *HTTPServer) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		AddQuestion validation.Question `json:"addQuestion"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	q, err := s.service.CreateQuestion(r.Context(), sess, body.AddQuestion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"savedQuestion": map[string]any{
			"_id":      q.ID,
			"question": q.Question,
			"user":     UserRef{ID: q.UserID},
		},
	})
}

func (s *HTTPServer) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.service.ListQuestions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Question(s) listed below",
		"count":          len(questions),
		"questionsFound": questions,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	resp, err := s.service.Search(r.Context(), search.Query{
		Text:   query.Get("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleMostAnswered(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireSession(w, r); !ok {
		return
	}
	result, err := s.service.MostAnswered(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	payload := map[string]any{
		"answersCount": result.Count,
		"message": fmt.Sprintf("The question from %s received most answers, (%d) in total",
			result.Question.User.UserName, result.Count),
		"mostAnswered": result.Question,
	}
	if result.Tie {
		payload["note"] = "There are other question with the same number of answers. However, this question was asked earlier."
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleOwnQuestions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	questions, err := s.service.OwnQuestions(r.Context(), sess)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"questionsCount": len(questions),
		"message":        fmt.Sprintf("You have %d questions", len(questions)),
		"userQuestions":  questions,
	})
}

func (s *HTTPServer) handleEditQuestion(w http.ResponseWriter, r *http.Request, questionID string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		PutQuestion validation.Question `json:"putQuestion"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	q, err := s.service.EditQuestion(r.Context(), sess, questionID, body.PutQuestion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Question successfully updated",
		"updatedQuestion": q,
	})
}

func (s *HTTPServer) handleAddAnswer(w http.ResponseWriter, r *http.Request, questionID string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		AddAnswer validation.Answer `json:"addAnswer"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	q, err := s.service.AddAnswer(r.Context(), sess, questionID, body.AddAnswer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"_id":      q.ID,
		"user":     q.UserID,
		"question": q.Question,
		"answers":  q.Answers,
	})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, questionID, answerID string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		AddComment validation.Comment `json:"addComment"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	q, err := s.service.AddComment(r.Context(), sess, questionID, answerID, body.AddComment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":   "Answer commented",
		"commented": q,
	})
}

// transitionReplies holds the success message and payload key per transition.
var transitionReplies = map[thread.Transition]struct {
	message string
	key     string
}{
	thread.Accept:         {"Answer checked", "checkedQuestion"},
	thread.Unaccept:       {"Answer unchecked", "answer"},
	thread.Upvote:         {"You have upvoted the answer", "answer"},
	thread.RemoveUpvote:   {"You have un upvoted the answer", "unupvote"},
	thread.Downvote:       {"You have downvoted the answer", "downvote"},
	thread.RemoveDownvote: {"You have un downvoted the answer", "undownvoted"},
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request, questionID, answerID string, t thread.Transition) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	q, err := s.service.AnswerTransition(r.Context(), sess, questionID, answerID, t)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if t.Creates() {
		status = http.StatusCreated
	}
	reply := transitionReplies[t]
	writeJSON(w, status, map[string]any{
		"message": reply.message,
		reply.key: q,
	})
}

func (s *HTTPServer) notFoundRoute(w http.ResponseWriter) {
	writeError(w, domainError(http.StatusNotFound, CodeNotFound, "notFound", "Route not found"))
}

// requireSession resolves the caller from the Authorization header. Both
// "Bearer <token>" and a bare token are accepted.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, errMissingToken)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// writeJSON stamps the status code into the body as a string before encoding.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	if status == http.StatusNoContent {
		return
	}
	body := map[string]any{}
	switch p := payload.(type) {
	case map[string]any:
		for k, v := range p {
			body[k] = v
		}
	default:
		raw, err := json.Marshal(payload)
		if err == nil {
			_ = json.Unmarshal(raw, &body)
		}
	}
	body["status"] = strconv.Itoa(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	derr := mapError(err)
	if derr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(derr.RetryAfter))
	}
	writeJSON(w, derr.Status, map[string]any{
		"code":   derr.Code,
		"errors": derr.Errors,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeOrReject(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, validationError(map[string]string{"body": err.Error()}))
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return header
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"_id":       user.ID,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"userName":  user.UserName,
		"email":     user.Email,
		"avatar":    user.Avatar,
		"confirmed": user.Confirmed,
		"isAdmin":   user.IsAdmin,
		"createdAt": user.CreatedAt,
		"updatedAt": user.UpdatedAt,
	}
}
