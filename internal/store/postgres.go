package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// PostgresStore keeps the same two-collection layout as MongoStore: a users table and a
// questions table whose answers live in one JSONB column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, user_name, email, avatar, password_hash, confirmed, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, user.ID, user.FirstName, user.LastName, user.UserName, strings.ToLower(user.Email), user.Avatar,
		user.PasswordHash, user.Confirmed, user.IsAdmin, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		switch uniqueConstraint(err) {
		case "users_user_name_key":
			return ErrDuplicateUserName
		case "users_email_key":
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const selectUser = `SELECT id, first_name, last_name, user_name, email, avatar, password_hash, confirmed, is_admin, created_at, updated_at FROM users`

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE email=$1`, strings.ToLower(email)))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE id=$1`, id))
}

func (s *PostgresStore) ListUsersByID(ctx context.Context, ids []string) (map[string]User, error) {
	out := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, selectUser+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.FirstName, &user.LastName, &user.UserName, &user.Email, &user.Avatar,
		&user.PasswordHash, &user.Confirmed, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) InsertQuestion(ctx context.Context, q Question) error {
	q.Normalize()
	answers, err := json.Marshal(q.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO questions (id, user_id, question, answers, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, q.ID, q.UserID, q.Question, answers, q.Version, q.CreatedAt)
	if err != nil {
		if uniqueConstraint(err) == "questions_question_key" {
			return ErrDuplicateQuestion
		}
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

const selectQuestion = `SELECT id, user_id, question, answers, version, created_at FROM questions`

func (s *PostgresStore) FindQuestionByText(ctx context.Context, text string) (Question, error) {
	return scanQuestion(s.db.QueryRowContext(ctx, selectQuestion+` WHERE question=$1`, text))
}

func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	return scanQuestion(s.db.QueryRowContext(ctx, selectQuestion+` WHERE id=$1`, id))
}

func scanQuestion(row rowScanner) (Question, error) {
	var (
		q       Question
		answers []byte
	)
	err := row.Scan(&q.ID, &q.UserID, &q.Question, &answers, &q.Version, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, ErrNotFound
	}
	if err != nil {
		return Question{}, fmt.Errorf("scan question: %w", err)
	}
	if err := json.Unmarshal(answers, &q.Answers); err != nil {
		return Question{}, fmt.Errorf("decode answers for %s: %w", q.ID, err)
	}
	q.Normalize()
	return q, nil
}

// ReplaceQuestion writes q only if the stored version still equals q.Version.
// On success q.Version is advanced.
func (s *PostgresStore) ReplaceQuestion(ctx context.Context, q *Question) error {
	q.Normalize()
	answers, err := json.Marshal(q.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	var version int64
	err = s.db.QueryRowContext(ctx, `
		UPDATE questions SET question=$3, answers=$4, version=version+1
		WHERE id=$1 AND version=$2
		RETURNING version
	`, q.ID, q.Version, q.Question, answers).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM questions WHERE id=$1)`, q.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check question: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err != nil {
		if uniqueConstraint(err) == "questions_question_key" {
			return ErrDuplicateQuestion
		}
		return fmt.Errorf("replace question: %w", err)
	}
	q.Version = version
	return nil
}

func (s *PostgresStore) DeleteQuestion(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context) ([]Question, error) {
	return s.listQuestions(ctx, selectQuestion+` ORDER BY seq`)
}

func (s *PostgresStore) ListQuestionsByUser(ctx context.Context, userID string) ([]Question, error) {
	return s.listQuestions(ctx, selectQuestion+` WHERE user_id=$1 ORDER BY seq`, userID)
}

func (s *PostgresStore) listQuestions(ctx context.Context, query string, args ...any) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	questions := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return questions, nil
}

func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}
