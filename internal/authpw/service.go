// Package authpw provides email/password accounts: signup with a hashed password and
// login by credential check.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"qahub/api/internal/avatar"
	"qahub/api/internal/store"
	"qahub/api/internal/util"
	"qahub/api/internal/validation"
)

const DefaultCost = 10

var (
	ErrEmailTaken    = errors.New("email already exists")
	ErrUserNameTaken = errors.New("user name already taken")
	ErrUnknownEmail  = errors.New("no account for email")
	ErrBadPassword   = errors.New("password does not match")
)

// UserStore defines the storage interface for accounts
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// AvatarMirror copies a remote avatar and returns the URL to store instead.
type AvatarMirror interface {
	Mirror(ctx context.Context, key, sourceURL string) (string, error)
}

// Service provides email/password authentication
type Service struct {
	store  UserStore
	cost   int
	mirror AvatarMirror
	now    func() time.Time
}

// NewService creates a new account service. cost <= 0 means DefaultCost.
func NewService(store UserStore, cost int) *Service {
	if cost <= 0 {
		cost = DefaultCost
	}
	return &Service{store: store, cost: cost, now: time.Now}
}

// WithAvatarMirror stores new avatars through m. A failed mirror keeps the gravatar URL.
func (s *Service) WithAvatarMirror(m AvatarMirror) *Service {
	s.mirror = m
	return s
}

// HashPassword salts and hashes plain; identical inputs produce different hashes.
func HashPassword(plain string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func VerifyPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// SignUp creates a new user account from an already validated payload.
func (s *Service) SignUp(ctx context.Context, req validation.Signup) (store.User, error) {
	email := strings.ToLower(req.Email)
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := HashPassword(req.Password, s.cost)
	if err != nil {
		return store.User{}, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	user := store.User{
		ID:           util.NewID(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		UserName:     req.UserName,
		Email:        email,
		Avatar:       avatar.Gravatar(email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.mirror != nil {
		mirrorCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if url, err := s.mirror.Mirror(mirrorCtx, user.ID, user.Avatar); err != nil {
			log.Printf("authpw: avatar mirror for %s: %v", user.ID, err)
		} else {
			user.Avatar = url
		}
		cancel()
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateUserName):
			return store.User{}, ErrUserNameTaken
		case errors.Is(err, store.ErrDuplicateEmail):
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user
func (s *Service) SignIn(ctx context.Context, req validation.Login) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrUnknownEmail
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup email: %w", err)
	}
	if !VerifyPassword(req.Password, user.PasswordHash) {
		return store.User{}, ErrBadPassword
	}
	return user, nil
}
