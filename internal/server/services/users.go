// Package services contains server-side business logic: registration and
// login with session tokens (UserService) and per-user identity keys
// (IdentityService).
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/spots/internal/common"
	"github.com/dmitrijs2005/spots/internal/cryptox"
	"github.com/dmitrijs2005/spots/internal/dbx"
	"github.com/dmitrijs2005/spots/internal/logging"
	"github.com/dmitrijs2005/spots/internal/server/auth"
	"github.com/dmitrijs2005/spots/internal/server/models"
	"github.com/dmitrijs2005/spots/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const maxUsernameLength = 64

// Session is the result of a successful login.
type Session struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// UserService provides authentication-related operations:
// - Register: create users together with their identity key
// - Login: verify credentials and mint a session token
// - Authenticate: resolve a session token to a user id
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	issuer      *auth.Issuer
	identities  *IdentityService
	tokenTTL    time.Duration
	log         logging.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, issuer *auth.Issuer, identities *IdentityService, tokenTTL time.Duration, log logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		issuer:      issuer,
		identities:  identities,
		tokenTTL:    tokenTTL,
		log:         log,
		now:         time.Now,
	}
}

func validateUsername(name string) error {
	if name == "" || len(name) > maxUsernameLength {
		return fmt.Errorf("%w: username must be 1..%d characters", common.ErrorValidation, maxUsernameLength)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c <= ' ' || c > '~' {
			return fmt.Errorf("%w: username must be printable ASCII without spaces", common.ErrorValidation)
		}
	}
	return nil
}

func passwordError(err error) error {
	if errors.Is(err, cryptox.ErrEmptyPassword) || errors.Is(err, cryptox.ErrPasswordTooLong) {
		return errors.Join(common.ErrorValidation, err)
	}
	return common.ErrorInternal
}

func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	cred, err := cryptox.NewCredential(username, password)
	if err != nil {
		perr := passwordError(err)
		if errors.Is(perr, common.ErrorInternal) {
			s.log.Error(ctx, "password hashing failed", "error", err)
		}
		return nil, perr
	}

	user := &models.User{
		ID:           uuid.NewString(),
		UserName:     cred.Username,
		Salt:         cred.Salt,
		PasswordHash: cred.PasswordHash,
	}

	created, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.User, error) {
		created, err := s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			return nil, err
		}
		if _, err := s.identities.Create(ctx, tx, created.ID); err != nil {
			return nil, err
		}
		return created, nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		s.log.Error(ctx, "registration failed", "username", username, "error", err)
		return nil, common.ErrorInternal
	}

	s.log.Info(ctx, "user registered", "user_id", created.ID)
	return created, nil
}

// dummy returns a valid hash used to spend the same time on unknown users
// as on known ones.
func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := cryptox.HashPassword(uuid.NewString())
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func (s *UserService) Login(ctx context.Context, username, password string) (*Session, error) {
	if err := cryptox.CheckPassword(password); err != nil {
		return nil, passwordError(err)
	}

	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_, _ = cryptox.VerifyPassword(password, s.dummy())
			return nil, common.ErrorUnauthorized
		}
		s.log.Error(ctx, "user lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	ok, err := cryptox.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.log.Error(ctx, "password verification failed", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}
	if !ok {
		return nil, common.ErrorUnauthorized
	}

	now := s.now()
	token, err := s.issuer.Issue(user.ID, now, s.tokenTTL)
	if err != nil {
		s.log.Error(ctx, "token issue failed", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}

	return &Session{UserID: user.ID, Token: token, ExpiresAt: now.Add(s.tokenTTL)}, nil
}

// Authenticate validates token and returns the user id it was issued to.
// Every failure surfaces as common.ErrorUnauthorized; the reason is logged.
func (s *UserService) Authenticate(ctx context.Context, token string) (string, error) {
	sub, err := s.issuer.Validate(token, s.now())
	if err != nil {
		s.log.Info(ctx, "token rejected", "reason", auth.Reason(err))
		return "", common.ErrorUnauthorized
	}

	if _, err := uuid.Parse(sub); err != nil {
		s.log.Warn(ctx, "token rejected", "reason", "subject")
		return "", common.ErrorUnauthorized
	}

	return sub, nil
}

func (s *UserService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		s.log.Error(ctx, "user lookup failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}
	return user, nil
}
