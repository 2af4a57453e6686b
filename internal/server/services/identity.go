package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/dmitrijs2005/spots/internal/common"
	"github.com/dmitrijs2005/spots/internal/cryptox"
	"github.com/dmitrijs2005/spots/internal/dbx"
	"github.com/dmitrijs2005/spots/internal/logging"
	"github.com/dmitrijs2005/spots/internal/server/backups"
	"github.com/dmitrijs2005/spots/internal/server/models"
	"github.com/dmitrijs2005/spots/internal/server/repositories/repomanager"
)

// generateIdentityKey is a seam for tests.
var generateIdentityKey = func() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// BackupStore uploads encrypted blobs.
type BackupStore interface {
	Put(ctx context.Context, userID string, data []byte) (*backups.Backup, error)
}

// IdentityService manages each user's long-lived Ed25519 identity key. The
// private seed is only ever stored sealed under the secret-envelope key.
type IdentityService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sealer      *cryptox.Sealer
	backups     BackupStore
	log         logging.Logger
}

// NewIdentityService wires the service. store may be nil when backups are
// disabled.
func NewIdentityService(db *sql.DB, m repomanager.RepositoryManager, sealer *cryptox.Sealer, store BackupStore, log logging.Logger) *IdentityService {
	return &IdentityService{
		db:          db,
		repomanager: m,
		sealer:      sealer,
		backups:     store,
		log:         log,
	}
}

func (s *IdentityService) newKey(userID string) (*models.IdentityKey, error) {
	pub, priv, err := generateIdentityKey()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	seed := priv.Seed()
	defer cryptox.Wipe(seed)
	defer cryptox.Wipe(priv)

	raw, err := s.seal(seed)
	if err != nil {
		return nil, err
	}

	return &models.IdentityKey{UserID: userID, Envelope: raw, PublicKey: bytes.Clone(pub)}, nil
}

func (s *IdentityService) seal(seed []byte) ([]byte, error) {
	env, err := s.sealer.Encrypt(seed)
	if err != nil {
		return nil, fmt.Errorf("seal identity key: %w", err)
	}
	return env.MarshalBinary()
}

// Create generates and stores a new identity key for userID using tx, so it
// can share a transaction with user registration.
func (s *IdentityService) Create(ctx context.Context, tx dbx.DBTX, userID string) (*models.IdentityKey, error) {
	key, err := s.newKey(userID)
	if err != nil {
		return nil, err
	}
	return s.repomanager.IdentityKeys(tx).Create(ctx, key)
}

func (s *IdentityService) get(ctx context.Context, userID string) (*models.IdentityKey, error) {
	key, err := s.repomanager.IdentityKeys(s.db).Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		s.log.Error(ctx, "identity key lookup failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}
	return key, nil
}

// PublicKey returns the user's Ed25519 public key.
func (s *IdentityService) PublicKey(ctx context.Context, userID string) ([]byte, error) {
	key, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return key.PublicKey, nil
}

// Sign signs message with the user's identity key. Envelopes still carrying
// a per-blob key are re-sealed under the master key before returning.
func (s *IdentityService) Sign(ctx context.Context, userID string, message []byte) ([]byte, error) {
	key, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var env cryptox.EncryptedSecret
	if err := env.UnmarshalBinary(key.Envelope); err != nil {
		s.log.Error(ctx, "identity envelope corrupt", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}

	seed, err := s.sealer.Decrypt(&env)
	if err != nil {
		s.log.Error(ctx, "identity envelope did not open", "user_id", userID, "envelope", &env, "error", err)
		return nil, common.ErrorInternal
	}
	defer cryptox.Wipe(seed)

	if len(seed) != ed25519.SeedSize {
		s.log.Error(ctx, "identity seed has wrong size", "user_id", userID, "size", len(seed))
		return nil, common.ErrorInternal
	}

	priv := ed25519.NewKeyFromSeed(seed)
	defer cryptox.Wipe(priv)

	pub, _ := priv.Public().(ed25519.PublicKey)
	if !bytes.Equal(pub, key.PublicKey) {
		s.log.Error(ctx, "identity key does not match stored public key", "user_id", userID)
		return nil, common.ErrorInternal
	}

	if env.Legacy() {
		s.migrate(ctx, key, seed)
	}

	return ed25519.Sign(priv, message), nil
}

// migrate re-seals a legacy envelope under the master key. The write only
// lands if the stored envelope is still the one that was read. Failures are
// logged and retried on the next use.
func (s *IdentityService) migrate(ctx context.Context, key *models.IdentityKey, seed []byte) {
	raw, err := s.seal(seed)
	if err != nil {
		s.log.Warn(ctx, "legacy identity envelope not migrated", "user_id", key.UserID, "error", err)
		return
	}

	updated := &models.IdentityKey{UserID: key.UserID, Envelope: raw, PublicKey: key.PublicKey}
	ok, err := s.repomanager.IdentityKeys(s.db).ReplaceIf(ctx, updated, key.Envelope)
	if err != nil {
		s.log.Warn(ctx, "legacy identity envelope not migrated", "user_id", key.UserID, "error", err)
		return
	}
	if !ok {
		// rotated or migrated concurrently
		s.log.Info(ctx, "legacy identity envelope already replaced", "user_id", key.UserID)
		return
	}
	s.log.Info(ctx, "legacy identity envelope migrated", "user_id", key.UserID)
}

// Rotate replaces the user's identity key with a fresh one.
func (s *IdentityService) Rotate(ctx context.Context, userID string) (*models.IdentityKey, error) {
	key, err := s.newKey(userID)
	if err != nil {
		s.log.Error(ctx, "identity key generation failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}

	rotated, err := s.repomanager.IdentityKeys(s.db).Replace(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		s.log.Error(ctx, "identity key rotation failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}

	s.log.Info(ctx, "identity key rotated", "user_id", userID)
	return rotated, nil
}

// Backup uploads the sealed envelope to object storage. The envelope leaves
// the process encrypted; the storage backend never sees the seed.
func (s *IdentityService) Backup(ctx context.Context, userID string) (*backups.Backup, error) {
	if s.backups == nil {
		return nil, common.ErrorNotConfigured
	}

	key, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}

	b, err := s.backups.Put(ctx, userID, key.Envelope)
	if err != nil {
		s.log.Error(ctx, "identity backup failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}

	s.log.Info(ctx, "identity backed up", "user_id", userID, "object", b.Key)
	return b, nil
}
