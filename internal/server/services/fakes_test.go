package services

import (
	"bytes"
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/spots/internal/common"
	"github.com/dmitrijs2005/spots/internal/cryptox"
	"github.com/dmitrijs2005/spots/internal/dbx"
	"github.com/dmitrijs2005/spots/internal/logging"
	"github.com/dmitrijs2005/spots/internal/server/auth"
	"github.com/dmitrijs2005/spots/internal/server/backups"
	"github.com/dmitrijs2005/spots/internal/server/models"
	"github.com/dmitrijs2005/spots/internal/server/repositories/identitykeys"
	"github.com/dmitrijs2005/spots/internal/server/repositories/noncecounters"
	usersrepo "github.com/dmitrijs2005/spots/internal/server/repositories/users"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func newSealer(t *testing.T) *cryptox.Sealer {
	t.Helper()
	key, err := cryptox.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	s, err := cryptox.NewSealer(key, cryptox.NewRandomNonces())
	if err != nil {
		t.Fatalf("NewSealer error: %v", err)
	}
	return s
}

type fakeUsersRepo struct {
	mu        sync.Mutex
	byID      map[string]*models.User
	createErr error
	getErr    error
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.byID == nil {
		f.byID = make(map[string]*models.User)
	}
	for _, existing := range f.byID {
		if existing.UserName == u.UserName {
			return nil, common.ErrorAlreadyExists
		}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	f.byID[u.ID] = &cp
	return &cp, nil
}

func (f *fakeUsersRepo) GetUserByLogin(ctx context.Context, userName string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if u.UserName == userName {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

type fakeIdentityRepo struct {
	mu         sync.Mutex
	byUser     map[string]*models.IdentityKey
	createErr  error
	getErr     error
	replaceErr error
	replaced   int

	beforeReplaceIf func()
}

func (f *fakeIdentityRepo) Create(ctx context.Context, k *models.IdentityKey) (*models.IdentityKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.byUser == nil {
		f.byUser = make(map[string]*models.IdentityKey)
	}
	cp := *k
	cp.CreatedAt, cp.UpdatedAt = time.Now(), time.Now()
	f.byUser[k.UserID] = &cp
	return &cp, nil
}

func (f *fakeIdentityRepo) Get(ctx context.Context, userID string) (*models.IdentityKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if k, ok := f.byUser[userID]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeIdentityRepo) Replace(ctx context.Context, k *models.IdentityKey) (*models.IdentityKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	old, ok := f.byUser[k.UserID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *k
	cp.CreatedAt, cp.UpdatedAt = old.CreatedAt, time.Now()
	f.byUser[k.UserID] = &cp
	f.replaced++
	return &cp, nil
}

func (f *fakeIdentityRepo) ReplaceIf(ctx context.Context, k *models.IdentityKey, old []byte) (bool, error) {
	if f.beforeReplaceIf != nil {
		f.beforeReplaceIf()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return false, f.replaceErr
	}
	cur, ok := f.byUser[k.UserID]
	if !ok || !bytes.Equal(cur.Envelope, old) {
		return false, nil
	}
	cp := *k
	cp.CreatedAt, cp.UpdatedAt = cur.CreatedAt, time.Now()
	f.byUser[k.UserID] = &cp
	f.replaced++
	return true, nil
}

func (f *fakeIdentityRepo) stored(userID string) *models.IdentityKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byUser[userID]
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	k *fakeIdentityRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{u: &fakeUsersRepo{}, k: &fakeIdentityRepo{}}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error       { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository             { return m.u }
func (m *fakeRepoManager) IdentityKeys(db dbx.DBTX) identitykeys.Repository   { return m.k }
func (m *fakeRepoManager) NonceCounters(db dbx.DBTX) noncecounters.Repository { return nil }

type fakeBackups struct {
	userID string
	data   []byte
	err    error
}

func (f *fakeBackups) Put(ctx context.Context, userID string, data []byte) (*backups.Backup, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.userID = userID
	f.data = bytes.Clone(data)
	return &backups.Backup{Key: "identity/" + userID + "/x.bin", URL: "https://s3.local/x"}, nil
}

type fixture struct {
	db       *sql.DB
	mock     sqlmock.Sqlmock
	rm       *fakeRepoManager
	sealer   *cryptox.Sealer
	issuer   *auth.Issuer
	identity *IdentityService
	users    *UserService
	backups  *fakeBackups
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	sealer := newSealer(t)
	issuer := auth.NewIssuer(newSealer(t))
	bk := &fakeBackups{}
	log := logging.Discard()

	identity := NewIdentityService(db, rm, sealer, bk, log)
	users := NewUserService(db, rm, issuer, identity, time.Hour, log)

	return &fixture{db: db, mock: mock, rm: rm, sealer: sealer, issuer: issuer, identity: identity, users: users, backups: bk}
}

// register creates a user through the service, expecting one committed tx.
func (f *fixture) register(t *testing.T, name, password string) *models.User {
	t.Helper()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	u, err := f.users.Register(context.Background(), name, password)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	return u
}
