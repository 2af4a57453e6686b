// Package server wires configuration, storage, crypto and services together
// and runs the HTTP and gRPC front ends until shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/spots/internal/cryptox"
	"github.com/dmitrijs2005/spots/internal/logging"
	"github.com/dmitrijs2005/spots/internal/server/auth"
	"github.com/dmitrijs2005/spots/internal/server/backups"
	"github.com/dmitrijs2005/spots/internal/server/config"
	"github.com/dmitrijs2005/spots/internal/server/httpapi"
	"github.com/dmitrijs2005/spots/internal/server/noncestore"
	"github.com/dmitrijs2005/spots/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/spots/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/spots/internal/server/grpc"
)

const (
	tokenNonceName  = "session-token"
	secretNonceName = "secret-envelope"

	redisAttempts = 5
	redisInterval = time.Second
)

var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

type App struct {
	config          *config.Config
	logger          logging.Logger
	db              *sql.DB
	redis           *redis.Client
	userService     *services.UserService
	identityService *services.IdentityService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(os.Stdout, c.LogLevel)

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}
	if err := app.init(ctx); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations error: %w", err)
	}

	reserver, err := app.reserverFor(ctx, rm)
	if err != nil {
		return err
	}

	keys, err := c.Keys()
	if err != nil {
		return fmt.Errorf("key derivation error: %w", err)
	}
	defer keys.Wipe()

	tokenSealer, err := cryptox.NewSealer(keys.Token, newNonceSource(c, reserver, tokenNonceName))
	if err != nil {
		return err
	}
	secretSealer, err := cryptox.NewSealer(keys.Secret, newNonceSource(c, reserver, secretNonceName))
	if err != nil {
		return err
	}

	var store services.BackupStore
	if c.BackupsEnabled() {
		s3, err := backups.NewS3Store(ctx, backups.Options{
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Endpoint:  c.S3BaseEndpoint,
		})
		if err != nil {
			return fmt.Errorf("s3 init error: %w", err)
		}
		store = s3
	}

	app.identityService = services.NewIdentityService(app.db, rm, secretSealer, store, app.logger)
	app.userService = services.NewUserService(app.db, rm, auth.NewIssuer(tokenSealer), app.identityService, c.TokenTTL, app.logger)

	app.logger.Info(ctx, "App initialized",
		"nonce_policy", c.NoncePolicy,
		"nonce_store", c.NonceStore,
		"backups", c.BackupsEnabled(),
	)
	return nil
}

// reserverFor returns the counter block reserver for the configured nonce
// store, or nil when nonces are random.
func (app *App) reserverFor(ctx context.Context, rm repomanager.RepositoryManager) (func(name string) cryptox.Reserver, error) {
	c := app.config
	if c.NoncePolicy != config.NoncePolicyCounter {
		return nil, nil
	}

	counters := rm.NonceCounters(app.db)
	names := []string{tokenNonceName, secretNonceName}

	if c.NonceStore == config.NonceStoreRedis {
		if err := noncestore.ClaimRedis(ctx, counters, names...); err != nil {
			return nil, fmt.Errorf("nonce store error: %w", err)
		}
		client, err := noncestore.ConnectRedis(ctx, c.RedisURL, redisAttempts, redisInterval)
		if err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		app.redis = client
		return func(name string) cryptox.Reserver {
			return noncestore.NewRedisReserver(client, name)
		}, nil
	}

	if err := noncestore.ClaimPostgres(ctx, counters, names...); err != nil {
		return nil, fmt.Errorf("nonce store error: %w", err)
	}
	return func(name string) cryptox.Reserver {
		return noncestore.NewPostgresReserver(counters, name)
	}, nil
}

// newNonceSource gives each key its own counter namespace so two keys never
// draw from one sequence.
func newNonceSource(c *config.Config, reserver func(name string) cryptox.Reserver, name string) cryptox.NonceSource {
	if c.NoncePolicy != config.NoncePolicyCounter || reserver == nil {
		return cryptox.NewRandomNonces()
	}
	return cryptox.NewNonceSequence(reserver(name), c.NonceBlockSize)
}

func (app *App) ping(ctx context.Context) error {
	if err := app.db.PingContext(ctx); err != nil {
		return err
	}
	if app.redis != nil {
		return app.redis.Ping(ctx).Err()
	}
	return nil
}

func (app *App) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	h := httpapi.NewHandler(app.userService, app.identityService, app.logger, app.ping)
	s := httpapi.NewHTTPServer(app.config.HTTPAddr, h.Router(), app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.userService)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is done, a signal arrives or a server fails.
func (app *App) Run(ctx context.Context) {
	defer app.close()

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.config.GRPCAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	app.logger.Info(ctx, "App stopped")
}
