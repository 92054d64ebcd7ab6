package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"autograde-session/internal/app"
	"autograde-session/internal/config"
	"autograde-session/internal/infra/memory"
	pgstore "autograde-session/internal/infra/postgres"
	rediscache "autograde-session/internal/infra/redis"
	"autograde-session/internal/infra/sqlite"
	transport "autograde-session/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
)

// runtime holds the collaborators shared by every command.
type runtime struct {
	client   *transport.Client
	answers  app.AnswerStore
	sessions app.SessionRepository
	tests    app.TestRepository
	retry    app.RetryPolicy
	closers  []func()
}

func openRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	rt := &runtime{
		client: transport.NewClient(cfg.Remote.BaseURL, config.TTLDuration(cfg.Remote.Timeout, 15*time.Second)),
		retry: app.RetryPolicy{
			MaxAttempts: cfg.Submit.MaxAttempts,
			InitialWait: config.TTLDuration(cfg.Submit.InitialWait, 500*time.Millisecond),
			MaxWait:     config.TTLDuration(cfg.Submit.MaxWait, 5*time.Second),
		},
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}

	switch cfg.Store.Driver {
	case config.DriverSQLite, "":
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		rt.answers, rt.sessions = store, store
	case config.DriverMemory:
		rt.answers, rt.sessions = memory.NewAnswerStore(), memory.NewSessionStore()
	case config.DriverRedis:
		if redisClient == nil {
			rt.Close()
			return nil, fmt.Errorf("redis addr not configured")
		}
		rt.answers, rt.sessions = rediscache.NewAnswerStore(redisClient), rediscache.NewSessionStore(redisClient)
	case config.DriverPostgres:
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			rt.Close()
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		store := pgstore.NewStore(pool)
		rt.answers, rt.sessions = store, store
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	testsTTL := config.TTLDuration(cfg.Tests.TTL, 10*time.Minute)
	if redisClient != nil {
		rt.tests = rediscache.NewTestRepository(redisClient, rt.client, testsTTL)
	} else {
		rt.tests = memory.NewTestRepository(rt.client, testsTTL)
	}
	log.Printf("store driver %s, grading service %s", cfg.Store.Driver, cfg.Remote.BaseURL)
	return rt, nil
}

func (rt *runtime) controller(auth app.AuthProvider) *app.Controller {
	return app.NewController(rt.client, rt.tests, rt.answers, rt.sessions, auth)
}

func (rt *runtime) coordinator(auth app.AuthProvider) *app.Coordinator {
	return app.NewCoordinator(rt.client, rt.answers, rt.sessions, auth, rt.retry)
}

// Close releases stores and connections in reverse order of opening.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// withRuntime loads config, opens the runtime and closes it after fn returns.
func withRuntime(ctx context.Context, configPath string, fn func(*runtime) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
