package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"autograde-session/internal/app"
	"autograde-session/internal/domain"
	pgstore "autograde-session/internal/infra/postgres"
	pgmigrations "autograde-session/internal/infra/postgres/migrations"
	infraredis "autograde-session/internal/infra/redis"
	transport "autograde-session/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestPostgresSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)
	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := pgstore.NewStore(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	grading := newGradingServer(t)
	client := transport.NewClient(grading.URL(), 5*time.Second)
	tests := infraredis.NewTestRepository(redisClient, client, 5*time.Minute)

	runGuestScenario(t, ctx, client, tests, store, store, grading)
}

func TestRedisSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()
	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	grading := newGradingServer(t)
	client := transport.NewClient(grading.URL(), 5*time.Second)
	tests := infraredis.NewTestRepository(redisClient, client, 5*time.Minute)

	runGuestScenario(t, ctx, client, tests, infraredis.NewAnswerStore(redisClient), infraredis.NewSessionStore(redisClient), grading)
}

// runGuestScenario starts T1 as alice, answers q1, bookmarks q2 and submits twice.
func runGuestScenario(t *testing.T, ctx context.Context, client *transport.Client, tests app.TestRepository, answers app.AnswerStore, sessions app.SessionRepository, grading *gradingServer) {
	t.Helper()
	controller := app.NewController(client, tests, answers, sessions, nil)
	defer controller.Close()
	coordinator := app.NewCoordinator(client, answers, sessions, nil, app.RetryPolicy{MaxAttempts: 2, InitialWait: 10 * time.Millisecond})
	defer coordinator.Close()

	res, err := controller.StartGuest(ctx, "T1", "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sid := res.Session.ID
	if res.Session.Status != domain.StatusStarted {
		t.Fatalf("expected started session, got %s", res.Session.Status)
	}
	if err := coordinator.RecordAnswer(ctx, sid, "q1", "B"); err != nil {
		t.Fatalf("record answer: %v", err)
	}
	if err := coordinator.SetBookmark(ctx, sid, "q2", true); err != nil {
		t.Fatalf("set bookmark: %v", err)
	}
	if marked, err := controller.IsBookmarked(ctx, "q2"); err != nil || !marked {
		t.Fatalf("expected q2 bookmarked, got %v err=%v", marked, err)
	}

	ack, err := coordinator.Submit(ctx, sid)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	again, err := coordinator.Submit(ctx, sid)
	if err != nil || again.Message != ack.Message {
		t.Fatalf("repeat submit: %+v err=%v", again, err)
	}

	stored, ok, err := sessions.GetSession(ctx, sid)
	if err != nil || !ok || stored.Status != domain.StatusSubmitted || stored.Ack == nil {
		t.Fatalf("expected submitted record, got %+v ok=%v err=%v", stored, ok, err)
	}

	submitted := grading.submissions()
	if len(submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(submitted))
	}
	want := []domain.SubmissionEntry{{QuestionID: "q1", AnswerText: "B"}}
	if !reflect.DeepEqual(submitted[0], want) {
		t.Fatalf("sent %+v, want %+v", submitted[0], want)
	}

	preview, err := controller.Preview(ctx, "T1")
	if err != nil || preview.DurationMinutes != 30 {
		t.Fatalf("preview through cache: %+v err=%v", preview, err)
	}
}

type gradingServer struct {
	srv *httptest.Server

	mu        sync.Mutex
	submitted [][]domain.SubmissionEntry
}

func newGradingServer(t *testing.T) *gradingServer {
	t.Helper()
	g := &gradingServer{}
	test := `{"id":"T1","testTitle":"Arithmetic","testDuration":30,"questionCount":2,"questions":[{"id":"q1"},{"id":"q2"}]}`
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/tests/start":
			fmt.Fprintf(w, `{"message":"started","userTestId":"ut-1","test":%s}`, test)
		case r.URL.Path == "/api/tests/T1":
			fmt.Fprintf(w, `{"test":%s}`, test)
		case strings.HasSuffix(r.URL.Path, "/submit"):
			var entries []domain.SubmissionEntry
			_ = json.NewDecoder(r.Body).Decode(&entries)
			g.mu.Lock()
			g.submitted = append(g.submitted, entries)
			g.mu.Unlock()
			w.Write([]byte(`{"message":"graded","score":100}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gradingServer) URL() string {
	return g.srv.URL
}

func (g *gradingServer) submissions() [][]domain.SubmissionEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]domain.SubmissionEntry(nil), g.submitted...)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "autograde", "POSTGRES_PASSWORD": "autogradepass", "POSTGRES_DB": "autograde"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://autograde:autogradepass@%s:%s/autograde?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
