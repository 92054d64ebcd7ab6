package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"autograde-session/internal/domain"
	"golang.org/x/sync/singleflight"
)

// TestLoader fetches test definitions from the grading service (or a fixture).
type TestLoader interface {
	GetTestByID(ctx context.Context, testID string) (domain.Test, error)
}

// TestRepository caches test definitions with TTL to avoid repeated remote fetches.
type TestRepository struct {
	loader TestLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedTest
}

type cachedTest struct {
	test      domain.Test
	expiresAt time.Time
}

func NewTestRepository(loader TestLoader, ttl time.Duration) *TestRepository {
	return &TestRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedTest),
	}
}

func (r *TestRepository) GetTest(ctx context.Context, testID string) (domain.Test, error) {
	if test, ok := r.lookup(testID); ok {
		return test, nil
	}

	result, err, _ := r.sf.Do(testID, func() (interface{}, error) {
		if test, ok := r.lookup(testID); ok {
			return test, nil
		}

		test, err := r.loader.GetTestByID(ctx, testID)
		if err != nil {
			return domain.Test{}, err
		}

		r.mu.Lock()
		r.cache[testID] = cachedTest{
			test:      test,
			expiresAt: r.clock().Add(r.ttlWithJitterLocked()),
		}
		r.mu.Unlock()
		return test, nil
	})
	if err != nil {
		return domain.Test{}, err
	}
	return result.(domain.Test), nil
}

func (r *TestRepository) lookup(testID string) (domain.Test, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[testID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Test{}, false
	}
	return entry.test, true
}

// StaticTestLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticTestLoader struct {
	tests map[string]domain.Test
}

func NewStaticTestLoader(tests map[string]domain.Test) *StaticTestLoader {
	return &StaticTestLoader{tests: tests}
}

func (l *StaticTestLoader) GetTestByID(_ context.Context, testID string) (domain.Test, error) {
	if test, ok := l.tests[testID]; ok {
		return test, nil
	}
	return domain.Test{}, domain.ErrTestNotFound
}

func (r *TestRepository) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
