package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"autograde-session/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// TestLoader fetches test definitions from the grading service.
type TestLoader interface {
	GetTestByID(ctx context.Context, testID string) (domain.Test, error)
}

// TestRepository caches test definitions in Redis and falls back to a loader on cache miss.
// Tests are stored as JSON: SET autograde:test:{testID} {json} EX ttl
type TestRepository struct {
	client *redis.Client
	loader TestLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewTestRepository(client *redis.Client, loader TestLoader, ttl time.Duration) *TestRepository {
	return &TestRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TestRepository) GetTest(ctx context.Context, testID string) (domain.Test, error) {
	if test, ok := r.cached(ctx, testID); ok {
		return test, nil
	}

	result, err, _ := r.sf.Do(testID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if test, ok := r.cached(ctx, testID); ok {
			return test, nil
		}

		test, err := r.loader.GetTestByID(ctx, testID)
		if err != nil {
			return domain.Test{}, err
		}

		raw, err := json.Marshal(test)
		if err == nil {
			err = r.client.Set(ctx, r.key(testID), raw, r.ttlWithJitter()).Err()
		}
		if err != nil {
			// a cold cache only costs another remote fetch
			log.Printf("cache test %s: %v", testID, err)
		}
		return test, nil
	})
	if err != nil {
		return domain.Test{}, err
	}
	return result.(domain.Test), nil
}

func (r *TestRepository) cached(ctx context.Context, testID string) (domain.Test, bool) {
	raw, err := r.client.Get(ctx, r.key(testID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("read cached test %s: %v", testID, err)
		}
		return domain.Test{}, false
	}
	var test domain.Test
	if err := json.Unmarshal(raw, &test); err != nil {
		return domain.Test{}, false
	}
	return test, true
}

func (r *TestRepository) key(testID string) string {
	return "autograde:test:" + testID
}

func (r *TestRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
