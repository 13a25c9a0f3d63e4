package execution

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

var errRailUnavailable = errors.New("payment rail unavailable")

// ResultStore persists successful execution results under an
// idempotency key. Only successes are stored: a failed execution must
// stay retryable.
type ResultStore interface {
	// Get returns the stored result for key, or nil if absent.
	Get(ctx context.Context, key string) (*contracts.ExecutionResult, error)
	// Put stores a successful result under key.
	Put(ctx context.Context, key string, result *contracts.ExecutionResult) error
}

// MemoryResultStore is an in-process ResultStore.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]*contracts.ExecutionResult
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[string]*contracts.ExecutionResult)}
}

func (m *MemoryResultStore) Get(_ context.Context, key string) (*contracts.ExecutionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.results[key]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryResultStore) Put(_ context.Context, key string, result *contracts.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *result
	m.results[key] = &cp
	return nil
}

// RedisResultStore shares idempotency state across engine replicas.
type RedisResultStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResultStore stores results for ttl; a non-positive ttl keeps
// them for 24h.
func NewRedisResultStore(client *redis.Client, ttl time.Duration) *RedisResultStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisResultStore{client: client, ttl: ttl}
}

func (r *RedisResultStore) key(k string) string { return "payguard:exec:" + k }

func (r *RedisResultStore) Get(ctx context.Context, key string) (*contracts.ExecutionResult, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result contracts.ExecutionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *RedisResultStore) Put(ctx context.Context, key string, result *contracts.ExecutionResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), raw, r.ttl).Err()
}

// Idempotent wraps an Executor so that re-processing the same payment
// stage returns the original receipt instead of executing again.
// Concurrent calls for the same key are collapsed to a single rail
// submission; the others wait for its outcome.
type Idempotent struct {
	inner  Executor
	store  ResultStore
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

func NewIdempotent(inner Executor, store ResultStore) *Idempotent {
	return &Idempotent{
		inner:    inner,
		store:    store,
		logger:   slog.Default().With("component", "execution"),
		inflight: make(map[string]chan struct{}),
	}
}

func (i *Idempotent) Execute(ctx context.Context, chain *contracts.VerifiedChain) (*contracts.ExecutionResult, error) {
	key := chain.Chain.Payment.ID

	for {
		if cached, err := i.store.Get(ctx, key); err != nil {
			return nil, &contracts.ExecutionError{PaymentID: key, Cause: err}
		} else if cached != nil {
			return cached, nil
		}

		i.mu.Lock()
		if done, busy := i.inflight[key]; busy {
			i.mu.Unlock()
			select {
			case <-done:
				continue // re-check the store
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		i.inflight[key] = done
		i.mu.Unlock()

		result, err := i.inner.Execute(ctx, chain)
		if err == nil && result != nil && result.Status == contracts.ExecutionSuccess {
			// The payment went through. A store failure must not turn it
			// into a reported failure, or a retry would pay twice.
			if perr := i.store.Put(ctx, key, result); perr != nil {
				i.logger.Error("failed to record idempotency result",
					"payment_id", key, "error", perr)
			}
		}

		i.mu.Lock()
		delete(i.inflight, key)
		close(done)
		i.mu.Unlock()

		return result, err
	}
}
