package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Entry is a single member of a ranked window.
type Entry struct {
	UserID string
	Score  int
}

// Ranking is the ranked-store abstraction behind the leaderboard. Windows are
// identified by string keys; members are ordered by descending score. When
// scores tie, the lexically greater user ID ranks first. Both implementations
// follow Redis sorted-set reverse-range semantics so results are stable across
// backends.
type Ranking interface {
	IncrBy(ctx context.Context, window, userID string, delta int) error
	TopN(ctx context.Context, window string, limit int) ([]Entry, error)
	// Rank returns the 1-based rank of the user, or false when absent.
	Rank(ctx context.Context, window, userID string) (int, bool, error)
	// Score returns the user's score, 0 when absent.
	Score(ctx context.Context, window, userID string) (int, error)
	// Size returns the number of distinct users in the window.
	Size(ctx context.Context, window string) (int, error)
	// Reset removes the window entirely.
	Reset(ctx context.Context, window string) error
}

const redisKeyPrefix = "points:leaderboard:"

// RedisRanking backs the leaderboard with Redis sorted sets.
type RedisRanking struct {
	client *redis.Client
}

// NewRedisRanking connects to Redis and verifies the connection.
func NewRedisRanking(addr, password string, db int) (*RedisRanking, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRanking{client: client}, nil
}

func redisKey(window string) string {
	return redisKeyPrefix + window
}

func (r *RedisRanking) IncrBy(ctx context.Context, window, userID string, delta int) error {
	return r.client.ZIncrBy(ctx, redisKey(window), float64(delta), userID).Err()
}

func (r *RedisRanking) TopN(ctx context.Context, window string, limit int) ([]Entry, error) {
	if limit < 1 {
		return nil, nil
	}

	members, err := r.client.ZRevRangeWithScores(ctx, redisKey(window), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		userID, ok := m.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{UserID: userID, Score: int(m.Score)})
	}

	return entries, nil
}

func (r *RedisRanking) Rank(ctx context.Context, window, userID string) (int, bool, error) {
	rank, err := r.client.ZRevRank(ctx, redisKey(window), userID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int(rank) + 1, true, nil
}

func (r *RedisRanking) Score(ctx context.Context, window, userID string) (int, error) {
	score, err := r.client.ZScore(ctx, redisKey(window), userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(score), nil
}

func (r *RedisRanking) Size(ctx context.Context, window string) (int, error) {
	n, err := r.client.ZCard(ctx, redisKey(window)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *RedisRanking) Reset(ctx context.Context, window string) error {
	return r.client.Del(ctx, redisKey(window)).Err()
}

// Close closes the Redis connection.
func (r *RedisRanking) Close() error {
	return r.client.Close()
}

// InMemoryRanking is a process-local Ranking for tests and deployments
// without Redis. Ordering matches RedisRanking: descending score, then
// lexically greater user ID first.
type InMemoryRanking struct {
	mu      sync.RWMutex
	windows map[string]map[string]int
}

// NewInMemoryRanking creates an empty in-memory ranking store.
func NewInMemoryRanking() *InMemoryRanking {
	return &InMemoryRanking{windows: make(map[string]map[string]int)}
}

func (m *InMemoryRanking) IncrBy(ctx context.Context, window, userID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[window]
	if !ok {
		w = make(map[string]int)
		m.windows[window] = w
	}
	w[userID] += delta

	return nil
}

// sorted returns the window's entries in rank order.
func (m *InMemoryRanking) sorted(window string) []Entry {
	w := m.windows[window]
	entries := make([]Entry, 0, len(w))
	for userID, score := range w {
		entries = append(entries, Entry{UserID: userID, Score: score})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID > entries[j].UserID
	})

	return entries
}

func (m *InMemoryRanking) TopN(ctx context.Context, window string, limit int) ([]Entry, error) {
	if limit < 1 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.sorted(window)
	if len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

func (m *InMemoryRanking) Rank(ctx context.Context, window, userID string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.windows[window][userID]; !ok {
		return 0, false, nil
	}

	for i, e := range m.sorted(window) {
		if e.UserID == userID {
			return i + 1, true, nil
		}
	}

	return 0, false, nil
}

func (m *InMemoryRanking) Score(ctx context.Context, window, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.windows[window][userID], nil
}

func (m *InMemoryRanking) Size(ctx context.Context, window string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.windows[window]), nil
}

func (m *InMemoryRanking) Reset(ctx context.Context, window string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, window)
	return nil
}
