package dedupe

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory keeps tokens in a process-local expiring cache. It only dedupes
// proposals made through this node.
type Memory struct {
	cache *gocache.Cache
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{cache: gocache.New(ttl, 2*ttl)}
}

// FirstSeen relies on Add failing for a live key, which makes the check and
// the insert one atomic step.
func (m *Memory) FirstSeen(_ context.Context, token uint64) (bool, error) {
	if err := m.cache.Add(tokenKey(token), struct{}{}, gocache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Memory) Forget(_ context.Context, token uint64) error {
	m.cache.Delete(tokenKey(token))
	return nil
}

func (m *Memory) Close() error {
	m.cache.Flush()
	return nil
}
