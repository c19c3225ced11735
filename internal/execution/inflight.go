package execution

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// InFlight is an in-process domain.LockManager. It keeps at most one holder
// per key; an entry older than its ttl is treated as abandoned and may be
// taken over. It is safe for concurrent use.
type InFlight struct {
	held map[string]inflightEntry
	mu   sync.Mutex
	now  func() time.Time
}

type inflightEntry struct {
	token   uint64
	expires time.Time
}

var _ domain.LockManager = (*InFlight)(nil)

// NewInFlight creates an empty InFlight.
func NewInFlight() *InFlight {
	return &InFlight{held: make(map[string]inflightEntry), now: time.Now}
}

var inflightTokens struct {
	sync.Mutex
	next uint64
}

func nextToken() uint64 {
	inflightTokens.Lock()
	defer inflightTokens.Unlock()
	inflightTokens.next++
	return inflightTokens.next
}

// Acquire takes the lock for key. It returns domain.ErrLockHeld while another
// holder's entry is live. The returned unlock is safe to call more than once
// and never releases a lock that has since been taken over.
func (f *InFlight) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if e, ok := f.held[key]; ok && now.Before(e.expires) {
		return nil, domain.ErrLockHeld
	}
	token := nextToken()
	f.held[key] = inflightEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if e, ok := f.held[key]; ok && e.token == token {
				delete(f.held, key)
			}
		})
	}, nil
}

// Cleanup removes expired entries. Call it periodically to bound memory.
func (f *InFlight) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for key, e := range f.held {
		if !now.Before(e.expires) {
			delete(f.held, key)
		}
	}
}
