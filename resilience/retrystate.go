package resilience

import "sync"

// retryBook tracks per-request-key retry bookkeeping. A key moves
// Fresh -> Retrying(n) -> Recovered or Exhausted; both terminal states clear
// the key so the next call starts fresh.
type retryBook struct {
	mu       sync.Mutex
	attempts map[string]int
}

func newRetryBook() *retryBook {
	return &retryBook{attempts: make(map[string]int)}
}

// increment records one more failed attempt for key and returns the total.
func (b *retryBook) increment(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[key]++
	return b.attempts[key]
}

func (b *retryBook) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[key]
}

func (b *retryBook) clear(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.attempts, key)
}
