package providers

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// history keeps every payload committed to a backend without upstream
// versioning. Tokens are a counter starting at "1".
type history struct {
	mu        sync.Mutex
	counter   int
	snapshots map[string][]byte
	created   map[string]time.Time
	now       func() time.Time
}

func newHistory(initial []byte) *history {
	h := &history{
		snapshots: make(map[string][]byte),
		created:   make(map[string]time.Time),
		now:       time.Now,
	}
	h.record(initial)
	return h
}

// record stores payload under the next token.
func (h *history) record(payload []byte) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counter++
	token := strconv.Itoa(h.counter)
	h.snapshots[token] = append([]byte(nil), payload...)
	h.created[token] = h.now()
	return token
}

// current returns the newest token.
func (h *history) current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strconv.Itoa(h.counter)
}

// latest returns the newest snapshot and its token.
func (h *history) latest() ([]byte, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	token := strconv.Itoa(h.counter)
	return h.snapshots[token], token
}

func (h *history) get(token string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	payload, ok := h.snapshots[token]
	if !ok {
		return nil, fmt.Errorf("version %s is not known", token)
	}
	return payload, nil
}

// list returns tokens in commit order.
func (h *history) list() []versionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	infos := make([]versionInfo, 0, h.counter)
	for i := 1; i <= h.counter; i++ {
		token := strconv.Itoa(i)
		infos = append(infos, versionInfo{token: token, created: h.created[token]})
	}
	return infos
}
