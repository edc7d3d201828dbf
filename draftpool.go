package questionbank

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Draft is a batch of parsed questions waiting for the user to confirm
// the import
type Draft struct {
	ID        string     `json:"id"`
	BankID    int64      `json:"bankId"`
	Source    string     `json:"source"`
	Questions []Question `json:"questions"`
	Reply     string     `json:"reply,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// DraftPool keeps a bounded FIFO of drafts. Adding beyond capacity evicts
// the oldest draft.
type DraftPool struct {
	mu       sync.RWMutex
	drafts   map[string]*Draft
	queue    []string // FIFO queue of draft IDs
	capacity int
}

// NewDraftPool creates a pool holding at most capacity drafts
func NewDraftPool(capacity int) *DraftPool {
	if capacity <= 0 {
		capacity = 20
	}
	return &DraftPool{
		drafts:   make(map[string]*Draft),
		capacity: capacity,
	}
}

// Add stores a draft, assigning its ID and creation time
func (dp *DraftPool) Add(draft *Draft) string {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	draft.ID = uuid.NewString()
	draft.CreatedAt = time.Now()

	for len(dp.queue) >= dp.capacity {
		oldest := dp.queue[0]
		dp.queue = dp.queue[1:]
		delete(dp.drafts, oldest)
	}

	dp.drafts[draft.ID] = draft
	dp.queue = append(dp.queue, draft.ID)
	return draft.ID
}

// Get returns a draft without removing it
func (dp *DraftPool) Get(id string) (*Draft, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	d, ok := dp.drafts[id]
	return d, ok
}

// Take removes and returns a draft
func (dp *DraftPool) Take(id string) (*Draft, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	d, ok := dp.drafts[id]
	if !ok {
		return nil, false
	}
	dp.remove(id)
	return d, true
}

// Remove discards a draft
func (dp *DraftPool) Remove(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.remove(id)
}

func (dp *DraftPool) remove(id string) {
	delete(dp.drafts, id)
	for i, queued := range dp.queue {
		if queued == id {
			dp.queue = append(dp.queue[:i], dp.queue[i+1:]...)
			break
		}
	}
}

// Size returns the number of drafts in the pool
func (dp *DraftPool) Size() int {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return len(dp.queue)
}

// List returns the drafts oldest first
func (dp *DraftPool) List() []*Draft {
	dp.mu.RLock()
	defer dp.mu.RUnlock()

	drafts := make([]*Draft, 0, len(dp.queue))
	for _, id := range dp.queue {
		drafts = append(drafts, dp.drafts[id])
	}
	return drafts
}
