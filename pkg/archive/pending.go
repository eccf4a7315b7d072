package archive

import (
	"sync"

	"github.com/docland/docland/pkg/log"
)

// pendingCap bounds the in-memory metadata cache. Verification normally
// follows upload within the same run, so a small window suffices; evictions
// are logged so silent loss stays visible.
const pendingCap = 100

// pendingMetadata maps upload task ids to the custom fields to apply once
// verification succeeds. Insertion order drives eviction.
type pendingMetadata struct {
	mu    sync.Mutex
	items map[string]map[string]any
	order []string
}

func newPendingMetadata() *pendingMetadata {
	return &pendingMetadata{items: make(map[string]map[string]any)}
}

func (p *pendingMetadata) put(taskID string, metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.items[taskID]; !exists && len(p.order) >= pendingCap {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.items, oldest)
		log.Warn("pending archive metadata evicted before verification", "task_id", oldest)
	}
	if _, exists := p.items[taskID]; !exists {
		p.order = append(p.order, taskID)
	}
	p.items[taskID] = metadata
}

// take removes and returns the entry for taskID, if any.
func (p *pendingMetadata) take(taskID string) (map[string]any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	metadata, ok := p.items[taskID]
	if !ok {
		return nil, false
	}
	delete(p.items, taskID)
	for i, id := range p.order {
		if id == taskID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return metadata, true
}

func (p *pendingMetadata) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
