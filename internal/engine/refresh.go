// Package engine drives the optimistic batch-table sync loop: the undo/redo
// history is the sole user write path, the scheduler coalesces outbound
// patches, and server reconciliation merges confirmed updates back with
// last-write-wins arbitration.
package engine

import "sync"

// Refresh tells the grid renderer to re-render one table. The scope keys
// keep unrelated tables from repainting.
type Refresh struct {
	OrganizationID string `json:"organization_id"`
	BatchTableID   string `json:"batch_table_id"`
}

// Publisher is the observer seam between the core and the rendering layer.
// The core owns it and publishes; renderers subscribe. No global event bus.
type Publisher struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Refresh)
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[int]func(Refresh))}
}

// Subscribe registers fn and returns its unsubscribe function.
func (p *Publisher) Subscribe(fn func(Refresh)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Publisher) Publish(r Refresh) {
	p.mu.Lock()
	fns := make([]func(Refresh), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}
