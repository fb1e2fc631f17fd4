package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrRegistrationNotFound is returned when cancelling an unknown id.
var ErrRegistrationNotFound = errors.New("registration not found")

// MemoryRegistrar keeps registrations in process memory. It backs tests and
// the single-process development mode.
type MemoryRegistrar struct {
	mu      sync.Mutex
	pending map[string]Pending
	order   []string

	// FailRegister, when set, is consulted before each registration and its
	// error returned instead of registering.
	FailRegister func(trigger Trigger, content Content) error
}

func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{pending: make(map[string]Pending)}
}

func (m *MemoryRegistrar) Register(ctx context.Context, trigger Trigger, content Content) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailRegister != nil {
		if err := m.FailRegister(trigger, content); err != nil {
			return "", err
		}
	}

	id := uuid.NewString()
	m.pending[id] = Pending{ID: id, Trigger: trigger, Content: copyContent(content)}
	m.order = append(m.order, id)
	return id, nil
}

// ListPending returns registrations in the order they were created.
func (m *MemoryRegistrar) ListPending(ctx context.Context) ([]Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Pending, 0, len(m.pending))
	for _, id := range m.order {
		if p, ok := m.pending[id]; ok {
			p.Content = copyContent(p.Content)
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryRegistrar) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[id]; !ok {
		return ErrRegistrationNotFound
	}
	delete(m.pending, id)
	m.compact()
	return nil
}

func (m *MemoryRegistrar) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]Pending)
	m.order = nil
	return nil
}

// Len returns the number of pending registrations.
func (m *MemoryRegistrar) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *MemoryRegistrar) compact() {
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.pending[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
}

func copyContent(c Content) Content {
	if c.Data == nil {
		return c
	}
	data := make(map[string]interface{}, len(c.Data))
	for k, v := range c.Data {
		data[k] = v
	}
	c.Data = data
	return c
}
