package bus

import (
	"context"
	"sync"
	"time"
)

type memRecord struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps everything in process. It suits single-process runs and
// tests; nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	records map[string]memRecord
	queues  map[string][]string
	waiters map[string]chan struct{}
	subs    map[string]map[*Subscription]struct{}
	closed  bool
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		clock:   time.Now,
		records: make(map[string]memRecord),
		queues:  make(map[string][]string),
		waiters: make(map[string]chan struct{}),
		subs:    make(map[string]map[*Subscription]struct{}),
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rec := memRecord{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		rec.expiresAt = m.clock().Add(m.ttl)
	}
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !rec.expiresAt.IsZero() && !m.clock().Before(rec.expiresAt) {
		delete(m.records, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.value...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemoryStore) Enqueue(ctx context.Context, queue, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.queues[queue] = append(m.queues[queue], id)
	if w, ok := m.waiters[queue]; ok {
		close(w)
		delete(m.waiters, queue)
	}
	return nil
}

func (m *MemoryStore) Dequeue(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return "", false, ErrClosed
		}
		if q := m.queues[queue]; len(q) > 0 {
			id := q[0]
			m.queues[queue] = q[1:]
			m.mu.Unlock()
			return id, true, nil
		}
		w, ok := m.waiters[queue]
		if !ok {
			w = make(chan struct{})
			m.waiters[queue] = w
		}
		m.mu.Unlock()

		select {
		case <-w:
		case <-timer.C:
			return "", false, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func (m *MemoryStore) Purge(ctx context.Context, queue string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, queue)
	return nil
}

func (m *MemoryStore) Publish(ctx context.Context, channel, msg string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*Subscription, 0, len(m.subs[channel]))
	for sub := range m.subs[channel] {
		targets = append(targets, sub)
	}
	m.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(ctx, msg)
	}
	return ctx.Err()
}

func (m *MemoryStore) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var sub *Subscription
	sub = newSubscription(64, func() {
		m.mu.Lock()
		delete(m.subs[channel], sub)
		m.mu.Unlock()
	})
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*Subscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	return sub, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for queue, w := range m.waiters {
		close(w)
		delete(m.waiters, queue)
	}
	var subs []*Subscription
	for _, set := range m.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
