package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
)

// ErrNotFound is returned by Get for records that are absent or expired.
var ErrNotFound = errors.New("record not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store is the handoff surface shared by the stage workers: a TTL'd record
// store, FIFO work queues, and fire-and-forget channels. Every record written
// through Put expires after the store's TTL.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	Enqueue(ctx context.Context, queue, id string) error
	// Dequeue blocks up to timeout. ok is false when nothing arrived in time.
	Dequeue(ctx context.Context, queue string, timeout time.Duration) (id string, ok bool, err error)
	Purge(ctx context.Context, queue string) error

	// Publish delivers msg to subscribers connected right now; there is no
	// replay for late subscribers.
	Publish(ctx context.Context, channel, msg string) error
	Subscribe(ctx context.Context, channel string) (*Subscription, error)

	Close() error
}

// Subscription receives channel messages until closed. The message channel
// is never closed; stop reading after Close or when Done fires.
type Subscription struct {
	messages chan string
	done     chan struct{}
	once     sync.Once
	stop     func()
}

func newSubscription(buffer int, stop func()) *Subscription {
	return &Subscription{
		messages: make(chan string, buffer),
		done:     make(chan struct{}),
		stop:     stop,
	}
}

func (s *Subscription) Messages() <-chan string { return s.messages }

func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}

func (s *Subscription) deliver(ctx context.Context, msg string) {
	select {
	case s.messages <- msg:
	case <-s.done:
	case <-ctx.Done():
	}
}

// PutJSON stores v encoded as JSON.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// GetJSON loads key and decodes it into target.
func GetJSON(ctx context.Context, s Store, key string, target any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Open builds the configured store. The nats backend requires client.
func Open(ctx context.Context, cfg config.StoreConfig, client *Client) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(cfg.TTL()), nil
	case "nats":
		if client == nil {
			return nil, errors.New("store backend nats requires a bus connection")
		}
		return NewNATSStore(ctx, client, cfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
