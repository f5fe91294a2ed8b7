package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
	"github.com/nats-io/nats.go"
)

const channelSubjectPrefix = "dub.channel."

// NATSStore keeps records in a JetStream key-value bucket whose max age is
// the store TTL, runs each queue as a work-queue stream drained by a durable
// pull consumer, and maps channels onto core NATS subjects.
type NATSStore struct {
	client *Client
	kv     nats.KeyValue
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	queues map[string]*natsQueue
}

type natsQueue struct {
	stream  string
	subject string
	sub     *nats.Subscription
}

func NewNATSStore(ctx context.Context, client *Client, cfg config.StoreConfig) (*NATSStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kv, err := client.EnsureKeyValue(cfg.Bucket, cfg.TTL())
	if err != nil {
		return nil, err
	}
	return &NATSStore{
		client: client,
		kv:     kv,
		prefix: tokenize(cfg.StreamPrefix),
		ttl:    cfg.TTL(),
		queues: make(map[string]*natsQueue),
	}, nil
}

func (s *NATSStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.kv.Put(kvKey(key), value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := s.kv.Get(kvKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *NATSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.kv.Delete(kvKey(key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *NATSStore) Enqueue(ctx context.Context, queue, id string) error {
	q, err := s.queue(queue)
	if err != nil {
		return err
	}
	if _, err := s.client.JetStream().Publish(q.subject, []byte(id), nats.Context(ctx)); err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", id, queue, err)
	}
	return nil
}

func (s *NATSStore) Dequeue(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	q, err := s.queue(queue)
	if err != nil {
		return "", false, err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msgs, err := q.sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("dequeue %s: %w", queue, err)
	}
	if len(msgs) == 0 {
		return "", false, nil
	}
	msg := msgs[0]
	if err := msg.Ack(); err != nil {
		return "", false, fmt.Errorf("ack %s: %w", queue, err)
	}
	return string(msg.Data), true, nil
}

func (s *NATSStore) Purge(ctx context.Context, queue string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q, err := s.queue(queue)
	if err != nil {
		return err
	}
	if err := s.client.JetStream().PurgeStream(q.stream); err != nil {
		return fmt.Errorf("purge %s: %w", queue, err)
	}
	return nil
}

func (s *NATSStore) Publish(ctx context.Context, channel, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.Conn().Publish(channelSubjectPrefix+tokenize(channel), []byte(msg)); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (s *NATSStore) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var natsSub *nats.Subscription
	sub := newSubscription(64, func() {
		if natsSub != nil {
			_ = natsSub.Unsubscribe()
		}
	})
	natsSub, err := s.client.Conn().Subscribe(channelSubjectPrefix+tokenize(channel), func(m *nats.Msg) {
		sub.deliver(context.Background(), string(m.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	// The SUB must reach the server before callers publish.
	if err := s.flush(ctx); err != nil {
		_ = natsSub.Unsubscribe()
		return nil, fmt.Errorf("flush subscribe %s: %w", channel, err)
	}
	return sub, nil
}

func (s *NATSStore) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); ok {
		return s.client.Conn().FlushWithContext(ctx)
	}
	return s.client.Conn().FlushTimeout(5 * time.Second)
}

func (s *NATSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, q := range s.queues {
		if err := q.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
		delete(s.queues, name)
	}
	return errors.Join(errs...)
}

// queue returns the stream and pull consumer backing name, creating them on
// first use.
func (s *NATSStore) queue(name string) (*natsQueue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[name]; ok {
		return q, nil
	}

	token := tokenize(name)
	q := &natsQueue{
		stream:  strings.ToUpper(s.prefix + "_" + token),
		subject: strings.ToLower(s.prefix) + ".queue." + token,
	}
	if err := s.client.EnsureWorkQueue(q.stream, q.subject, s.ttl); err != nil {
		return nil, err
	}
	sub, err := s.client.JetStream().PullSubscribe(q.subject, q.stream+"_WORKER", nats.BindStream(q.stream))
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", q.subject, err)
	}
	q.sub = sub
	s.queues[name] = q
	return q, nil
}

// kvKey maps a logical "namespace:id" key onto the bucket's key charset.
// Characters outside [-/_.a-zA-Z0-9] are escaped as =XX.
func kvKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ':':
			b.WriteByte('.')
		case c == '-' || c == '/' || c == '_' || c == '.',
			c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}

// tokenize reduces name to a single subject token usable in stream names.
func tokenize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
