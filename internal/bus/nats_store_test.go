package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dub/internal/config"
	"github.com/loqalabs/loqa-dub/internal/natsserver"
)

func startNATS(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{
		Embedded: true,
		Host:     "127.0.0.1",
		Port:     -1,
		StoreDir: t.TempDir(),
	}, logger)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestNATSStoreContract(t *testing.T) {
	client := startNATS(t)
	s, err := NewNATSStore(context.Background(), client, config.StoreConfig{
		Backend:      "nats",
		Bucket:       "DUB_TEST",
		StreamPrefix: "DUB_TEST_QUEUE",
		TTLSeconds:   3600,
	})
	if err != nil {
		t.Fatalf("NewNATSStore returned error: %v", err)
	}
	defer s.Close()

	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}
	exerciseStore(t, s)
}

func TestNATSStoreReopensBucket(t *testing.T) {
	client := startNATS(t)
	cfg := config.StoreConfig{Backend: "nats", Bucket: "DUB_REOPEN", StreamPrefix: "DUB_REOPEN_Q", TTLSeconds: 60}
	ctx := context.Background()

	first, err := NewNATSStore(ctx, client, cfg)
	if err != nil {
		t.Fatalf("NewNATSStore returned error: %v", err)
	}
	if err := first.Put(ctx, "audio:vid_0", []byte("mp3")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := first.Enqueue(ctx, "translation_queue", "vid_0"); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	_ = first.Close()

	second, err := Open(ctx, cfg, client)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer second.Close()
	got, err := second.Get(ctx, "audio:vid_0")
	if err != nil || string(got) != "mp3" {
		t.Fatalf("expected record to survive reopen, got %q (%v)", got, err)
	}
	id, ok, err := second.Dequeue(ctx, "translation_queue", time.Second)
	if err != nil || !ok || id != "vid_0" {
		t.Fatalf("expected queued id to survive reopen, got %q ok=%v err=%v", id, ok, err)
	}
}

func TestOpenRequiresClientForNATS(t *testing.T) {
	if _, err := Open(context.Background(), config.StoreConfig{Backend: "nats"}, nil); err == nil {
		t.Fatal("expected error without client")
	}
	s, err := Open(context.Background(), config.StoreConfig{Backend: "memory", TTLSeconds: 1}, nil)
	if err != nil {
		t.Fatalf("Open memory returned error: %v", err)
	}
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKVKeyEscapes(t *testing.T) {
	cases := map[string]string{
		"translation:vid_12.50": "translation.vid_12.50",
		"audio:a b":             "audio.a=20b",
		"audio:x=y":             "audio.x=3Dy",
	}
	for in, want := range cases {
		if got := kvKey(in); got != want {
			t.Fatalf("kvKey(%q) = %q, want %q", in, got, want)
		}
	}
}
