package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dub/internal/bus"
	"github.com/loqalabs/loqa-dub/internal/pipeline"
	"github.com/loqalabs/loqa-dub/internal/protocol"
	"github.com/loqalabs/loqa-dub/internal/transcript"
	"github.com/nats-io/nats.go"
)

// Runner dubs one transcript.
type Runner interface {
	Run(ctx context.Context, scope string, entries []transcript.Entry) (pipeline.Result, error)
}

// JobService accepts dubbing jobs on the bus and runs them one at a time;
// runs share the store's queues, so they must not overlap.
type JobService struct {
	bus    *bus.Client
	runner Runner
	sub    *nats.Subscription
	jobs   chan protocol.JobRequest
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewJobService(parent context.Context, busClient *bus.Client, runner Runner, log *slog.Logger) *JobService {
	ctx, cancel := context.WithCancel(parent)
	return &JobService{
		bus:    busClient,
		runner: runner,
		jobs:   make(chan protocol.JobRequest, 16),
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "job-service")),
	}
}

func (s *JobService) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectJobRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *JobService) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *JobService) Healthy() bool { return s != nil && s.sub != nil && s.sub.IsValid() }

func (s *JobService) handleRequest(msg *nats.Msg) {
	var req protocol.JobRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode job request", slogError(err))
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	select {
	case s.jobs <- req:
		s.logger.Info("job accepted", slog.String("job_id", req.JobID), slog.String("scope", req.Scope), slog.Int("entries", len(req.Entries)))
	default:
		s.logger.Warn("job queue full, rejecting", slog.String("job_id", req.JobID))
		s.publishDone(protocol.JobDone{JobID: req.JobID, Scope: req.Scope, Error: "job queue full", Completed: time.Now().UTC()})
	}
}

func (s *JobService) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.jobs:
			s.runJob(req)
		}
	}
}

func (s *JobService) runJob(req protocol.JobRequest) {
	result, err := s.runner.Run(s.ctx, req.Scope, req.Entries)
	done := protocol.JobDone{
		JobID:     req.JobID,
		RunID:     result.RunID,
		Scope:     req.Scope,
		Missing:   result.Missing,
		Completed: time.Now().UTC(),
	}
	for _, chunk := range result.Chunks {
		done.ChunkIDs = append(done.ChunkIDs, chunk.ChunkID)
	}
	if err != nil {
		done.Error = err.Error()
		s.logger.Warn("job failed", slog.String("job_id", req.JobID), slogError(err))
	}
	s.publishDone(done)
}

func (s *JobService) publishDone(done protocol.JobDone) {
	data, err := json.Marshal(done)
	if err != nil {
		s.logger.Warn("failed to marshal job result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectJobDone, data); err != nil {
		s.logger.Warn("failed to publish job result", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
