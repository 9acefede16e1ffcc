package simulator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r973356237/AlphaWorker/internal/brain"
	"github.com/r973356237/AlphaWorker/internal/config"
	apperrors "github.com/r973356237/AlphaWorker/internal/errors"
	"github.com/r973356237/AlphaWorker/internal/logger"
	"github.com/r973356237/AlphaWorker/internal/monitor"
	"github.com/r973356237/AlphaWorker/internal/store"
)

// API is the slice of the BRAIN client the simulator drives
type API interface {
	Authenticate(ctx context.Context) error
	CreateSimulation(ctx context.Context, req *brain.SimulationRequest) (string, error)
	GetSimulationProgress(ctx context.Context, progressURL string) (*brain.SimulationProgress, time.Duration, error)
	GetAlpha(ctx context.Context, alphaID string) (*brain.Alpha, error)
}

// activeSim is one outstanding simulation slot
type activeSim struct {
	location string
	record   store.Record
	nextPoll time.Time
}

// Simulator keeps at most MaxConcurrent simulations outstanding,
// refills its queue from the pending CSV in batches, polls progress
// URLs and appends terminal outcomes to the result logs.
type Simulator struct {
	client  API
	store   *store.Store
	cfg     config.SimulationConfig
	metrics *monitor.Collector
	log     logger.Logger
	runID   string

	mu        sync.Mutex
	queue     []store.Record
	active    []activeSim
	submitted int64
	completed int64
	failed    int64
	startedAt time.Time
}

// New creates a simulator
func New(client API, st *store.Store, cfg config.SimulationConfig,
	metrics *monitor.Collector, log logger.Logger) *Simulator {
	runID := uuid.NewString()
	return &Simulator{
		client:  client,
		store:   st,
		cfg:     cfg,
		metrics: metrics,
		log:     log.WithFields(map[string]interface{}{"component": "simulator", "run_id": runID}),
		runID:   runID,
	}
}

// RunID identifies this pipeline run
func (s *Simulator) RunID() string { return s.runID }

// Run drives the submit/poll loop until the queue is drained or the
// context is cancelled. Cancellation is a normal shutdown: outstanding
// progress URLs stay on the remote service and the unread queue stays
// in the pending CSV, so the next run resumes cleanly.
func (s *Simulator) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.client.Authenticate(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Simulation loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			s.checkActive(ctx)
			drained, err := s.topUp(ctx)
			if err != nil {
				return err
			}
			if drained && s.activeCount() == 0 {
				s.log.Info("Queue drained and all simulations settled",
					"submitted", s.submitted, "completed", s.completed, "failed", s.failed)
				return nil
			}
		}
	}
}

// checkActive reconciles outstanding simulations and frees their slots
func (s *Simulator) checkActive(ctx context.Context) {
	s.mu.Lock()
	pending := make([]activeSim, len(s.active))
	copy(pending, s.active)
	s.mu.Unlock()

	now := time.Now()
	inFlight := 0
	var remaining []activeSim

	for _, sim := range pending {
		if now.Before(sim.nextPoll) {
			remaining = append(remaining, sim)
			inFlight++
			continue
		}

		start := time.Now()
		progress, retryAfter, err := s.client.GetSimulationProgress(ctx, sim.location)
		s.metrics.PollLatency.Observe(time.Since(start).Seconds())

		switch {
		case err != nil:
			s.log.Warn("Failed to poll simulation progress",
				"location", sim.location, "error", err)
			remaining = append(remaining, sim)
			inFlight++
		case retryAfter > 0:
			sim.nextPoll = now.Add(retryAfter)
			remaining = append(remaining, sim)
			inFlight++
		default:
			s.settle(ctx, sim, progress)
		}
	}

	s.mu.Lock()
	s.active = remaining
	s.mu.Unlock()
	s.metrics.ActiveSimulations.Set(float64(len(remaining)))

	if inFlight > 0 {
		s.log.Debug("Simulations still in flight", "count", inFlight)
	}
}

// settle records a finished simulation and releases its slot
func (s *Simulator) settle(ctx context.Context, sim activeSim, progress *brain.SimulationProgress) {
	alpha := &brain.Alpha{ID: progress.ID, Status: progress.Status}

	if progress.AlphaID != "" {
		full, err := s.client.GetAlpha(ctx, progress.AlphaID)
		if err != nil {
			s.log.Warn("Failed to fetch finished alpha",
				"alpha_id", progress.AlphaID, "error", err)
			// Keep the slot released; record what the progress body gave us
			alpha.ID = progress.AlphaID
		} else {
			alpha = full
		}
	}
	if len(alpha.Raw) == 0 {
		alpha.Raw = mustMarshal(progress)
	}

	if err := s.store.AppendResult(alpha, time.Now()); err != nil {
		s.log.Error("Failed to persist simulation result",
			"alpha_id", alpha.ID, "error", err)
	}

	s.mu.Lock()
	s.completed++
	s.mu.Unlock()
	s.metrics.SimulationsCompleted.WithLabelValues(alpha.Status).Inc()
	s.log.Info("Simulation finished",
		"alpha_id", alpha.ID, "status", alpha.Status)
}

// topUp refills the in-memory queue from the pending CSV and submits
// new simulations while slots are free. It reports whether the pending
// file and queue are both exhausted.
func (s *Simulator) topUp(ctx context.Context) (bool, error) {
	for s.activeCount() < s.cfg.MaxConcurrent {
		rec, ok, err := s.nextRecord()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if err := s.submit(ctx, rec); err != nil {
			return false, err
		}
	}
	return false, nil
}

// nextRecord pops the queue head, refilling from the pending CSV first
func (s *Simulator) nextRecord() (store.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		batch, err := s.store.PopBatch(s.cfg.BatchSize)
		if err != nil {
			return store.Record{}, false, err
		}
		s.queue = batch
		if len(batch) > 0 {
			s.log.Info("Loaded new batch from pending queue", "size", len(batch))
		}
	}
	s.metrics.QueueDepth.Set(float64(len(s.queue)))

	if len(s.queue) == 0 {
		return store.Record{}, false, nil
	}
	rec := s.queue[0]
	s.queue = s.queue[1:]
	return rec, true, nil
}

// submit sends one alpha to the service, retrying transient failures.
// When the retry budget is spent the alpha goes to the failure log and
// the client re-authenticates, matching the platform's guidance for
// long-lived sessions.
func (s *Simulator) submit(ctx context.Context, rec store.Record) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.SubmitRetries; attempt++ {
		location, err := s.client.CreateSimulation(ctx, rec.Request())
		if err == nil {
			s.mu.Lock()
			s.active = append(s.active, activeSim{location: location, record: rec})
			s.submitted++
			count := len(s.active)
			s.mu.Unlock()

			s.metrics.SimulationsSubmitted.Inc()
			s.metrics.ActiveSimulations.Set(float64(count))
			s.log.Info("Simulation submitted",
				"expression", rec.Regular, "neutralization", rec.Settings.Neutralization)
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("Simulation submit failed, retrying",
			"attempt", attempt, "max", s.cfg.SubmitRetries, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.SubmitRetryDelay):
		}
	}

	s.log.Error("Giving up on alpha after exhausting submit retries",
		"expression", rec.Regular, "error", lastErr)
	if err := s.store.AppendFailure(rec); err != nil {
		s.log.Error("Failed to record failed alpha", "error", err)
	}

	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
	s.metrics.SubmitFailures.Inc()

	// The original workflow re-logs in after a submit gives up; stale
	// sessions are the usual culprit
	if err := s.client.Authenticate(ctx); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeAuthFailed, "re-login after submit failure")
	}
	return nil
}

func (s *Simulator) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Status snapshots the simulator for the monitor server
func (s *Simulator) Status() monitor.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth, _ := s.store.PendingCount()
	return monitor.Status{
		RunID:             s.runID,
		Mode:              "simulate",
		QueueDepth:        depth + len(s.queue),
		ActiveSimulations: len(s.active),
		Submitted:         s.submitted,
		Completed:         s.completed,
		Failed:            s.failed,
		StartedAt:         s.startedAt,
	}
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
