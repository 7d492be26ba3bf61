// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Synthesizer turns entry text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, title, content string) ([]byte, error)
}

// Audio job outcomes.
const (
	AudioAttached   = "attached"
	AudioFailed     = "failed"
	AudioTimedOut   = "timeout"
	AudioSuperseded = "superseded"
)

// Default AudioWorker limits.
const (
	DefaultAudioTimeout     = 60 * time.Second
	DefaultAudioConcurrency = 4
)

// AudioWorkerConfig configures an AudioWorker.
type AudioWorkerConfig struct {
	Synthesizer Synthesizer
	Entries     EntryRepository
	// Timeout bounds one synthesis call. Zero means DefaultAudioTimeout.
	Timeout time.Duration
	// Concurrency bounds simultaneous synthesis calls. Zero means DefaultAudioConcurrency.
	Concurrency int
	Logger      *slog.Logger
}

// AudioWorker runs synthesis jobs in the background and attaches the result
// to the entry they were generated from.
type AudioWorker struct {
	synth   Synthesizer
	entries EntryRepository
	timeout time.Duration
	slots   chan struct{}
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAudioWorker creates an AudioWorker. Call Close to stop it.
func NewAudioWorker(cfg AudioWorkerConfig) (*AudioWorker, error) {
	if cfg.Synthesizer == nil {
		return nil, oops.Code("AUDIO_INVALID_CONFIG").Errorf("synthesizer is required")
	}
	if cfg.Entries == nil {
		return nil, oops.Code("AUDIO_INVALID_CONFIG").Errorf("entry repository is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAudioTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultAudioConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AudioWorker{
		synth:   cfg.Synthesizer,
		entries: cfg.Entries,
		timeout: cfg.Timeout,
		slots:   make(chan struct{}, cfg.Concurrency),
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Schedule queues synthesis for an entry at the given version. It never
// blocks and reports false once the worker is closed.
func (w *AudioWorker) Schedule(id ulid.ULID, version int, title, content string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.wg.Add(1)
	go w.run(id, version, title, content)
	return true
}

func (w *AudioWorker) run(id ulid.ULID, version int, title, content string) {
	defer w.wg.Done()

	select {
	case w.slots <- struct{}{}:
		defer func() { <-w.slots }()
	case <-w.ctx.Done():
		return
	}

	log := w.logger.With("entry_id", id.String(), "version", version)

	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	audio, err := w.synth.Synthesize(ctx, title, content)
	cancel()
	if err != nil {
		outcome := AudioFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = AudioTimedOut
		}
		AudioJobs.WithLabelValues(outcome).Inc()
		log.Warn("audio synthesis failed, entry kept without audio", "outcome", outcome, "error", err)
		return
	}

	attached, err := w.entries.AttachAudio(w.ctx, id, version, audio)
	switch {
	case err != nil:
		AudioJobs.WithLabelValues(AudioFailed).Inc()
		log.Warn("failed to attach audio", "error", err)
	case !attached:
		AudioJobs.WithLabelValues(AudioSuperseded).Inc()
		log.Debug("entry changed or deleted before audio was ready, discarding")
	default:
		AudioJobs.WithLabelValues(AudioAttached).Inc()
		log.Debug("audio attached", "bytes", len(audio))
	}
}

// Wait blocks until every scheduled job has finished.
func (w *AudioWorker) Wait() {
	w.wg.Wait()
}

// Close stops accepting jobs, cancels the ones in flight and waits for them.
func (w *AudioWorker) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
}
