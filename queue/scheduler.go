package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/cellbridge/smsgw/sms"
	"github.com/cellbridge/smsgw/voice"
	"github.com/cellbridge/smsgw/webhook"
)

// ErrSchedulerRunning is returned when Run is called while a previous Run
// is still active. The modem is single-flight; two workers would
// double-dispatch against it.
var ErrSchedulerRunning = errors.New("queue: scheduler already running")

// Sender sends one outbound SMS. Implemented by *modem.Modem.
type Sender interface {
	SendSMS(ctx context.Context, number, text string) error
}

// Deliverer posts one inbound message to the configured webhook.
type Deliverer interface {
	Deliver(ctx context.Context, p webhook.Payload) error
}

// Caller places one voice call and blocks until it ends or fails.
// Implemented by *voice.Controller.
type Caller interface {
	Call(ctx context.Context, req voice.CallRequest) error
}

// CallGate reports whether a voice call is currently in progress. Voice jobs
// are deferred, not failed, while the gate is busy.
type CallGate interface {
	Busy() bool
}

// SchedulerConfig wires the scheduler's collaborators and tuning knobs.
type SchedulerConfig struct {
	Store    *Store
	Sender   Sender
	Webhook  Deliverer
	Caller   Caller
	Gate     CallGate
	Logger   *slog.Logger

	// SuccessDelay and FailureDelay are the pauses after a dispatched job,
	// keyed on its outcome. Modems misbehave when commands are fired
	// back-to-back, and failures usually mean network trouble worth backing
	// off from.
	SuccessDelay time.Duration
	FailureDelay time.Duration
	// IdleInterval is the poll interval when the queue is empty. Kick
	// short-circuits it.
	IdleInterval time.Duration

	MaxSendAttempts    int
	MaxWebhookAttempts int
}

// Scheduler drains the job store one job at a time, in priority order:
// unprocessed inbound messages first, then inbound webhook retries, then
// voice calls (when no call is active), then single outbound messages, and
// bulk batch items last.
//
// All scheduling state is explicit on the struct: the bulk cursor and the
// timing knobs live here, not in closures, so tests can construct a
// scheduler mid-batch and assert on the cursor.
type Scheduler struct {
	store   *Store
	sender  Sender
	webhook Deliverer
	caller  Caller
	gate    CallGate
	log     *slog.Logger

	successDelay time.Duration
	failureDelay time.Duration
	idleInterval time.Duration

	maxSendAttempts    int
	maxWebhookAttempts int

	// bulkCursor is the bulk index the batch walk has reached. Single
	// messages interleave between bulk items without disturbing it.
	// Atomic: the worker advances it while the HTTP layer reads it.
	bulkCursor atomic.Int64

	// running rejects a second concurrent Run.
	running atomic.Bool

	kick chan struct{}
}

// NewScheduler builds a scheduler. Zero tuning values get defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SuccessDelay == 0 {
		cfg.SuccessDelay = 5 * time.Second
	}
	if cfg.FailureDelay == 0 {
		cfg.FailureDelay = 30 * time.Second
	}
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = time.Second
	}
	if cfg.MaxSendAttempts == 0 {
		cfg.MaxSendAttempts = 3
	}
	if cfg.MaxWebhookAttempts == 0 {
		cfg.MaxWebhookAttempts = 5
	}
	return &Scheduler{
		store:              cfg.Store,
		sender:             cfg.Sender,
		webhook:            cfg.Webhook,
		caller:             cfg.Caller,
		gate:               cfg.Gate,
		log:                cfg.Logger,
		successDelay:       cfg.SuccessDelay,
		failureDelay:       cfg.FailureDelay,
		idleInterval:       cfg.IdleInterval,
		maxSendAttempts:    cfg.MaxSendAttempts,
		maxWebhookAttempts: cfg.MaxWebhookAttempts,
		kick:               make(chan struct{}, 1),
	}
}

// Kick nudges an idle scheduler to look at the queue immediately, typically
// after a job was just accepted. Safe from any goroutine; never blocks.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// BulkCursor returns the current batch position. Intended for status
// reporting and tests; safe from any goroutine.
func (s *Scheduler) BulkCursor() int { return int(s.bulkCursor.Load()) }

// Run drains the queue until ctx is cancelled. Exactly one job is in flight
// at any time; the modem cannot multiplex anyway. A second concurrent Run
// returns ErrSchedulerRunning.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSchedulerRunning
	}
	defer s.running.Store(false)

	for {
		dispatched, ok := s.Step(ctx)

		var delay time.Duration
		switch {
		case !dispatched:
			delay = s.idleInterval
		case ok:
			delay = s.successDelay
		default:
			delay = s.failureDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-s.kick:
			// Only an idle scheduler reacts immediately; after a dispatched
			// job the inter-job delay still applies.
			if dispatched {
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			} else {
				timer.Stop()
			}
		}
	}
}

// Step picks and executes at most one job. It returns whether a job was
// dispatched and, if so, whether it succeeded. Exported so tests can drive
// the ladder deterministically without Run's timing.
func (s *Scheduler) Step(ctx context.Context) (dispatched, ok bool) {
	if job, err := s.store.NextInbound(ctx); err == nil {
		return true, s.processInbound(ctx, job)
	} else if !errors.Is(err, ErrEmpty) {
		s.log.Error("queue: pick inbound", "error", err)
		return false, false
	}

	if job, err := s.store.NextInboundRetry(ctx, s.maxWebhookAttempts); err == nil {
		return true, s.deliverInbound(ctx, job)
	} else if !errors.Is(err, ErrEmpty) {
		s.log.Error("queue: pick inbound retry", "error", err)
		return false, false
	}

	if s.gate == nil || !s.gate.Busy() {
		if job, err := s.store.NextVoice(ctx); err == nil {
			return true, s.processVoice(ctx, job)
		} else if !errors.Is(err, ErrEmpty) {
			s.log.Error("queue: pick voice", "error", err)
			return false, false
		}
	}

	if job, err := s.store.NextSingle(ctx); err == nil {
		return true, s.processSMS(ctx, job)
	} else if !errors.Is(err, ErrEmpty) {
		s.log.Error("queue: pick single", "error", err)
		return false, false
	}

	cursor := int(s.bulkCursor.Load())
	job, err := s.store.NextBulk(ctx, cursor)
	if errors.Is(err, ErrEmpty) {
		// Nothing pending at or past the cursor. A later batch may have
		// items below it (the previous batch finished past their indexes),
		// so fall back to the smallest pending index overall.
		if cursor > 0 {
			if j, err := s.store.NextBulk(ctx, 0); err == nil {
				s.bulkCursor.Store(int64(j.SMS.BulkIndex))
				return true, s.processSMS(ctx, j)
			} else if !errors.Is(err, ErrEmpty) {
				s.log.Error("queue: pick bulk", "error", err)
				return false, false
			}
			s.bulkCursor.Store(0)
		}
		return false, true
	}
	if err != nil {
		s.log.Error("queue: pick bulk", "error", err)
		return false, false
	}
	s.bulkCursor.Store(int64(job.SMS.BulkIndex))
	return true, s.processSMS(ctx, job)
}

// processSMS sends one outbound message (single or bulk item) with bounded
// retries. A bulk success moves the cursor past the item.
func (s *Scheduler) processSMS(ctx context.Context, job Job) bool {
	job.Attempts++
	err := s.sender.SendSMS(ctx, job.SMS.Number, job.SMS.Text)
	if err == nil {
		s.log.Info("sms sent", "id", job.ID, "kind", job.Kind, "number", job.SMS.Number, "attempts", job.Attempts)
		if job.Kind == KindBulkItem {
			s.bulkCursor.Store(int64(job.SMS.BulkIndex + 1))
		}
		if err := s.store.MoveToSent(ctx, job); err != nil {
			s.log.Error("queue: archive sent job", "id", job.ID, "error", err)
		}
		return true
	}

	job.LastError = err.Error()
	if job.Attempts >= s.maxSendAttempts {
		job.Status = StatusFailed
		s.log.Error("sms failed permanently", "id", job.ID, "number", job.SMS.Number, "attempts", job.Attempts, "error", err)
		if err := s.store.MoveToFailed(ctx, job); err != nil {
			s.log.Error("queue: archive failed job", "id", job.ID, "error", err)
		}
		return false
	}
	s.log.Warn("sms send failed, will retry", "id", job.ID, "number", job.SMS.Number, "attempts", job.Attempts, "error", err)
	if err := s.store.Update(ctx, job); err != nil {
		s.log.Error("queue: update job", "id", job.ID, "error", err)
	}
	return false
}

// processInbound parses a raw message dump and hands it to webhook delivery.
func (s *Scheduler) processInbound(ctx context.Context, job Job) bool {
	msg, err := sms.ParseInbound(job.Inbound.RawDump)
	if err != nil {
		// The raw dump stays on the archived job for manual inspection.
		job.Status = StatusParseFailed
		job.LastError = err.Error()
		s.log.Error("inbound message unparsable", "id", job.ID, "index", job.Inbound.OriginalIndex, "error", err)
		if err := s.store.MoveToFailed(ctx, job); err != nil {
			s.log.Error("queue: archive failed job", "id", job.ID, "error", err)
		}
		return false
	}

	job.Inbound.From = msg.From
	job.Inbound.Text = msg.Text
	job.Inbound.ModemTimestamp = msg.Timestamp
	return s.deliverInbound(ctx, job)
}

// deliverInbound posts a parsed inbound message to the webhook, with bounded
// retries across scheduler passes.
func (s *Scheduler) deliverInbound(ctx context.Context, job Job) bool {
	job.Attempts++
	p := webhook.Payload{
		ID:                job.ID,
		From:              job.Inbound.From,
		Text:              job.Inbound.Text,
		ModemTimestamp:    job.Inbound.ModemTimestamp,
		GatewayReceivedAt: job.Inbound.ReceivedAt,
		OriginalIndex:     job.Inbound.OriginalIndex,
		ModemMemory:       job.Inbound.ModemMemory,
	}
	if err := s.webhook.Deliver(ctx, p); err != nil {
		job.LastError = err.Error()
		if job.Attempts >= s.maxWebhookAttempts {
			job.Status = StatusWebhookMaxRetries
			s.log.Error("webhook delivery abandoned", "id", job.ID, "from", job.Inbound.From, "attempts", job.Attempts, "error", err)
			if err := s.store.MoveToFailed(ctx, job); err != nil {
				s.log.Error("queue: archive failed job", "id", job.ID, "error", err)
			}
			return false
		}
		job.Status = StatusWebhookSendFailed
		s.log.Warn("webhook delivery failed, will retry", "id", job.ID, "from", job.Inbound.From, "attempts", job.Attempts, "error", err)
		if err := s.store.Update(ctx, job); err != nil {
			s.log.Error("queue: update job", "id", job.ID, "error", err)
		}
		return false
	}

	s.log.Info("inbound delivered", "id", job.ID, "from", job.Inbound.From)
	if err := s.store.MoveToSent(ctx, job); err != nil {
		s.log.Error("queue: archive inbound job", "id", job.ID, "error", err)
	}
	return true
}

// processVoice places one voice call with bounded retries. Audio files
// queued with the job are removed once the job is terminal; a retryable
// failure keeps the file for the next attempt.
func (s *Scheduler) processVoice(ctx context.Context, job Job) bool {
	job.Attempts++
	req := voice.CallRequest{
		Number:    job.Voice.Number,
		Say:       job.Voice.Say,
		AudioPath: job.Voice.AudioPath,
		Realtime:  job.Kind == KindVoiceRealtime,
	}
	err := s.caller.Call(ctx, req)
	if err == nil {
		s.log.Info("voice call completed", "id", job.ID, "number", job.Voice.Number, "kind", job.Kind)
		s.removeCallAudio(job)
		if err := s.store.MoveToSent(ctx, job); err != nil {
			s.log.Error("queue: archive voice job", "id", job.ID, "error", err)
		}
		return true
	}

	job.LastError = err.Error()
	if job.Attempts >= s.maxSendAttempts {
		job.Status = StatusFailed
		s.removeCallAudio(job)
		s.log.Error("voice call failed permanently", "id", job.ID, "number", job.Voice.Number, "attempts", job.Attempts, "error", err)
		if err := s.store.MoveToFailed(ctx, job); err != nil {
			s.log.Error("queue: archive failed job", "id", job.ID, "error", err)
		}
		return false
	}
	s.log.Warn("voice call failed, will retry", "id", job.ID, "number", job.Voice.Number, "attempts", job.Attempts, "error", err)
	if err := s.store.Update(ctx, job); err != nil {
		s.log.Error("queue: update job", "id", job.ID, "error", err)
	}
	return false
}

func (s *Scheduler) removeCallAudio(job Job) {
	if job.Voice == nil || job.Voice.AudioPath == "" {
		return
	}
	if err := os.Remove(job.Voice.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("queue: remove call audio", "id", job.ID, "path", job.Voice.AudioPath, "error", err)
	}
}
