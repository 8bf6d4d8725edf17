// Package queue implements the persisted job queue and the scheduler that
// feeds jobs to the modem one at a time.
//
// Every piece of work the gateway performs (an outbound SMS, a bulk batch
// item, an inbound message awaiting webhook delivery, a voice call) is a Job
// persisted in SQLite before it is acted on, so a crash or power loss never
// drops accepted work.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the job payload. Exactly one payload pointer on Job is
// set, matching the Kind.
type Kind string

const (
	KindSingle        Kind = "single"
	KindBulkItem      Kind = "bulk_item"
	KindInbound       Kind = "inbound"
	KindVoiceTTS      Kind = "voice_tts"
	KindVoiceAudio    Kind = "voice_audio"
	KindVoiceRealtime Kind = "voice_realtime"
)

// Status is the lifecycle state of a job.
//
// Outbound jobs move pending -> sent (archived) or pending -> failed.
// Inbound jobs move received_raw -> sent (webhook delivered) or through
// parse_failed / webhook_send_failed / webhook_max_retries.
type Status string

const (
	StatusPending           Status = "pending"
	StatusSent              Status = "sent"
	StatusFailed            Status = "failed"
	StatusReceivedRaw       Status = "received_raw"
	StatusParseFailed       Status = "parse_failed"
	StatusWebhookSendFailed Status = "webhook_send_failed"
	StatusWebhookMaxRetries Status = "webhook_max_retries"
)

// SMSPayload is the payload of single and bulk outbound messages. Bulk items
// additionally carry the batch they belong to and their position in it,
// which drives the scheduler's bulk cursor.
type SMSPayload struct {
	Number    string `json:"number"`
	Text      string `json:"text"`
	BulkID    string `json:"bulkId,omitempty"`
	BulkIndex int    `json:"bulkIndex,omitempty"`
}

// InboundPayload is the payload of a received message. RawDump holds the
// unprocessed CMGR response; From, Text and ModemTimestamp are filled in
// once parsing succeeds.
type InboundPayload struct {
	RawDump        string    `json:"rawDump"`
	From           string    `json:"from,omitempty"`
	Text           string    `json:"text,omitempty"`
	ModemTimestamp string    `json:"modemTimestamp,omitempty"`
	OriginalIndex  int       `json:"originalIndex"`
	ModemMemory    string    `json:"modemMemory"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// VoicePayload is the payload of voice-call jobs. For TTS calls Say is the
// text to speak; for realtime calls it carries the session instructions for
// the realtime voice provider (empty keeps the provider default).
type VoicePayload struct {
	Number    string `json:"number"`
	Say       string `json:"say,omitempty"`
	AudioPath string `json:"audioPath,omitempty"`
}

// Job is one unit of gateway work. The payload pointers form a tagged union
// keyed by Kind; constructors guarantee the matching one is set.
type Job struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	SMS     *SMSPayload     `json:"sms,omitempty"`
	Inbound *InboundPayload `json:"inbound,omitempty"`
	Voice   *VoicePayload   `json:"voice,omitempty"`
}

// NewSingle creates a pending outbound SMS job.
func NewSingle(number, text string) Job {
	return Job{
		ID:        uuid.NewString(),
		Kind:      KindSingle,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		SMS:       &SMSPayload{Number: number, Text: text},
	}
}

// NewBulk creates one pending job per number, all sharing a batch ID and
// numbered by their position in the batch.
func NewBulk(numbers []string, text string) []Job {
	bulkID := uuid.NewString()
	jobs := make([]Job, 0, len(numbers))
	for i, number := range numbers {
		jobs = append(jobs, Job{
			ID:        uuid.NewString(),
			Kind:      KindBulkItem,
			Status:    StatusPending,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
			SMS:       &SMSPayload{Number: number, Text: text, BulkID: bulkID, BulkIndex: i},
		})
	}
	return jobs
}

// NewInbound creates a received_raw job holding an unparsed message dump.
func NewInbound(rawDump, memory string, index int) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.NewString(),
		Kind:      KindInbound,
		Status:    StatusReceivedRaw,
		CreatedAt: now,
		UpdatedAt: now,
		Inbound: &InboundPayload{
			RawDump:       rawDump,
			OriginalIndex: index,
			ModemMemory:   memory,
			ReceivedAt:    now,
		},
	}
}

// NewVoiceTTS creates a pending voice call that speaks the given text.
func NewVoiceTTS(number, say string) Job {
	return Job{
		ID:        uuid.NewString(),
		Kind:      KindVoiceTTS,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Voice:     &VoicePayload{Number: number, Say: say},
	}
}

// NewVoiceAudio creates a pending voice call that plays a prepared audio
// file. The queue owns the file and removes it once the job is terminal.
func NewVoiceAudio(number, audioPath string) Job {
	return Job{
		ID:        uuid.NewString(),
		Kind:      KindVoiceAudio,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Voice:     &VoicePayload{Number: number, AudioPath: audioPath},
	}
}

// NewVoiceRealtime creates a pending voice call bridged to the realtime
// voice provider with the given session instructions.
func NewVoiceRealtime(number, instructions string) Job {
	return Job{
		ID:        uuid.NewString(),
		Kind:      KindVoiceRealtime,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Voice:     &VoicePayload{Number: number, Say: instructions},
	}
}

// validate checks the payload pointer matches the Kind. Called before
// persisting; a mismatch is a programming error worth failing loudly on.
func (j *Job) validate() error {
	var want, got int
	switch j.Kind {
	case KindSingle, KindBulkItem:
		want = 1
		if j.SMS != nil {
			got = 1
		}
	case KindInbound:
		want = 1
		if j.Inbound != nil {
			got = 1
		}
	case KindVoiceTTS, KindVoiceAudio, KindVoiceRealtime:
		want = 1
		if j.Voice != nil {
			got = 1
		}
	default:
		return fmt.Errorf("queue: unknown job kind %q", j.Kind)
	}
	if want != got {
		return fmt.Errorf("queue: job %s kind %s has no matching payload", j.ID, j.Kind)
	}
	return nil
}
