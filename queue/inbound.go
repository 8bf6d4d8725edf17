package queue

import (
	"context"
	"log/slog"

	"github.com/cellbridge/smsgw/at"
)

// MessageReader reads and deletes stored messages on the modem.
// Implemented by *modem.Modem.
type MessageReader interface {
	ReadMessage(ctx context.Context, index int) (string, error)
	DeleteMessage(ctx context.Context, index int) error
}

// Notifier exposes the modem's unsolicited notification stream.
type Notifier interface {
	Subscribe() (<-chan string, func())
}

// Watcher turns new-message notifications into persisted inbound jobs.
//
// On every +CMTI it reads the raw message dump, persists it as a
// received_raw job, and only then deletes the message from modem storage.
// Persist-before-delete means a crash between the two duplicates the
// message instead of losing it, which is the right trade for a gateway.
// Parsing and webhook delivery happen later in the scheduler.
type Watcher struct {
	store    *Store
	modem    MessageReader
	notifier Notifier
	sched    *Scheduler
	log      *slog.Logger
}

func NewWatcher(store *Store, modem MessageReader, notifier Notifier, sched *Scheduler, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{store: store, modem: modem, notifier: notifier, sched: sched, log: log}
}

// Run consumes notifications until ctx is cancelled or the notification
// stream closes (which means the modem loop terminated).
func (w *Watcher) Run(ctx context.Context) error {
	ch, cancel := w.notifier.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-ch:
			if !ok {
				return nil
			}
			memory, index, ok := at.ParseNewMessage(line)
			if !ok {
				continue
			}
			w.handle(ctx, memory, index)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, memory string, index int) {
	w.log.Info("new inbound message", "memory", memory, "index", index)

	dump, err := w.modem.ReadMessage(ctx, index)
	if err != nil {
		// The message stays in modem storage; the next CNMI event or a
		// manual read can recover it.
		w.log.Error("read inbound message", "index", index, "error", err)
		return
	}

	job := NewInbound(dump, memory, index)
	if err := w.store.Insert(ctx, job); err != nil {
		w.log.Error("persist inbound message", "index", index, "error", err)
		return
	}

	if err := w.modem.DeleteMessage(ctx, index); err != nil {
		w.log.Warn("delete inbound message from modem", "index", index, "error", err)
	}

	if w.sched != nil {
		w.sched.Kick()
	}
}
