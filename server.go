package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cellbridge/smsgw/modem"
	"github.com/cellbridge/smsgw/queue"
	"github.com/cellbridge/smsgw/sms"
)

// maxUploadBytes caps call-audio uploads. A minute of 24kHz 16-bit mono WAV
// is under 3MB; 16MB leaves generous headroom.
const maxUploadBytes = 16 << 20

// ModemAdmin is the slice of the modem surface the HTTP boundary needs.
// Implemented by *modem.Modem.
type ModemAdmin interface {
	Info(ctx context.Context) modem.Info
	Reset(ctx context.Context) error
}

// Server handles incoming HTTP requests for the gateway: job creation,
// queue and archive introspection, and modem admin operations.
//
// Every response is a JSON envelope {"ok": bool, ...}. Validation failures
// return 400, unexpected faults 500 with the error message.
type Server struct {
	Logger *slog.Logger
	Store  *queue.Store
	Sched  *queue.Scheduler
	Modem  ModemAdmin
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Post("/sms", s.handleSMS)
	r.Post("/bulk-sms", s.handleBulkSMS)
	r.Post("/voice-call", s.handleVoiceCall)
	r.Post("/voice-call-file", s.handleVoiceCallFile)
	r.Post("/voice-realtime", s.handleVoiceRealtime)

	r.Get("/queue", s.handleListQueue)
	r.Delete("/queue", s.handleClearQueue)
	r.Get("/sent", s.handleListSent)
	r.Delete("/sent", s.handleClearSent)
	r.Get("/failed", s.handleListFailed)
	r.Delete("/failed", s.handleClearFailed)

	r.Get("/modem/info", s.handleModemInfo)
	r.Post("/modem/reset", s.handleModemReset)

	return r
}

func (s *Server) respond(w http.ResponseWriter, statusCode int, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["ok"] = statusCode < 400
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, err error) {
	s.respond(w, statusCode, map[string]any{"error": err.Error()})
}

// handleSMS queues a single outbound SMS.
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number  string `json:"number"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Number == "" || req.Message == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("both 'number' and 'message' fields are required"))
		return
	}
	if err := sms.Validate(req.Message, sms.NeedsUCS2(req.Message)); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	job := queue.NewSingle(req.Number, req.Message)
	if err := s.Store.Insert(r.Context(), job); err != nil {
		s.Logger.Error("Failed to queue SMS", "error", err, "number", req.Number)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.Sched.Kick()

	s.Logger.Info("SMS queued", "id", job.ID, "number", req.Number, "message_length", len(req.Message))
	s.respond(w, http.StatusOK, map[string]any{"id": job.ID})
}

// handleBulkSMS queues one message to many numbers as a single batch. Blank
// numbers are dropped and reported in the notAdded count rather than
// failing the whole batch.
func (s *Server) handleBulkSMS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Numbers []string `json:"numbers"`
		Message string   `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Numbers) == 0 || req.Message == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("both 'numbers' and 'message' fields are required"))
		return
	}
	if err := sms.Validate(req.Message, sms.NeedsUCS2(req.Message)); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	numbers := make([]string, 0, len(req.Numbers))
	for _, n := range req.Numbers {
		if n != "" {
			numbers = append(numbers, n)
		}
	}
	if len(numbers) == 0 {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("no usable numbers in batch"))
		return
	}

	jobs := queue.NewBulk(numbers, req.Message)
	if err := s.Store.InsertBatch(r.Context(), jobs); err != nil {
		s.Logger.Error("Failed to queue bulk batch", "error", err, "count", len(jobs))
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.Sched.Kick()

	bulkID := jobs[0].SMS.BulkID
	s.Logger.Info("Bulk batch queued", "bulkId", bulkID, "queued", len(jobs))
	s.respond(w, http.StatusOK, map[string]any{
		"bulkId":   bulkID,
		"queued":   len(jobs),
		"notAdded": len(req.Numbers) - len(numbers),
	})
}

// handleVoiceCall queues a TTS voice call.
func (s *Server) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number string `json:"number"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Number == "" || req.Text == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("both 'number' and 'text' fields are required"))
		return
	}

	job := queue.NewVoiceTTS(req.Number, req.Text)
	if err := s.Store.Insert(r.Context(), job); err != nil {
		s.Logger.Error("Failed to queue voice call", "error", err, "number", req.Number)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.Sched.Kick()

	s.Logger.Info("Voice call queued", "id", job.ID, "number", req.Number)
	s.respond(w, http.StatusOK, map[string]any{"id": job.ID})
}

// handleVoiceCallFile queues a voice call that plays an uploaded audio file.
// Multipart form: "number" field plus an "audio" file part. The upload is
// spooled to a temp file owned by the queue until the job is terminal.
func (s *Server) handleVoiceCallFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	number := r.FormValue("number")
	if number == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("'number' field is required"))
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("'audio' file is required: %w", err))
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "smsgw-call-*.wav")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	tmp.Close()

	job := queue.NewVoiceAudio(number, tmp.Name())
	if err := s.Store.Insert(r.Context(), job); err != nil {
		os.Remove(tmp.Name())
		s.Logger.Error("Failed to queue audio call", "error", err, "number", number)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.Sched.Kick()

	s.Logger.Info("Audio call queued", "id", job.ID, "number", number)
	s.respond(w, http.StatusOK, map[string]any{"id": job.ID})
}

// handleVoiceRealtime queues a voice call bridged to the realtime provider.
// Instructions are optional; empty keeps the configured session default.
func (s *Server) handleVoiceRealtime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number       string `json:"number"`
		Instructions string `json:"instructions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Number == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("'number' field is required"))
		return
	}

	job := queue.NewVoiceRealtime(req.Number, req.Instructions)
	if err := s.Store.Insert(r.Context(), job); err != nil {
		s.Logger.Error("Failed to queue realtime call", "error", err, "number", req.Number)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.Sched.Kick()

	s.Logger.Info("Realtime call queued", "id", job.ID, "number", req.Number)
	s.respond(w, http.StatusOK, map[string]any{"id": job.ID})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Store.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"jobs": jobs, "bulkCursor": s.Sched.BulkCursor()})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Clear(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.Logger.Info("Queue cleared")
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) handleListSent(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Store.ListSent(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleClearSent(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.ClearSent(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.Logger.Info("Sent archive cleared")
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Store.ListFailed(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.ClearFailed(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.Logger.Info("Failed archive cleared")
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) handleModemInfo(w http.ResponseWriter, r *http.Request) {
	info := s.Modem.Info(r.Context())
	s.respond(w, http.StatusOK, map[string]any{"modem": info})
}

func (s *Server) handleModemReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Modem.Reset(r.Context()); err != nil {
		s.Logger.Error("Modem reset failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.Logger.Info("Modem reset requested")
	s.respond(w, http.StatusOK, nil)
}
