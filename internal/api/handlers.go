package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/executor"
	"github.com/five82/splice/internal/logging"
)

// maxBodyBytes caps request bodies. Requests carry paths, not media.
const maxBodyBytes = 1 << 20

// Handler serves the API for one executor.
type Handler struct {
	exec executor.Executor
	// ctx outlives individual requests; jobs started over HTTP run under it.
	ctx context.Context
	log *logging.Logger
}

// NewHandler creates a handler. Jobs started through it are cancelled when
// ctx is done.
func NewHandler(ctx context.Context, exec executor.Executor, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Global()
	}
	return &Handler{exec: exec, ctx: ctx, log: log.WithPrefix("api")}
}

// ConcatenateRequest is the body of POST /api/concatenate.
type ConcatenateRequest struct {
	Inputs []string `json:"inputs"`
	Output string   `json:"output"`
}

// ValidateRequest is the body of POST /api/validate.
type ValidateRequest struct {
	Inputs []string `json:"inputs"`
}

// CancelResponse is the body returned by POST /api/cancel.
type CancelResponse struct {
	Success bool `json:"success"`
	executor.CancelResult
}

// Health reports liveness and whether a job is running.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"status":      "ok",
		"busy":        h.exec.Busy(),
		"cancellable": h.exec.Cancellable(),
	})
}

// Concatenate starts a job and returns its id without waiting for it.
func (h *Handler) Concatenate(w http.ResponseWriter, r *http.Request) {
	var req ConcatenateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	job, err := h.exec.Start(h.ctx, req.Inputs, req.Output)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	h.log.Info("job accepted", "job", job.JobID, "inputs", len(req.Inputs), "output", job.Output)

	go func() {
		if out := job.Wait(); out.Err != nil && !errors.IsCancelled(out.Err) {
			h.log.Warn("job failed", "job", job.JobID, "strategy", out.Strategy, "error", out.Err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{
		"jobId":      job.JobID,
		"status":     "accepted",
		"events_url": "/api/events",
	})
}

// Validate probes the inputs and reports stream copy compatibility.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	verdict, err := h.exec.ValidateCompatibility(r.Context(), req.Inputs)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, verdict)
}

// Cancel stops the active job, if any. It always succeeds.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	res := h.exec.Cancel()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, CancelResponse{Success: true, CancelResult: res})
}

// Progress returns the current snapshot.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, h.exec.Progress())
}

// Events streams every snapshot as a Server-Sent Event until the client
// disconnects or the server shuts down.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	updates, unsubscribe := h.exec.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				h.log.Warn("failed to encode snapshot", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", snap.Seq, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.IsBusy(err):
		return http.StatusConflict
	case errors.IsInvalidInput(err), errors.IsKind(err, errors.KindPath):
		return http.StatusBadRequest
	case errors.IsProbe(err), errors.IsKind(err, errors.KindIO):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeCoreError(w http.ResponseWriter, err error) {
	writeJSONError(w, err.Error(), statusFor(err))
}
