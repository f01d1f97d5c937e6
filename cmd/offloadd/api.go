package main

import (
	"context"
	"io"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/godispatch/offload/pkg/dispatch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type server struct {
	dispatcher *dispatch.Dispatcher
	logger     log.Logger
}

func (s *server) register(r *mux.Router) {
	r.HandleFunc("/api/v1/tasks/{kind}", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task := dispatch.NewTask(dispatch.Kind(mux.Vars(r)["kind"]), payload)
	if opts := taskOptions(r); opts != "" {
		task = task.WithOptions(opts)
	}

	data, err := s.dispatcher.Do(r.Context(), task)
	if err != nil {
		level.Warn(s.logger).Log("msg", "task failed", "task", task.ID, "kind", task.Kind, "err", err)
		writeJSON(w, statusCodeFor(err), taskResponse{
			TaskID: task.ID.String(),
			Kind:   string(task.Kind),
			Error:  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, taskResponse{
		TaskID: task.ID.String(),
		Kind:   string(task.Kind),
		Result: data,
	})
}

// taskOptions maps the well-known query parameters onto the task options.
func taskOptions(r *http.Request) string {
	q := r.URL.Query()
	if v := q.Get("encoding"); v != "" {
		return v
	}
	return q.Get("transform")
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, dispatch.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		// The unit finished the task and reported a failure.
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
