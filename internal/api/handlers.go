package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/threadgate/internal/auth"
	"github.com/mattjoyce/threadgate/internal/directory"
	"github.com/mattjoyce/threadgate/internal/events"
	"github.com/mattjoyce/threadgate/internal/notify"
	"github.com/mattjoyce/threadgate/internal/thread"
	"github.com/mattjoyce/threadgate/internal/threads"
	"github.com/mattjoyce/threadgate/internal/visibility"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleCreateThread handles POST /threads. A visitor that supplies an
// operator code is routed to that operator.
func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var routedTo *thread.Operator
	if code := strings.TrimSpace(req.OperatorCode); code != "" {
		op, err := s.operators.OperatorByCode(r.Context(), code)
		if errors.Is(err, directory.ErrOperatorNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown operator code")
			return
		}
		if err != nil {
			s.logger.Error("operator code lookup failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to resolve operator code")
			return
		}
		routedTo = op
	}

	create := threads.CreateRequest{
		UserName: strings.TrimSpace(req.UserName),
		Remote:   r.RemoteAddr,
		Referer:  req.Referer,
	}
	if routedTo != nil {
		create.NextAgent = routedTo.ID
	}
	t, err := s.threads.Create(r.Context(), create)
	if err != nil {
		s.logger.Error("failed to create thread", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}

	if routedTo != nil {
		routed := notify.ThreadRoutedV1{
			ThreadID:     t.ID,
			OperatorID:   routedTo.ID,
			OperatorCode: routedTo.Code,
			UserName:     t.UserName,
			CreatedAt:    t.Created,
		}
		s.hub.Publish(events.ThreadRouted, routed)
		if s.notifier != nil {
			// Failure is logged by the notifier; the thread already exists.
			_ = s.notifier.ThreadRouted(r.Context(), routed, middleware.GetReqID(r.Context()))
		}
	}

	respondJSON(w, http.StatusCreated, CreateThreadResponse{
		ThreadID: t.ID,
		State:    t.State,
		Routed:   routedTo != nil,
	})
}

// handlePendingThreads handles GET /threads/pending: the threads awaiting
// assignment as seen by the session operator.
func (s *Server) handlePendingThreads(w http.ResponseWriter, r *http.Request) {
	op, ok := s.sessionOperator(w, r)
	if !ok {
		return
	}

	list, err := s.threads.Pending(r.Context())
	if err != nil {
		s.logger.Error("failed to list pending threads", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	args := &events.ThreadsAlterArgs{Operator: op, Threads: list}
	s.dispatcher.Dispatch(r.Context(), events.UsersUpdateThreadsAlter, args)

	resp := PendingThreadsResponse{Threads: args.Threads}
	if resp.Threads == nil {
		resp.Threads = []thread.Summary{}
	}
	if op != nil {
		resp.OperatorID = op.ID
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleTakeThread handles POST /threads/{threadID}/take. Operators cannot
// take a queued thread that is hidden from them.
func (s *Server) handleTakeThread(w http.ResponseWriter, r *http.Request) {
	op, ok := s.sessionOperator(w, r)
	if !ok {
		return
	}
	if op == nil {
		s.writeError(w, http.StatusForbidden, "an operator session is required")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid thread id")
		return
	}

	t, err := s.threads.Load(r.Context(), id)
	if errors.Is(err, threads.ErrThreadNotFound) {
		s.writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load thread", "thread_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}

	if t.State != thread.StateQueue {
		s.writeError(w, http.StatusConflict, "thread is not waiting in the queue")
		return
	}
	if s.hiddenFrom(t, op) {
		s.writeError(w, http.StatusForbidden, "thread is routed to another operator")
		return
	}

	if err := s.threads.Assign(r.Context(), id, thread.StateChatting, op.ID); err != nil {
		s.logger.Error("failed to assign thread", "thread_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to assign thread")
		return
	}
	t.State = thread.StateChatting
	t.AgentID = op.ID
	respondJSON(w, http.StatusOK, t.Summarize())
}

// hiddenFrom applies the filter's rule to a single thread.
func (s *Server) hiddenFrom(t *thread.Thread, op *thread.Operator) bool {
	cfg := s.config.Visibility
	if cfg == nil || visibility.Exempt(op, *cfg) {
		return false
	}
	return t.NextAgent != 0 && t.NextAgent != op.ID
}

// sessionOperator resolves the operator bound to the request session. It
// returns (nil, true) for sessions without an operator.
func (s *Server) sessionOperator(w http.ResponseWriter, r *http.Request) (*thread.Operator, bool) {
	sess, _ := auth.SessionFromContext(r.Context())
	if !sess.HasOperator() {
		return nil, true
	}
	op, err := s.operators.OperatorByID(r.Context(), sess.OperatorID)
	if errors.Is(err, directory.ErrOperatorNotFound) {
		return nil, true
	}
	if err != nil {
		s.logger.Error("operator lookup failed", "operator_id", sess.OperatorID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve operator")
		return nil, false
	}
	return op, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
