package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maziarzamani/spaceduck-sub000/internal/budget"
	"github.com/maziarzamani/spaceduck-sub000/internal/scheduler"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

type taskWire struct {
	ID             string     `json:"id"`
	Definition     string     `json:"definition"`
	ScheduleKind   string     `json:"scheduleKind"`
	ScheduleValue  string     `json:"scheduleValue,omitempty"`
	Budget         any        `json:"budget,omitempty"`
	Status         string     `json:"status"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
	RetryCount     int        `json:"retryCount"`
	ConversationID string     `json:"conversationId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func taskToWire(t store.Task) taskWire {
	w := taskWire{
		ID:             t.ID,
		Definition:     t.Definition,
		ScheduleKind:   string(t.ScheduleKind),
		ScheduleValue:  t.ScheduleValue,
		Status:         string(t.Status),
		NextRunAt:      t.NextRunAt,
		RetryCount:     t.RetryCount,
		ConversationID: t.ConversationID,
		CreatedAt:      t.CreatedAt,
	}
	if b, err := budget.Decode(t.Budget); err == nil {
		w.Budget = b
	}
	return w
}

// handleTasks serves POST /api/tasks (create) and GET /api/tasks
// (list, optionally filtered with ?status=).
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleTaskCreate(w, r)
	case http.MethodGet:
		tasks, err := s.deps.DB.ListTasks(r.Context(), store.TaskStatus(r.URL.Query().Get("status")))
		if err != nil {
			s.logError(r.Context(), "httpapi: list tasks", "err", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
			return
		}
		out := make([]taskWire, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, taskToWire(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type taskCreateRequest struct {
	Definition     string        `json:"definition"`
	ScheduleKind   string        `json:"scheduleKind"`
	ScheduleValue  string        `json:"scheduleValue,omitempty"`
	Budget         budget.Budget `json:"budget,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req taskCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	if req.Definition == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "VALIDATION", "issues": []string{"definition is required"}})
		return
	}

	kind := store.ScheduleKind(req.ScheduleKind)
	nextRunAt, err := scheduler.ValidateSchedule(kind, req.ScheduleValue)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "VALIDATION", "issues": []string{err.Error()}})
		return
	}

	encoded, err := req.Budget.Encode()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "VALIDATION", "issues": []string{err.Error()}})
		return
	}

	task := store.Task{
		ID:             uuid.NewString(),
		Definition:     req.Definition,
		ScheduleKind:   kind,
		ScheduleValue:  req.ScheduleValue,
		Budget:         encoded,
		Status:         store.TaskStatusScheduled,
		NextRunAt:      &nextRunAt,
		ConversationID: req.ConversationID,
	}
	if err := s.deps.DB.CreateTask(r.Context(), &task); err != nil {
		s.logError(r.Context(), "httpapi: create task", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusCreated, taskToWire(task))
}

// handleTasksBudget serves GET /api/tasks/budget: accumulated daily and
// monthly spend against the configured caps.
func (s *Server) handleTasksBudget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	daily, err := s.deps.DB.SpendSince(r.Context(), dayStart)
	if err != nil {
		s.logError(r.Context(), "httpapi: daily spend", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	monthly, err := s.deps.DB.SpendSince(r.Context(), monthStart)
	if err != nil {
		s.logError(r.Context(), "httpapi: monthly spend", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	schedCfg := s.deps.Config.Current().Scheduler
	paused := (schedCfg.MaxDailySpendUSD > 0 && daily >= schedCfg.MaxDailySpendUSD) ||
		(schedCfg.MaxMonthlySpendUSD > 0 && monthly >= schedCfg.MaxMonthlySpendUSD)

	writeJSON(w, http.StatusOK, map[string]any{
		"dailySpentUsd":      daily,
		"monthlySpentUsd":    monthly,
		"maxDailySpendUsd":   schedCfg.MaxDailySpendUSD,
		"maxMonthlySpendUsd": schedCfg.MaxMonthlySpendUSD,
		"paused":             paused,
	})
}

// handleTaskByID routes GET/DELETE /api/tasks/:id, POST
// /api/tasks/:id/retry, and GET /api/tasks/:id/runs.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleTaskGet(w, r, id)
	case sub == "" && r.Method == http.MethodDelete:
		s.handleTaskDelete(w, r, id)
	case sub == "retry" && r.Method == http.MethodPost:
		s.handleTaskRetry(w, r, id)
	case sub == "runs" && r.Method == http.MethodGet:
		s.handleTaskRuns(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request, id string) {
	task, err := s.deps.DB.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.logError(r.Context(), "httpapi: get task", "task_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, taskToWire(*task))
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.deps.DB.DeleteTask(r.Context(), id); err != nil {
		s.logError(r.Context(), "httpapi: delete task", "task_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleTaskRetry re-arms a failed or dead-lettered task: retry count
// resets and the task becomes due immediately.
func (s *Server) handleTaskRetry(w http.ResponseWriter, r *http.Request, id string) {
	task, err := s.deps.DB.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.logError(r.Context(), "httpapi: retry task", "task_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	if task.Status != store.TaskStatusFailed && task.Status != store.TaskStatusDeadLetter {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "CONFLICT", "status": task.Status})
		return
	}

	now := time.Now().UTC()
	if err := s.deps.DB.CompleteTask(r.Context(), id, store.TaskStatusScheduled, &now, 0); err != nil {
		s.logError(r.Context(), "httpapi: rearm task", "task_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "nextRunAt": now})
}

func (s *Server) handleTaskRuns(w http.ResponseWriter, r *http.Request, id string) {
	runs, err := s.deps.DB.ListTaskRuns(r.Context(), id)
	if err != nil {
		s.logError(r.Context(), "httpapi: list task runs", "task_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	type runWire struct {
		ID           string     `json:"id"`
		StartedAt    time.Time  `json:"startedAt"`
		FinishedAt   *time.Time `json:"finishedAt,omitempty"`
		Outcome      string     `json:"outcome"`
		Error        string     `json:"error,omitempty"`
		TokensUsed   int        `json:"tokensUsed"`
		CostUSD      float64    `json:"costUsd"`
		ToolCalls    int        `json:"toolCalls"`
		MemoryWrites int        `json:"memoryWrites"`
	}
	out := make([]runWire, 0, len(runs))
	for _, run := range runs {
		out = append(out, runWire{
			ID:           run.ID,
			StartedAt:    run.StartedAt,
			FinishedAt:   run.FinishedAt,
			Outcome:      run.Outcome,
			Error:        run.Error,
			TokensUsed:   run.TokensUsed,
			CostUSD:      run.CostUSD,
			ToolCalls:    run.ToolCalls,
			MemoryWrites: run.MemoryWrites,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}
