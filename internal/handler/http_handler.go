// Package handler exposes the workflow service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
	"github.com/dockflow-io/be-doc-workflows/internal/logger"
	"github.com/dockflow-io/be-doc-workflows/internal/repository"
	"github.com/dockflow-io/be-doc-workflows/internal/service"
)

// HTTPHandler handles HTTP requests. The API gateway authenticates callers
// and forwards their identity in the X-User-ID and X-Company-ID headers.
type HTTPHandler struct {
	workflows *service.WorkflowService
	bulk      *service.BulkService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(workflows *service.WorkflowService, bulk *service.BulkService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		workflows: workflows,
		bulk:      bulk,
		log:       log,
	}
}

// Register mounts all routes on the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/templates", h.CreateTemplate)
	mux.HandleFunc("/api/v1/templates/list", h.ListTemplates)
	mux.HandleFunc("/api/v1/templates/get", h.GetTemplate)
	mux.HandleFunc("/api/v1/templates/definition", h.UpdateTemplateDefinition)
	mux.HandleFunc("/api/v1/templates/deactivate", h.DeactivateTemplate)
	mux.HandleFunc("/api/v1/templates/example", h.ExampleDefinition)
	mux.HandleFunc("/api/v1/templates/conditions", h.AvailableConditions)
	mux.HandleFunc("/api/v1/workflows/start", h.StartWorkflow)
	mux.HandleFunc("/api/v1/workflows/get", h.GetWorkflow)
	mux.HandleFunc("/api/v1/workflows/history", h.WorkflowHistory)
	mux.HandleFunc("/api/v1/tasks/approve", h.ApproveTask)
	mux.HandleFunc("/api/v1/tasks/reject", h.RejectTask)
	mux.HandleFunc("/api/v1/tasks/pending", h.PendingTasks)
	mux.HandleFunc("/api/v1/tasks/history", h.TaskHistory)
	mux.HandleFunc("/api/v1/tasks/bulk-approve", h.BulkApprove)
	mux.HandleFunc("/api/v1/tasks/bulk-reject", h.BulkReject)
}

// CreateTemplate handles create template HTTP requests.
func (h *HTTPHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, company, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		Name          string  `json:"name"`
		Description   *string `json:"description"`
		DefinitionXML string  `json:"definition_xml"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	template, err := h.workflows.CreateTemplate(r.Context(), service.CreateTemplateRequest{
		CompanyID:     company,
		Name:          req.Name,
		Description:   req.Description,
		DefinitionXML: req.DefinitionXML,
		CreatedBy:     actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, template)
}

// ListTemplates handles list templates HTTP requests.
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_, company, ok := h.identity(w, r)
	if !ok {
		return
	}

	templates, err := h.workflows.ListTemplates(r.Context(), company)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// GetTemplate handles get template HTTP requests.
func (h *HTTPHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := h.queryUUID(w, r, "id")
	if !ok {
		return
	}

	template, err := h.workflows.GetTemplate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, template)
}

// UpdateTemplateDefinition handles definition update HTTP requests.
func (h *HTTPHandler) UpdateTemplateDefinition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID            uuid.UUID `json:"id"`
		DefinitionXML string    `json:"definition_xml"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	template, err := h.workflows.UpdateTemplateDefinition(r.Context(), req.ID, req.DefinitionXML)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, template)
}

// DeactivateTemplate handles deactivate template HTTP requests.
func (h *HTTPHandler) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.workflows.DeactivateTemplate(r.Context(), req.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ExampleDefinition returns a ready-to-use definition XML.
func (h *HTTPHandler) ExampleDefinition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(h.workflows.ExampleDefinition()))
}

// AvailableConditions lists the condition forms a template definition may use.
func (h *HTTPHandler) AvailableConditions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"conditions": h.workflows.AvailableConditions()})
}

// StartWorkflow handles start workflow HTTP requests.
func (h *HTTPHandler) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		DocumentID uuid.UUID `json:"document_id"`
		TemplateID uuid.UUID `json:"template_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	instance, err := h.workflows.StartWorkflow(r.Context(), req.DocumentID, req.TemplateID, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, instance)
}

// GetWorkflow handles get workflow HTTP requests, returning the instance and
// its task set.
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := h.queryUUID(w, r, "id")
	if !ok {
		return
	}

	instance, tasks, err := h.workflows.GetInstance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"instance": instance,
		"tasks":    tasks,
	})
}

// WorkflowHistory handles audit history HTTP requests.
func (h *HTTPHandler) WorkflowHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := h.queryUUID(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.workflows.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// ApproveTask handles approve task HTTP requests.
func (h *HTTPHandler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.workflows.ApproveTask)
}

// RejectTask handles reject task HTTP requests.
func (h *HTTPHandler) RejectTask(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.workflows.RejectTask)
}

// PendingTasks handles pending tasks HTTP requests: the tasks the caller can
// currently act on within their company.
func (h *HTTPHandler) PendingTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, company, ok := h.identity(w, r)
	if !ok {
		return
	}

	tasks, err := h.workflows.PendingTasks(r.Context(), company, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// TaskHistory handles task audit history HTTP requests.
func (h *HTTPHandler) TaskHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := h.queryUUID(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.workflows.TaskHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// BulkApprove handles bulk approve HTTP requests.
func (h *HTTPHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	h.bulkDecide(w, r, h.bulk.BulkApprove)
}

// BulkReject handles bulk reject HTTP requests.
func (h *HTTPHandler) BulkReject(w http.ResponseWriter, r *http.Request) {
	h.bulkDecide(w, r, h.bulk.BulkReject)
}

// ── shared plumbing ──────────────────────────────────────────────────────────

type decisionFunc func(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error)

type bulkDecisionFunc func(ctx context.Context, taskIDs []uuid.UUID, actorID, companyID uuid.UUID, comment string) (*service.BulkResult, error)

func (h *HTTPHandler) decide(w http.ResponseWriter, r *http.Request, fn decisionFunc) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		TaskID  uuid.UUID `json:"task_id"`
		Comment string    `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	task, err := fn(r.Context(), req.TaskID, actor, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *HTTPHandler) bulkDecide(w http.ResponseWriter, r *http.Request, fn bulkDecisionFunc) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, company, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		TaskIDs []uuid.UUID `json:"task_ids"`
		Comment string      `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := fn(r.Context(), req.TaskIDs, actor, company, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// identity extracts the gateway-forwarded caller identity.
func (h *HTTPHandler) identity(w http.ResponseWriter, r *http.Request) (actor, company uuid.UUID, ok bool) {
	actor, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	company, err = uuid.Parse(r.Header.Get("X-Company-ID"))
	if err != nil {
		http.Error(w, "X-Company-ID header is required", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	return actor, company, true
}

func (h *HTTPHandler) queryUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get(name))
	if err != nil {
		http.Error(w, name+" query parameter must be a UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": errorMessage(err),
		"code":  string(code),
	})
}

func errorMessage(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
