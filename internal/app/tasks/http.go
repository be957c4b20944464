package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/staffhub/taskcore/internal/app/directory"
	"github.com/staffhub/taskcore/internal/contracts"
	platformauth "github.com/staffhub/taskcore/internal/platform/auth"
)

type ActivityReader interface {
	ListByTask(ctx context.Context, taskID string, limit int) ([]contracts.ActivityMessage, error)
}

type Handler struct {
	Service   *Service
	Directory *directory.Service
	Activity  ActivityReader
}

func NewHandler(service *Service, directorySvc *directory.Service, activityReader ActivityReader) *Handler {
	return &Handler{
		Service:   service,
		Directory: directorySvc,
		Activity:  activityReader,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/v1/auth/register", h.handleRegister)
	r.Post("/api/v1/auth/login", h.handleLogin)
	// Listing departments stays public: registration needs it before any
	// token exists.
	r.Get("/api/v1/departments", h.handleListDepartments)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Post("/api/v1/departments", h.handleCreateDepartment)
		authR.Post("/api/v1/tasks", h.handleCreateTask)
		authR.Get("/api/v1/tasks", h.handleListTasks)
		authR.Get("/api/v1/tasks/stats", h.handleStats)
		authR.Get("/api/v1/dashboard", h.handleDashboard)
		authR.Get("/api/v1/tasks/{taskID}", h.handleGetTask)
		authR.Patch("/api/v1/tasks/{taskID}", h.handleUpdateTask)
		authR.Delete("/api/v1/tasks/{taskID}", h.handleDeleteTask)
		authR.Post("/api/v1/tasks/{taskID}/comments", h.handleAddComment)
		authR.Post("/api/v1/tasks/{taskID}/time", h.handleAddTimeEntry)
		authR.Post("/api/v1/tasks/{taskID}/assign", h.handleAssign)
		authR.Get("/api/v1/tasks/{taskID}/capabilities", h.handleCapabilities)
		authR.Get("/api/v1/tasks/{taskID}/activity", h.handleTaskActivity)
	})

	return r
}

type registerRequest struct {
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type departmentRequest struct {
	Name string `json:"name"`
}

type commentRequest struct {
	Message         string   `json:"message"`
	Mentions        []string `json:"mentions,omitempty"`
	ParentCommentID string   `json:"parent_comment_id,omitempty"`
}

type timeEntryRequest struct {
	Hours       float64    `json:"hours"`
	Description string     `json:"description,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

type assignRequest struct {
	AssigneeID   string `json:"assignee_id"`
	Instructions string `json:"instructions,omitempty"`
}

// mutationResponse is the envelope every mutating endpoint returns.
type mutationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Task    *Task  `json:"task,omitempty"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Directory.Register(r.Context(), req.Email, req.FullName, req.Password, req.Role, req.DepartmentID)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrInvalidEmail),
			errors.Is(err, directory.ErrInvalidPassword),
			errors.Is(err, directory.ErrInvalidRole),
			errors.Is(err, directory.ErrInvalidDepartment):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, directory.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "department not found")
		default:
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
				h.writeError(w, http.StatusConflict, "email already registered")
				return
			}
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Directory.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := h.Directory.Departments(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, depts)
}

func (h *Handler) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if directory.Role(claims.Role) != directory.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "insufficient permissions for this action")
		return
	}

	var req departmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	dept, err := h.Directory.CreateDepartment(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, directory.ErrDepartmentNameRequired) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, dept)
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	// Creation is gated at the route: staff never create tasks.
	switch directory.Role(claims.Role) {
	case directory.RoleAdmin, directory.RoleManager, directory.RoleDepartmentHead:
	default:
		h.writeError(w, http.StatusForbidden, "insufficient permissions for this action")
		return
	}

	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	t, err := h.Service.Create(r.Context(), in, claims.Email)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, mutationResponse{Success: true, Message: "task created", Task: &t})
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	page, err := h.Service.List(r.Context(), claims.Email, filterFromQuery(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	stats, err := h.Service.StatsFor(r.Context(), claims.Email)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	dashboard, err := h.Service.DashboardFor(r.Context(), claims.Email)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dashboard)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	t, err := h.Service.GetByID(r.Context(), chi.URLParam(r, "taskID"), claims.Email)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if t == nil {
		h.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	t, err := h.Service.Update(r.Context(), chi.URLParam(r, "taskID"), patch, claims.Email)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, mutationResponse{Success: true, Message: "task updated", Task: &t})
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "taskID"), claims.Email); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, mutationResponse{Success: true, Message: "task archived"})
}

func (h *Handler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	comment, err := h.Service.AddComment(r.Context(), chi.URLParam(r, "taskID"), req.Message, claims.Email, req.Mentions, req.ParentCommentID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, struct {
		Success bool    `json:"success"`
		Message string  `json:"message"`
		Comment Comment `json:"comment"`
	}{true, "comment added", comment})
}

func (h *Handler) handleAddTimeEntry(w http.ResponseWriter, r *http.Request) {
	var req timeEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	t, err := h.Service.AddTimeEntry(r.Context(), chi.URLParam(r, "taskID"), req.Hours, req.Description, claims.Email, req.Date)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, mutationResponse{Success: true, Message: "time logged", Task: &t})
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	t, err := h.Service.Assign(r.Context(), chi.URLParam(r, "taskID"), req.AssigneeID, claims.Email, req.Instructions)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, mutationResponse{Success: true, Message: "task assigned", Task: &t})
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	caps, err := h.Service.CapabilitiesFor(r.Context(), chi.URLParam(r, "taskID"), claims.Email)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !caps.View {
		// Same information hiding as GetByID: no visibility, no existence.
		h.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	h.writeJSON(w, http.StatusOK, caps)
}

func (h *Handler) handleTaskActivity(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	taskID := chi.URLParam(r, "taskID")

	t, err := h.Service.GetByID(r.Context(), taskID, claims.Email)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if t == nil {
		h.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.Activity.ListByTask(r.Context(), taskID, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func filterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	f := Filter{
		Status:       q.Get("status"),
		Priority:     q.Get("priority"),
		Category:     q.Get("category"),
		DepartmentID: q.Get("department_id"),
		AssignedTo:   q.Get("assigned_to"),
		CreatedBy:    q.Get("created_by"),
		Search:       q.Get("q"),
		SortBy:       q.Get("sort"),
		SortDesc:     strings.EqualFold(q.Get("order"), "desc"),
	}
	if raw := q.Get("due_after"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			f.DueAfter = &parsed
		}
	}
	if raw := q.Get("due_before"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			f.DueBefore = &parsed
		}
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f
}

// writeServiceError maps service sentinels onto status codes. Store-level
// failures stay 500s; the caller translates those into a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTitleRequired),
		errors.Is(err, ErrDescriptionRequired),
		errors.Is(err, ErrDueDateRequired),
		errors.Is(err, ErrInvalidPriority),
		errors.Is(err, ErrInvalidHours),
		errors.Is(err, ErrMessageRequired),
		errors.Is(err, ErrAssigneeRequired):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrTaskNotFound):
		h.writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, ErrCommentNotFound):
		h.writeError(w, http.StatusNotFound, "comment not found")
	case errors.Is(err, directory.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "user not found")
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Directory.AuthToken.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := contextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
