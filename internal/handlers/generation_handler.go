package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/screenloom/backend/internal/execution"
	"github.com/screenloom/backend/internal/middleware"
	"github.com/screenloom/backend/internal/models"
)

// ProjectRepoForHandler is the subset of project repository the handler needs.
type ProjectRepoForHandler interface {
	Create(ctx context.Context, p *models.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

// FrameRepoForHandler resolves frames for regeneration and listing.
type FrameRepoForHandler interface {
	GetByID(ctx context.Context, projectID uuid.UUID, frameID string) (*models.Frame, error)
	ListByProjectID(ctx context.Context, projectID uuid.UUID) ([]*models.Frame, error)
}

// Enqueue functions are closures over the queue client, provided by main.
type (
	InsertGenerateProjectFunc func(ctx context.Context, args execution.GenerateProjectArgs) error
	InsertRegenerateFrameFunc func(ctx context.Context, args execution.RegenerateFrameArgs) error
)

// GenerationHandler serves the generation and frame endpoints.
type GenerationHandler struct {
	Projects              ProjectRepoForHandler
	Frames                FrameRepoForHandler
	InsertGenerateProject InsertGenerateProjectFunc
	InsertRegenerateFrame InsertRegenerateFrameFunc
	Logger                *slog.Logger
}

type generateRequest struct {
	ProjectID   string `json:"project_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
	Prompt      string `json:"prompt"`
}

type enqueuedResponse struct {
	ProjectID uuid.UUID `json:"project_id"`
	Status    string    `json:"status"`
}

// Generate handles POST /v1/generations. Without a project_id it creates the
// project first; with one it enqueues an edit of the existing project.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, `{"error":"prompt is required"}`, http.StatusBadRequest)
		return
	}

	var project *models.Project
	if req.ProjectID != "" {
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			http.Error(w, `{"error":"invalid project_id"}`, http.StatusBadRequest)
			return
		}
		project, err = h.Projects.GetByID(r.Context(), projectID)
		if err != nil {
			http.Error(w, `{"error":"project not found"}`, http.StatusNotFound)
			return
		}
		if project.OwnerID != acc.ID {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
	} else {
		name := req.ProjectName
		if name == "" {
			name = "Untitled"
		}
		project = &models.Project{ID: uuid.New(), OwnerID: acc.ID, Name: name}
		if err := h.Projects.Create(r.Context(), project); err != nil {
			h.Logger.Error("create project", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
	}

	themeID := ""
	if project.ThemeID != nil {
		themeID = *project.ThemeID
	}
	args := execution.GenerateProjectArgs{
		UserID:      acc.ID,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Prompt:      req.Prompt,
		ThemeID:     themeID,
		Privileged:  acc.Privileged,
	}
	if err := h.InsertGenerateProject(r.Context(), args); err != nil {
		h.Logger.Error("enqueue generation", "project_id", project.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueuedResponse{ProjectID: project.ID, Status: "queued"})
}

type regenerateRequest struct {
	ProjectID string `json:"project_id"`
	Prompt    string `json:"prompt"`
}

// Regenerate handles POST /v1/frames/{id}/regenerate.
func (h *GenerationHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	frameID := r.PathValue("id")
	if frameID == "" {
		http.Error(w, `{"error":"frame id is required"}`, http.StatusBadRequest)
		return
	}

	var req regenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		http.Error(w, `{"error":"invalid project_id"}`, http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, `{"error":"prompt is required"}`, http.StatusBadRequest)
		return
	}

	project, err := h.Projects.GetByID(r.Context(), projectID)
	if err != nil {
		http.Error(w, `{"error":"project not found"}`, http.StatusNotFound)
		return
	}
	if project.OwnerID != acc.ID {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	frame, err := h.Frames.GetByID(r.Context(), projectID, frameID)
	if err != nil {
		http.Error(w, `{"error":"frame not found"}`, http.StatusNotFound)
		return
	}

	themeID := ""
	if project.ThemeID != nil {
		themeID = *project.ThemeID
	}
	args := execution.RegenerateFrameArgs{
		UserID:      acc.ID,
		ProjectID:   projectID,
		ProjectName: project.Name,
		FrameID:     frame.ID,
		FrameTitle:  frame.Title,
		FrameHTML:   frame.HTMLContent,
		Prompt:      req.Prompt,
		ThemeID:     themeID,
		Privileged:  acc.Privileged,
	}
	if err := h.InsertRegenerateFrame(r.Context(), args); err != nil {
		h.Logger.Error("enqueue regeneration", "frame_id", frameID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueuedResponse{ProjectID: projectID, Status: "queued"})
}

// ListFrames handles GET /v1/projects/{id}/frames.
func (h *GenerationHandler) ListFrames(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid project id"}`, http.StatusBadRequest)
		return
	}
	project, err := h.Projects.GetByID(r.Context(), projectID)
	if err != nil {
		http.Error(w, `{"error":"project not found"}`, http.StatusNotFound)
		return
	}
	if project.OwnerID != acc.ID {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	frames, err := h.Frames.ListByProjectID(r.Context(), projectID)
	if err != nil {
		h.Logger.Error("list frames", "project_id", projectID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if frames == nil {
		frames = []*models.Frame{}
	}
	writeJSON(w, http.StatusOK, frames)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
