package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/screenloom/backend/internal/models"
)

// Job kinds. Frame regeneration is a degenerate one-screen instance of the
// same state machine.
const (
	JobKindProject = "generate_project"
	JobKindFrame   = "regenerate_frame"
)

// Job statuses published to subscribers.
const (
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusAnalyzing  = "analyzing"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job is one orchestrator run. StartedAt comes from the workflow runner's job
// row so the key stays stable across step retries.
type Job struct {
	Kind        string
	UserID      uuid.UUID
	ProjectID   uuid.UUID
	ProjectName string
	Prompt      string
	ThemeID     string // regeneration carries the project's current theme
	FrameID     string // regeneration only
	FrameTitle  string // regeneration only
	FrameHTML   string // regeneration only
	Privileged  bool
	StartedAt   time.Time
}

// Key identifies the job for summary idempotency across runner retries.
func (j *Job) Key() string {
	target := j.ProjectID.String()
	if j.Kind == JobKindFrame {
		target += "/" + j.FrameID
	}
	return fmt.Sprintf("%s:%s:%d", j.Kind, target, j.StartedAt.Unix())
}

func (j *Job) chargeReason() string {
	base := models.ReasonScreenGeneration
	if j.Kind == JobKindFrame {
		base = models.ReasonFrameRegeneration
	}
	if j.ProjectName != "" {
		return base + ":" + j.ProjectName
	}
	return base
}

func (j *Job) summaryReason() string {
	if j.ProjectName != "" {
		return models.ReasonGenerationSummary + ":" + j.ProjectName
	}
	return models.ReasonGenerationSummary
}

// run is the job-scoped state threaded through every step. Each job instance
// owns its running totals; nothing here is shared across jobs.
type run struct {
	job     *Job
	plan    []models.ScreenPlan
	themeID string
	prior   []string
	ords    map[string]int
	charged int
	detail  []models.TransactionDetail
}
