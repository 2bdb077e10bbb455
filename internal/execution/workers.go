package execution

import (
	"context"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/screenloom/backend/internal/orchestrator"
)

// GenerateProjectArgs is the queue payload for a new-project (or project
// edit) generation job.
type GenerateProjectArgs struct {
	UserID      uuid.UUID `json:"user_id"`
	ProjectID   uuid.UUID `json:"project_id"`
	ProjectName string    `json:"project_name"`
	Prompt      string    `json:"prompt"`
	ThemeID     string    `json:"theme_id"` // empty for new projects
	Privileged  bool      `json:"privileged"`
}

func (GenerateProjectArgs) Kind() string { return "generate_project" }

// RegenerateFrameArgs is the queue payload for a single-frame regeneration.
type RegenerateFrameArgs struct {
	UserID      uuid.UUID `json:"user_id"`
	ProjectID   uuid.UUID `json:"project_id"`
	ProjectName string    `json:"project_name"`
	FrameID     string    `json:"frame_id"`
	FrameTitle  string    `json:"frame_title"`
	FrameHTML   string    `json:"frame_html"`
	Prompt      string    `json:"prompt"`
	ThemeID     string    `json:"theme_id"`
	Privileged  bool      `json:"privileged"`
}

func (RegenerateFrameArgs) Kind() string { return "regenerate_frame" }

// Runner is the contract the workers need to drive a job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job *orchestrator.Job) error
}

type GenerateProjectWorker struct {
	river.WorkerDefaults[GenerateProjectArgs]
	runner Runner
}

func NewGenerateProjectWorker(runner Runner) *GenerateProjectWorker {
	return &GenerateProjectWorker{runner: runner}
}

func (w *GenerateProjectWorker) Work(ctx context.Context, job *river.Job[GenerateProjectArgs]) error {
	args := job.Args
	// The queue row's creation time keys the job, so a retried attempt
	// resolves to the same summary.
	return w.runner.Run(ctx, &orchestrator.Job{
		Kind:        orchestrator.JobKindProject,
		UserID:      args.UserID,
		ProjectID:   args.ProjectID,
		ProjectName: args.ProjectName,
		Prompt:      args.Prompt,
		ThemeID:     args.ThemeID,
		Privileged:  args.Privileged,
		StartedAt:   job.CreatedAt,
	})
}

type RegenerateFrameWorker struct {
	river.WorkerDefaults[RegenerateFrameArgs]
	runner Runner
}

func NewRegenerateFrameWorker(runner Runner) *RegenerateFrameWorker {
	return &RegenerateFrameWorker{runner: runner}
}

func (w *RegenerateFrameWorker) Work(ctx context.Context, job *river.Job[RegenerateFrameArgs]) error {
	args := job.Args
	return w.runner.Run(ctx, &orchestrator.Job{
		Kind:        orchestrator.JobKindFrame,
		UserID:      args.UserID,
		ProjectID:   args.ProjectID,
		ProjectName: args.ProjectName,
		Prompt:      args.Prompt,
		ThemeID:     args.ThemeID,
		FrameID:     args.FrameID,
		FrameTitle:  args.FrameTitle,
		FrameHTML:   args.FrameHTML,
		Privileged:  args.Privileged,
		StartedAt:   job.CreatedAt,
	})
}
