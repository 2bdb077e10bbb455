package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/screenloom/backend/internal/generator"
	"github.com/screenloom/backend/internal/ledger"
	"github.com/screenloom/backend/internal/models"
	"github.com/screenloom/backend/internal/planner"
)

const insufficientCreditsMessage = "Not enough credits to finish generating. Add credits and try again."

// PlanService decomposes a prompt into an ordered screen plan.
type PlanService interface {
	Plan(ctx context.Context, req planner.PlanRequest) (*planner.PlanResult, error)
}

// ScreenGenerator produces markup for exactly one screen.
type ScreenGenerator interface {
	GenerateScreen(ctx context.Context, req generator.ScreenRequest) (*generator.ScreenResult, error)
}

// CreditLedger is the charging contract. Insufficiency is ok=false, never an
// error.
type CreditLedger interface {
	EnsureAccount(ctx context.Context, accountID uuid.UUID, privileged bool) (int, error)
	ReserveMinimum(ctx context.Context, accountID uuid.UUID, privileged bool, reason string) (bool, error)
	Settle(ctx context.Context, accountID uuid.UUID, tokens models.TokenCounts, reserved int, privileged bool, reason string) (bool, error)
	RecordSummary(ctx context.Context, accountID uuid.UUID, totalAmount int, reason, jobKey string, detail []models.TransactionDetail) (*models.CreditTransaction, error)
}

// FrameStore persists frames.
type FrameStore interface {
	Upsert(ctx context.Context, f *models.Frame) error
	GetByID(ctx context.Context, projectID uuid.UUID, frameID string) (*models.Frame, error)
	ListByProjectID(ctx context.Context, projectID uuid.UUID) ([]*models.Frame, error)
}

// ProjectStore persists the theme chosen at planning time.
type ProjectStore interface {
	SetTheme(ctx context.Context, id uuid.UUID, themeID string) error
}

// Notifier publishes job progress to realtime subscribers.
type Notifier interface {
	JobStatus(ev models.JobStatusEvent)
	FrameUpdate(ev models.FrameEvent)
	SummaryDelta(ev models.CreditEvent)
}

// Orchestrator drives a generation job through
// queued -> analyzing -> generating -> completed, with failed reachable from
// analyzing or generating. Screens generate strictly in order: screen i's
// input is the finished HTML of screens 0..i-1. Steps are re-runnable; the
// workflow runner may retry a job after a transient fault.
type Orchestrator struct {
	Planner   PlanService
	Generator ScreenGenerator
	Ledger    CreditLedger
	Frames    FrameStore
	Projects  ProjectStore
	Notifier  Notifier
	Logger    *slog.Logger
}

func New(planSvc PlanService, gen ScreenGenerator, creditLedger CreditLedger, frames FrameStore, projects ProjectStore, notifier Notifier, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Planner:   planSvc,
		Generator: gen,
		Ledger:    creditLedger,
		Frames:    frames,
		Projects:  projects,
		Notifier:  notifier,
		Logger:    logger,
	}
}

// Run executes one job to a terminal state. A nil return means the job
// reached completed or failed; a non-nil error is a transient fault the
// workflow runner may retry. If any charge was applied, one consolidated
// summary transaction is recorded regardless of the outcome.
func (o *Orchestrator) Run(ctx context.Context, job *Job) error {
	st := &run{job: job, ords: make(map[string]int)}
	o.publishStatus(job, StatusRunning, "")
	o.publishStatus(job, StatusAnalyzing, "")

	if !job.Privileged {
		if _, err := o.Ledger.EnsureAccount(ctx, job.UserID, false); err != nil {
			return err
		}
	}

	defer func() {
		if st.charged == 0 {
			return
		}
		cleanupCtx := context.WithoutCancel(ctx)
		if _, err := o.Ledger.RecordSummary(cleanupCtx, job.UserID, st.charged, job.summaryReason(), job.Key(), st.detail); err != nil {
			o.Logger.Error("record summary failed", "job_key", job.Key(), "error", err)
		}
	}()

	if err := o.analyze(ctx, st); err != nil {
		return err
	}
	if err := o.openGenerating(ctx, st); err != nil {
		return err
	}

	for i, screen := range st.plan {
		done, err := o.generateScreen(ctx, st, i, screen)
		if err != nil {
			return err
		}
		if !done {
			// Insufficient credits: the job is failed, never retried.
			return nil
		}
	}

	ev := o.statusEvent(job, StatusCompleted, "")
	o.Notifier.JobStatus(ev)
	o.Logger.Info("job completed", "job_key", job.Key(), "screens", len(st.plan), "charged", st.charged)
	return nil
}

// analyze produces the plan. Projects call the planner; regenerations build a
// one-screen plan from the frame itself and skip theme selection.
func (o *Orchestrator) analyze(ctx context.Context, st *run) error {
	job := st.job
	if job.Kind == JobKindFrame {
		st.plan = []models.ScreenPlan{{ID: job.FrameID, Name: job.FrameTitle, Purpose: job.Prompt}}
		st.themeID = job.ThemeID
		prior, ord, err := o.regenContext(ctx, job)
		if err != nil {
			return err
		}
		st.prior = prior
		st.ords[job.FrameID] = ord
		return nil
	}

	existing, err := o.Frames.ListByProjectID(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("list existing frames: %w", err)
	}
	var existingHTML []string
	for _, f := range existing {
		if !f.IsLoading && f.HTMLContent != "" {
			existingHTML = append(existingHTML, f.HTMLContent)
		}
	}

	res, err := o.Planner.Plan(ctx, planner.PlanRequest{
		Prompt:              job.Prompt,
		ExistingScreensHTML: strings.Join(existingHTML, "\n\n"),
		ThemeID:             job.ThemeID,
	})
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	st.plan = res.Screens
	st.themeID = res.ThemeID
	for i, s := range st.plan {
		st.ords[s.ID] = i
	}

	// Theme is persisted for new projects only; edits keep theirs.
	if job.ThemeID == "" {
		if err := o.Projects.SetTheme(ctx, job.ProjectID, st.themeID); err != nil {
			return fmt.Errorf("persist theme: %w", err)
		}
	}
	return nil
}

// openGenerating publishes one loading placeholder per planned screen and the
// generating status with the total count. Project placeholders are persisted;
// a regeneration only announces the placeholder so a failure cannot clobber
// the frame's current content.
func (o *Orchestrator) openGenerating(ctx context.Context, st *run) error {
	job := st.job
	for i, s := range st.plan {
		ord := st.ords[s.ID]
		if job.Kind == JobKindProject {
			frame := &models.Frame{ID: s.ID, ProjectID: job.ProjectID, Title: s.Name, Ord: i, IsLoading: true}
			if err := o.Frames.Upsert(ctx, frame); err != nil {
				return fmt.Errorf("persist placeholder %q: %w", s.ID, err)
			}
		}
		o.Notifier.FrameUpdate(models.FrameEvent{
			ProjectID: job.ProjectID,
			UserID:    job.UserID,
			FrameID:   s.ID,
			Title:     s.Name,
			IsLoading: true,
			Ord:       &ord,
		})
	}

	ev := o.statusEvent(job, StatusGenerating, "")
	ev.ThemeID = st.themeID
	ev.TotalScreens = len(st.plan)
	o.Notifier.JobStatus(ev)
	return nil
}

// generateScreen runs one iteration of the per-screen loop:
// reserve -> generate -> settle -> persist -> publish -> running total.
// done=false means the job failed on credits and stopped.
func (o *Orchestrator) generateScreen(ctx context.Context, st *run, idx int, screen models.ScreenPlan) (done bool, err error) {
	job := st.job
	reason := job.chargeReason()

	reserved := 0
	if !job.Privileged {
		ok, err := o.Ledger.ReserveMinimum(ctx, job.UserID, false, reason)
		if err != nil {
			return false, err
		}
		if !ok {
			o.failInsufficient(ctx, st, idx)
			return false, nil
		}
		reserved = ledger.MinCharge
		st.charged += reserved
	}

	res, err := o.Generator.GenerateScreen(ctx, generator.ScreenRequest{
		Screen:           screen,
		PriorScreensHTML: strings.Join(st.prior, "\n\n"),
		ThemeID:          st.themeID,
		FallbackTitle:    screen.Name,
		FallbackSubtitle: fallbackSubtitle(job, screen),
	})
	if err != nil {
		if reserved > 0 {
			st.detail = append(st.detail, models.TransactionDetail{AmountDelta: -reserved, Reason: screen.ID})
		}
		return false, err
	}

	if !job.Privileged {
		ok, serr := o.Ledger.Settle(ctx, job.UserID, res.Tokens, reserved, false, reason)
		screenCharged := reserved
		if ok {
			if extra := ledger.CostForTokens(res.Tokens.Total) - reserved; extra > 0 {
				screenCharged += extra
				st.charged += extra
			}
		}
		st.detail = append(st.detail, models.TransactionDetail{
			AmountDelta: -screenCharged,
			Reason:      screen.ID,
			TokenCount:  res.Tokens.Total,
		})
		if serr != nil {
			return false, serr
		}
		if !ok {
			o.failInsufficient(ctx, st, idx)
			return false, nil
		}
	}

	frame := &models.Frame{
		ID:          screen.ID,
		ProjectID:   job.ProjectID,
		Title:       screen.Name,
		HTMLContent: res.HTML,
		Ord:         st.ords[screen.ID],
		IsLoading:   false,
	}
	if err := o.Frames.Upsert(ctx, frame); err != nil {
		return false, fmt.Errorf("persist frame %q: %w", screen.ID, err)
	}
	o.publishFrame(job, frame, screen.ID)
	st.prior = append(st.prior, res.HTML)

	if !job.Privileged && st.charged > 0 {
		o.Notifier.SummaryDelta(models.CreditEvent{
			AccountID:   job.UserID,
			AmountDelta: -st.charged,
			Reason:      job.summaryReason(),
			CreatedAt:   time.Now().UTC(),
		})
	}
	return true, nil
}

// failInsufficient publishes the terminal failure and resolves every
// placeholder from the failed screen on, so subscribers are not left waiting
// on loading frames that will never arrive.
func (o *Orchestrator) failInsufficient(ctx context.Context, st *run, from int) {
	job := st.job
	o.Logger.Info("job failed, insufficient credits", "job_key", job.Key(), "screen_index", from, "charged", st.charged)

	for i := from; i < len(st.plan); i++ {
		s := st.plan[i]
		ord := st.ords[s.ID]
		html := ""
		if job.Kind == JobKindFrame {
			html = job.FrameHTML
		} else {
			frame := &models.Frame{ID: s.ID, ProjectID: job.ProjectID, Title: s.Name, Ord: ord}
			if err := o.Frames.Upsert(ctx, frame); err != nil {
				o.Logger.Error("resolve placeholder failed", "frame_id", s.ID, "error", err)
			}
		}
		o.Notifier.FrameUpdate(models.FrameEvent{
			ProjectID:   job.ProjectID,
			UserID:      job.UserID,
			FrameID:     s.ID,
			Title:       s.Name,
			HTMLContent: html,
			IsLoading:   false,
			Ord:         &ord,
		})
	}

	o.publishStatus(job, StatusFailed, insufficientCreditsMessage)
}

// regenContext collects the rest of the project's current frames as prior
// context and the target frame's order.
func (o *Orchestrator) regenContext(ctx context.Context, job *Job) ([]string, int, error) {
	frames, err := o.Frames.ListByProjectID(ctx, job.ProjectID)
	if err != nil {
		return nil, 0, fmt.Errorf("list project frames: %w", err)
	}
	var prior []string
	ord := 0
	for _, f := range frames {
		if f.ID == job.FrameID {
			ord = f.Ord
			continue
		}
		if !f.IsLoading && f.HTMLContent != "" {
			prior = append(prior, f.HTMLContent)
		}
	}
	return prior, ord, nil
}

func (o *Orchestrator) publishFrame(job *Job, f *models.Frame, replaceID string) {
	ord := f.Ord
	o.Notifier.FrameUpdate(models.FrameEvent{
		ProjectID:      job.ProjectID,
		UserID:         job.UserID,
		FrameID:        f.ID,
		Title:          f.Title,
		HTMLContent:    f.HTMLContent,
		IsLoading:      false,
		Ord:            &ord,
		ReplaceFrameID: replaceID,
	})
}

func (o *Orchestrator) statusEvent(job *Job, status, message string) models.JobStatusEvent {
	return models.JobStatusEvent{
		ProjectID: job.ProjectID,
		UserID:    job.UserID,
		Status:    status,
		Message:   message,
	}
}

func (o *Orchestrator) publishStatus(job *Job, status, message string) {
	o.Notifier.JobStatus(o.statusEvent(job, status, message))
}

func fallbackSubtitle(job *Job, screen models.ScreenPlan) string {
	if job.Kind == JobKindFrame {
		return "Regenerated preview"
	}
	if screen.Purpose != "" {
		return screen.Purpose
	}
	return "Preview coming soon"
}
