package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"fablepress/internal/util"
	"fablepress/pkg/ai"
	"fablepress/pkg/domain"
	"fablepress/pkg/lock"
	"fablepress/pkg/storage"
	"fablepress/pkg/store"
)

// picturePageCount is the fixed interior length of a picture book. The story
// plan for a picture project must carry exactly this many units.
const picturePageCount = 20

// Enqueuer submits a job to one durable queue. Each job class runs on its own
// queue so their concurrency limits stay independent.
type Enqueuer interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

// Config carries the collaborators an App needs.
type Config struct {
	Store      store.Store
	Objects    storage.ObjectStore
	Locker     lock.Locker
	Text       ai.TextGenerator
	Image      ai.ImageGenerator
	Sequential Enqueuer
	FanOut     Enqueuer
	Regen      Enqueuer
	TypesetURL string
	WorkDir    string
	// MaxAttempts must match the queue's retry budget so the final attempt
	// of a unit can mark the project failed instead of leaving it stuck.
	MaxAttempts int
	Logger      *slog.Logger
}

// EnqueuerFunc adapts a function to the Enqueuer interface.
type EnqueuerFunc func(ctx context.Context, job domain.Job) error

func (f EnqueuerFunc) Enqueue(ctx context.Context, job domain.Job) error { return f(ctx, job) }

// App implements the project lifecycle and drives generation.
type App struct {
	store       store.Store
	objects     storage.ObjectStore
	locker      lock.Locker
	writer      *Writer
	image       ai.ImageGenerator
	renderers   map[domain.ProjectType]Renderer
	sequential  Enqueuer
	fanOut      Enqueuer
	regen       Enqueuer
	workDir     string
	maxAttempts int
	logger      *slog.Logger
}

func New(cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &App{
		store:   cfg.Store,
		objects: cfg.Objects,
		locker:  cfg.Locker,
		writer:  NewWriter(cfg.Text),
		image:   cfg.Image,
		renderers: map[domain.ProjectType]Renderer{
			domain.TypePicture: newPictureRenderer(cfg.WorkDir),
			domain.TypeText:    newTypesetClient(cfg.TypesetURL, cfg.WorkDir),
		},
		sequential:  cfg.Sequential,
		fanOut:      cfg.FanOut,
		regen:       cfg.Regen,
		workDir:     cfg.WorkDir,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// CreateProject registers a new draft project against a vendor SKU.
func (a *App) CreateProject(ctx context.Context, ownerID, title, sku string) (domain.Project, error) {
	if ownerID == "" {
		return domain.Project{}, domain.E(domain.KindValidation, "owner id is required")
	}
	if title == "" {
		return domain.Project{}, domain.E(domain.KindValidation, "title is required")
	}
	profile, ok := domain.ProfileForSKU(sku)
	if !ok {
		return domain.Project{}, domain.Ef(domain.KindValidation, "unknown vendor sku %q", sku)
	}
	p := domain.Project{
		ID:        util.NewID(),
		OwnerID:   ownerID,
		Type:      profile.Type,
		Title:     title,
		Status:    domain.ProjectDraft,
		VendorSKU: sku,
	}
	if err := a.store.SaveProject(p); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	return p, nil
}

// SaveCharacter stores the character reference image for a picture project
// and advances it to character_ready. Text projects skip the reference image
// but still pass through the same stage.
func (a *App) SaveCharacter(ctx context.Context, projectID, ownerID string, image []byte) (domain.Project, error) {
	p, err := a.ownedProject(ctx, projectID, ownerID)
	if err != nil {
		return domain.Project{}, err
	}
	if !domain.CanTransition(p.Status, domain.ProjectCharacterReady) {
		return domain.Project{}, domain.Ef(domain.KindConflict, "project is %s, cannot save character", p.Status)
	}
	if p.Type == domain.TypePicture {
		if len(image) == 0 {
			return domain.Project{}, domain.E(domain.KindValidation, "character reference image is required")
		}
		key := storage.CharacterRefKey(p.ID)
		if err := a.objects.Put(ctx, key, bytes.NewReader(image), int64(len(image)), "image/png"); err != nil {
			return domain.Project{}, fmt.Errorf("store character reference: %w", err)
		}
		p.CharacterRefKey = key
	}
	p.Status = domain.ProjectCharacterReady
	if err := a.store.SaveProject(p); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	return p, nil
}

// StoryPlan is the author-approved outline the generator works from.
type StoryPlan struct {
	Synopsis string          `json:"synopsis"`
	Units    []StoryPlanUnit `json:"units"`
}

type StoryPlanUnit struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// SaveStoryPlan records the outline and advances the project to story_ready.
// Picture projects must plan exactly the fixed page count; text projects may
// plan any non-empty chapter list.
func (a *App) SaveStoryPlan(ctx context.Context, projectID, ownerID string, plan StoryPlan) (domain.Project, error) {
	p, err := a.ownedProject(ctx, projectID, ownerID)
	if err != nil {
		return domain.Project{}, err
	}
	if !domain.CanTransition(p.Status, domain.ProjectStoryReady) {
		return domain.Project{}, domain.Ef(domain.KindConflict, "project is %s, cannot save story plan", p.Status)
	}
	if len(plan.Units) == 0 {
		return domain.Project{}, domain.E(domain.KindValidation, "story plan has no units")
	}
	if p.Type == domain.TypePicture && len(plan.Units) != picturePageCount {
		return domain.Project{}, domain.Ef(domain.KindValidation,
			"picture book plan must have exactly %d pages, got %d", picturePageCount, len(plan.Units))
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return domain.Project{}, fmt.Errorf("encode story plan: %w", err)
	}
	p.StoryPlan = raw
	p.TotalUnits = len(plan.Units)
	p.CompletedUnits = 0
	p.Status = domain.ProjectStoryReady
	if err := a.store.SaveProject(p); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	return p, nil
}

// StartGeneration takes the project lock and kicks off generation. A second
// start while generation is running reports a conflict.
func (a *App) StartGeneration(ctx context.Context, projectID, ownerID string) (domain.Project, error) {
	p, err := a.ownedProject(ctx, projectID, ownerID)
	if err != nil {
		return domain.Project{}, err
	}
	if !domain.CanTransition(p.Status, domain.ProjectGenerating) {
		return domain.Project{}, domain.Ef(domain.KindConflict, "project is %s, cannot start generation", p.Status)
	}

	acquired, err := a.locker.Acquire(ctx, lock.ProjectKey(p.ID))
	if err != nil {
		return domain.Project{}, fmt.Errorf("acquire project lock: %w", err)
	}
	if !acquired {
		return domain.Project{}, domain.E(domain.KindConflict, "generation already in progress")
	}

	if err := a.store.SetProjectStatus(p.ID, domain.ProjectGenerating, ""); err != nil {
		a.releaseLock(ctx, p.ID)
		return domain.Project{}, fmt.Errorf("mark generating: %w", err)
	}
	p.Status = domain.ProjectGenerating

	if err := a.enqueueInitial(ctx, p); err != nil {
		a.releaseLock(ctx, p.ID)
		_ = a.store.SetProjectStatus(p.ID, domain.ProjectError, "failed to enqueue generation")
		return domain.Project{}, fmt.Errorf("enqueue generation: %w", err)
	}
	return p, nil
}

func (a *App) enqueueInitial(ctx context.Context, p domain.Project) error {
	switch p.Type {
	case domain.TypeText:
		return a.sequential.Enqueue(ctx, domain.Job{
			Type:      domain.JobSequentialUnit,
			ProjectID: p.ID,
			OwnerID:   p.OwnerID,
			UnitIndex: 1,
		})
	case domain.TypePicture:
		for i := 1; i <= p.TotalUnits; i++ {
			if err := a.fanOut.Enqueue(ctx, domain.Job{
				Type:      domain.JobFanOutUnit,
				ProjectID: p.ID,
				OwnerID:   p.OwnerID,
				UnitIndex: i,
			}); err != nil {
				return fmt.Errorf("enqueue page %d: %w", i, err)
			}
		}
		return nil
	default:
		return domain.Ef(domain.KindValidation, "unknown project type %q", p.Type)
	}
}

// RetryGeneration moves a failed project back to story_ready and starts a
// fresh run. Units already written are kept and overwritten in sequence.
func (a *App) RetryGeneration(ctx context.Context, projectID, ownerID string) (domain.Project, error) {
	p, err := a.ownedProject(ctx, projectID, ownerID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status != domain.ProjectError && p.Status != domain.ProjectFailed {
		return domain.Project{}, domain.Ef(domain.KindConflict, "project is %s, only error or failed projects can be retried", p.Status)
	}
	if err := a.store.SetProjectStatus(p.ID, domain.ProjectStoryReady, ""); err != nil {
		return domain.Project{}, fmt.Errorf("reset project: %w", err)
	}
	if err := a.store.SetProjectProgress(p.ID, 0, p.TotalUnits); err != nil {
		return domain.Project{}, fmt.Errorf("reset progress: %w", err)
	}
	return a.StartGeneration(ctx, projectID, ownerID)
}

// RegenerateUnit redoes a single unit of a completed project with optional
// author guidance, then re-renders the artifacts.
func (a *App) RegenerateUnit(ctx context.Context, projectID, ownerID string, unitIndex int, guidance string) error {
	p, err := a.ownedProject(ctx, projectID, ownerID)
	if err != nil {
		return err
	}
	if p.Status != domain.ProjectComplete {
		return domain.Ef(domain.KindConflict, "project is %s, only complete projects can be revised", p.Status)
	}
	if unitIndex < 1 || unitIndex > p.TotalUnits {
		return domain.Ef(domain.KindValidation, "unit index %d out of range 1..%d", unitIndex, p.TotalUnits)
	}

	acquired, err := a.locker.Acquire(ctx, lock.ProjectKey(p.ID))
	if err != nil {
		return fmt.Errorf("acquire project lock: %w", err)
	}
	if !acquired {
		return domain.E(domain.KindConflict, "project is busy")
	}

	if err := a.store.SetProjectStatus(p.ID, domain.ProjectGenerating, ""); err != nil {
		a.releaseLock(ctx, p.ID)
		return fmt.Errorf("mark generating: %w", err)
	}
	if err := a.regen.Enqueue(ctx, domain.Job{
		Type:      domain.JobRegeneration,
		ProjectID: p.ID,
		OwnerID:   p.OwnerID,
		UnitIndex: unitIndex,
		Guidance:  guidance,
	}); err != nil {
		a.releaseLock(ctx, p.ID)
		_ = a.store.SetProjectStatus(p.ID, domain.ProjectComplete, "")
		return fmt.Errorf("enqueue regeneration: %w", err)
	}
	return nil
}

// GetProject returns a project the owner can see.
func (a *App) GetProject(ctx context.Context, projectID, ownerID string) (domain.Project, error) {
	return a.ownedProject(ctx, projectID, ownerID)
}

// ListProjects returns the owner's projects, newest first.
func (a *App) ListProjects(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return a.store.ListProjectsByOwner(ownerID)
}

// Progress reports generation progress for polling clients.
type Progress struct {
	Status         domain.ProjectStatus `json:"status"`
	CompletedUnits int                  `json:"completedUnits"`
	TotalUnits     int                  `json:"totalUnits"`
	ErrorMessage   string               `json:"errorMessage,omitempty"`
}

func (a *App) GetProgress(ctx context.Context, projectID, ownerID string) (Progress, error) {
	p, err := a.ownedProject(ctx, projectID, ownerID)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		Status:         p.Status,
		CompletedUnits: p.CompletedUnits,
		TotalUnits:     p.TotalUnits,
		ErrorMessage:   p.ErrorMessage,
	}, nil
}

// DeleteProject removes a draft or failed project and its units.
func (a *App) DeleteProject(ctx context.Context, projectID, ownerID string) error {
	p, err := a.ownedProject(ctx, projectID, ownerID)
	if err != nil {
		return err
	}
	if p.Status == domain.ProjectGenerating {
		return domain.E(domain.KindConflict, "cannot delete a project while generation is running")
	}
	return a.store.DeleteProject(p.ID)
}

func (a *App) ownedProject(ctx context.Context, projectID, ownerID string) (domain.Project, error) {
	if projectID == "" {
		return domain.Project{}, domain.E(domain.KindValidation, "project id is required")
	}
	p, found, err := a.store.GetProject(projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("load project: %w", err)
	}
	if !found || (ownerID != "" && p.OwnerID != ownerID) {
		return domain.Project{}, ErrProjectNotFound
	}
	return p, nil
}

func (a *App) releaseLock(ctx context.Context, projectID string) {
	if err := a.locker.Release(ctx, lock.ProjectKey(projectID)); err != nil {
		a.logger.Warn("failed to release project lock", "project_id", projectID, "error", err)
	}
}
