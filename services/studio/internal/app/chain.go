package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"fablepress/pkg/domain"
	"fablepress/pkg/pagefit"
	"fablepress/pkg/queue"
	"fablepress/pkg/storage"
	"fablepress/pkg/store"
)

// HandleSequentialUnit generates one chapter of a text book. Chapters run as
// a chain: each completed chapter enqueues the next, and the last one
// finalizes the project. The chain stays gapless because unit k+1 is only
// ever enqueued after unit k is persisted.
func (a *App) HandleSequentialUnit(ctx context.Context, js queue.JobStatus) error {
	job := js.Job
	p, live, err := a.liveProject(ctx, job)
	if err != nil || !live {
		return err
	}
	profile, ok := domain.ProfileForSKU(p.VendorSKU)
	if !ok {
		return a.failChain(ctx, p, domain.ProjectFailed, fmt.Sprintf("unknown vendor sku %q", p.VendorSKU))
	}

	seq := job.UnitIndex
	prior, err := a.priorUnits(p.ID, seq)
	if err != nil {
		return a.chainError(ctx, p, js, fmt.Errorf("load prior units: %w", err))
	}

	plan, err := a.writer.PlanUnit(ctx, p, seq, p.TotalUnits, prior, job.Guidance)
	if err != nil {
		return a.chainError(ctx, p, js, err)
	}
	targetWords := TargetWords(profile, p.TotalUnits)
	content, err := a.writer.WriteUnit(ctx, p, plan, seq, p.TotalUnits, targetWords, prior)
	if err != nil {
		return a.chainError(ctx, p, js, err)
	}

	if err := a.store.UpsertUnit(domain.Unit{
		ProjectID: p.ID,
		Seq:       seq,
		Content:   content,
		PlanJSON:  encodePlan(plan),
	}); err != nil {
		return a.chainError(ctx, p, js, fmt.Errorf("save unit %d: %w", seq, err))
	}
	if err := a.store.SetProjectProgress(p.ID, seq, p.TotalUnits); err != nil {
		a.logger.Warn("failed to record progress", "project_id", p.ID, "unit", seq, "error", err)
	}

	if seq < p.TotalUnits {
		if err := a.sequential.Enqueue(ctx, domain.Job{
			Type:      domain.JobSequentialUnit,
			ProjectID: p.ID,
			OwnerID:   p.OwnerID,
			UnitIndex: seq + 1,
		}); err != nil {
			return a.chainError(ctx, p, js, fmt.Errorf("enqueue unit %d: %w", seq+1, err))
		}
		return nil
	}
	return a.finalize(ctx, p, js)
}

// HandleFanOutUnit generates one page of a picture book. Pages are
// independent, so they run concurrently; the child that completes the
// counter last finalizes the project.
func (a *App) HandleFanOutUnit(ctx context.Context, js queue.JobStatus) error {
	job := js.Job
	p, live, err := a.liveProject(ctx, job)
	if err != nil || !live {
		return err
	}

	seq := job.UnitIndex
	plan, err := a.writer.PlanUnit(ctx, p, seq, p.TotalUnits, nil, job.Guidance)
	if err != nil {
		return a.chainError(ctx, p, js, err)
	}
	if err := a.generatePageImage(ctx, p, seq, plan.IllustrationPrompt); err != nil {
		return a.chainError(ctx, p, js, err)
	}

	if err := a.store.UpsertUnit(domain.Unit{
		ProjectID: p.ID,
		Seq:       seq,
		ImageKey:  storage.PageImageKey(p.ID, seq),
		PlanJSON:  encodePlan(plan),
	}); err != nil {
		return a.chainError(ctx, p, js, fmt.Errorf("save unit %d: %w", seq, err))
	}

	completed, total, err := a.store.CompleteFanOutUnit(p.ID)
	if err != nil {
		return a.chainError(ctx, p, js, fmt.Errorf("record completed page: %w", err))
	}
	if completed < total {
		return nil
	}
	return a.finalize(ctx, p, js)
}

// HandleRegeneration rewrites a single unit of a finished book and rebuilds
// the artifacts around it.
func (a *App) HandleRegeneration(ctx context.Context, js queue.JobStatus) error {
	job := js.Job
	p, live, err := a.liveProject(ctx, job)
	if err != nil || !live {
		return err
	}
	profile, ok := domain.ProfileForSKU(p.VendorSKU)
	if !ok {
		return a.failChain(ctx, p, domain.ProjectFailed, fmt.Sprintf("unknown vendor sku %q", p.VendorSKU))
	}

	seq := job.UnitIndex
	prior, err := a.priorUnits(p.ID, seq)
	if err != nil {
		return a.chainError(ctx, p, js, fmt.Errorf("load prior units: %w", err))
	}

	plan, err := a.writer.PlanUnit(ctx, p, seq, p.TotalUnits, prior, job.Guidance)
	if err != nil {
		return a.chainError(ctx, p, js, err)
	}

	unit := domain.Unit{ProjectID: p.ID, Seq: seq, PlanJSON: encodePlan(plan)}
	switch p.Type {
	case domain.TypePicture:
		if err := a.generatePageImage(ctx, p, seq, plan.IllustrationPrompt); err != nil {
			return a.chainError(ctx, p, js, err)
		}
		unit.ImageKey = storage.PageImageKey(p.ID, seq)
	default:
		targetWords := TargetWords(profile, p.TotalUnits)
		content, err := a.writer.WriteUnit(ctx, p, plan, seq, p.TotalUnits, targetWords, prior)
		if err != nil {
			return a.chainError(ctx, p, js, err)
		}
		unit.Content = content
	}

	if err := a.store.UpsertUnit(unit); err != nil {
		return a.chainError(ctx, p, js, fmt.Errorf("save unit %d: %w", seq, err))
	}
	return a.finalize(ctx, p, js)
}

func encodePlan(plan UnitPlan) []byte {
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil
	}
	return raw
}

func (a *App) generatePageImage(ctx context.Context, p domain.Project, seq int, prompt string) error {
	img, err := a.image.GenerateImage(ctx, prompt)
	if err != nil {
		return generationFailed(fmt.Sprintf("generate page %d image", seq), err)
	}
	local := pageImagePath(a.workDir, p.ID, seq)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create page dir: %w", err)
	}
	if err := os.WriteFile(local, img, 0o644); err != nil {
		return fmt.Errorf("write page image: %w", err)
	}
	key := storage.PageImageKey(p.ID, seq)
	if err := a.objects.Put(ctx, key, bytes.NewReader(img), int64(len(img)), "image/png"); err != nil {
		return fmt.Errorf("store page image: %w", err)
	}
	return nil
}

// finalize renders the interior, reconciles its page count against the
// vendor profile, pads if needed, sizes and renders the cover, uploads both
// artifacts, and completes the project.
func (a *App) finalize(ctx context.Context, p domain.Project, js queue.JobStatus) error {
	profile, ok := domain.ProfileForSKU(p.VendorSKU)
	if !ok {
		return a.failChain(ctx, p, domain.ProjectFailed, fmt.Sprintf("unknown vendor sku %q", p.VendorSKU))
	}
	renderer, ok := a.renderers[p.Type]
	if !ok {
		return a.failChain(ctx, p, domain.ProjectFailed, fmt.Sprintf("no renderer for project type %q", p.Type))
	}

	units, err := a.store.ListUnits(p.ID)
	if err != nil {
		return a.chainError(ctx, p, js, fmt.Errorf("load units: %w", err))
	}
	if len(units) != p.TotalUnits {
		return a.failChain(ctx, p, domain.ProjectFailed, fmt.Sprintf("expected %d units, found %d", p.TotalUnits, len(units)))
	}

	rawPath, err := renderer.RenderInterior(ctx, p, units)
	if err != nil {
		return a.chainError(ctx, p, js, domain.Wrap(domain.KindTransient, "render interior", err))
	}

	count, known := pagefit.CountPages(rawPath)
	result, err := pagefit.Reconcile(count, known, profile)
	if err != nil {
		if domain.IsKind(err, domain.KindPageBudget) {
			return a.failChain(ctx, p, domain.ProjectFailed, err.Error())
		}
		return a.chainError(ctx, p, js, err)
	}

	projectDir := projectWorkDir(a.workDir, p.ID)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return a.chainError(ctx, p, js, domain.Wrap(domain.KindTransient, "create work dir", err))
	}
	finalPath := filepath.Join(projectDir, "interior.pdf")
	if err := pagefit.PadPDF(rawPath, finalPath, result.PaddedPages); err != nil {
		return a.chainError(ctx, p, js, domain.Wrap(domain.KindTransient, "pad interior", err))
	}

	spread := pagefit.SizeCover(result, profile)
	coverPath, err := renderer.RenderCover(ctx, p, spread)
	if err != nil {
		return a.chainError(ctx, p, js, domain.Wrap(domain.KindTransient, "render cover", err))
	}

	interiorKey := storage.InteriorKey(p.ID)
	coverKey := storage.CoverKey(p.ID)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.objects.PutFile(gctx, interiorKey, finalPath, "application/pdf")
	})
	g.Go(func() error {
		return a.objects.PutFile(gctx, coverKey, coverPath, "application/pdf")
	})
	if err := g.Wait(); err != nil {
		return a.chainError(ctx, p, js, domain.Wrap(domain.KindTransient, "upload artifacts", err))
	}

	if err := a.store.SetProjectArtifacts(p.ID, store.ProjectArtifacts{
		InteriorKey:         interiorKey,
		CoverKey:            coverKey,
		ReconciledPageCount: result.FinalPageCount,
		PagePadded:          result.Padded,
		PageFallback:        result.Fallback,
	}); err != nil {
		return a.chainError(ctx, p, js, fmt.Errorf("record artifacts: %w", err))
	}
	if err := a.store.SetProjectStatus(p.ID, domain.ProjectComplete, ""); err != nil {
		return a.chainError(ctx, p, js, fmt.Errorf("mark complete: %w", err))
	}
	a.releaseLock(ctx, p.ID)
	a.logger.Info("project complete",
		"project_id", p.ID,
		"pages", result.FinalPageCount,
		"padded", result.Padded,
		"fallback", result.Fallback)
	return nil
}

// liveProject loads the job's project and reports whether the job should
// still run. Jobs for deleted projects or projects no longer generating are
// stale and get acked without work.
func (a *App) liveProject(_ context.Context, job domain.Job) (domain.Project, bool, error) {
	p, found, err := a.store.GetProject(job.ProjectID)
	if err != nil {
		return domain.Project{}, false, domain.Wrap(domain.KindTransient, "load project", err)
	}
	if !found {
		a.logger.Warn("dropping job for missing project", "project_id", job.ProjectID)
		return domain.Project{}, false, nil
	}
	if p.Status != domain.ProjectGenerating {
		a.logger.Info("dropping stale job", "project_id", p.ID, "status", p.Status)
		return domain.Project{}, false, nil
	}
	return p, true, nil
}

func (a *App) priorUnits(projectID string, before int) ([]domain.Unit, error) {
	units, err := a.store.ListUnits(projectID)
	if err != nil {
		return nil, err
	}
	prior := make([]domain.Unit, 0, len(units))
	for _, u := range units {
		if u.Seq < before {
			prior = append(prior, u)
		}
	}
	return prior, nil
}

// chainError decides between letting the queue retry and giving up.
// Transient errors are retried until the attempt budget runs out and then
// land the project in error; anything not worth retrying lands it in failed
// immediately. Either way the chain stops and the lock is released, so the
// project never sits in generating forever.
func (a *App) chainError(ctx context.Context, p domain.Project, js queue.JobStatus, err error) error {
	if domain.Retryable(err) {
		if js.Attempts < a.maxAttempts {
			a.logger.Warn("unit attempt failed, retrying",
				"project_id", p.ID, "unit", js.Job.UnitIndex, "attempt", js.Attempts, "error", err)
			return err
		}
		if failErr := a.failChain(ctx, p, domain.ProjectError, err.Error()); failErr != nil {
			return failErr
		}
		return err
	}
	if failErr := a.failChain(ctx, p, domain.ProjectFailed, err.Error()); failErr != nil {
		return failErr
	}
	return err
}

// failChain parks the project in a terminal status and releases its lock.
// Returning nil lets the queue ack the message; the failure lives on the
// project row.
func (a *App) failChain(ctx context.Context, p domain.Project, status domain.ProjectStatus, msg string) error {
	if err := a.store.SetProjectStatus(p.ID, status, msg); err != nil {
		return domain.Wrap(domain.KindTransient, "mark project "+string(status), err)
	}
	a.releaseLock(ctx, p.ID)
	a.logger.Error("generation failed", "project_id", p.ID, "status", status, "error", msg)
	return nil
}
