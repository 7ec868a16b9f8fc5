package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fablepress/pkg/domain"
	"fablepress/pkg/pagefit"
	"fablepress/pkg/queue"
	"fablepress/pkg/store"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, job domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeEnqueuer) pop() (domain.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return domain.Job{}, false
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, true
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (f *fakeLocker) Acquire(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

func (f *fakeLocker) isHeld(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key]
}

type fakeText struct {
	mu    sync.Mutex
	calls int
	// failOn makes the call with that 1-based index fail.
	failOn int
}

func (f *fakeText) GenerateText(_ context.Context, system, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.failOn > 0 && n == f.failOn {
		return "", errors.New("upstream refused")
	}
	if strings.Contains(system, "beats") {
		return `{"beats":["opening","middle","closing"]}`, nil
	}
	if strings.Contains(system, "illustration") {
		return `{"illustrationPrompt":"a fox in a meadow"}`, nil
	}
	return "Once upon a time there was a chapter of real words.", nil
}

type fakeImage struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeImage) GenerateImage(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png-bytes"), nil
}

type fakeObjects struct {
	mu         sync.Mutex
	keys       map[string]bool
	putFileErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{keys: map[string]bool{}}
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	_, _ = io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = true
	return nil
}

func (f *fakeObjects) PutFile(_ context.Context, key, localPath, _ string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putFileErr != nil {
		return f.putFileErr
	}
	f.keys[key] = true
	return nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeObjects) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key]
}

// fakeRenderer writes placeholder artifacts to real temp files so the
// reconciliation path operates on files that exist. The files are not PDFs,
// so the page count falls back to the profile default.
type fakeRenderer struct {
	dir string
}

func (f *fakeRenderer) RenderInterior(_ context.Context, p domain.Project, units []domain.Unit) (string, error) {
	path := filepath.Join(f.dir, p.ID+"-interior-raw.pdf")
	body := fmt.Sprintf("interior with %d units", len(units))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeRenderer) RenderCover(_ context.Context, p domain.Project, _ pagefit.CoverSpread) (string, error) {
	path := filepath.Join(f.dir, p.ID+"-cover.pdf")
	if err := os.WriteFile(path, []byte("cover"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fixture struct {
	app        *App
	store      *store.MemoryStore
	locker     *fakeLocker
	objects    *fakeObjects
	text       *fakeText
	image      *fakeImage
	sequential *fakeEnqueuer
	fanOut     *fakeEnqueuer
	regen      *fakeEnqueuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		store:      store.NewMemoryStore(),
		locker:     newFakeLocker(),
		objects:    newFakeObjects(),
		text:       &fakeText{},
		image:      &fakeImage{},
		sequential: &fakeEnqueuer{},
		fanOut:     &fakeEnqueuer{},
		regen:      &fakeEnqueuer{},
	}
	f.app = New(Config{
		Store:      f.store,
		Objects:    f.objects,
		Locker:     f.locker,
		Text:       f.text,
		Image:      f.image,
		Sequential: f.sequential,
		FanOut:     f.fanOut,
		Regen:      f.regen,
		TypesetURL: "http://typeset.test",
		WorkDir:    dir,
	})
	renderer := &fakeRenderer{dir: dir}
	f.app.renderers = map[domain.ProjectType]Renderer{
		domain.TypeText:    renderer,
		domain.TypePicture: renderer,
	}
	return f
}

func (f *fixture) textProject(t *testing.T, totalUnits int) domain.Project {
	t.Helper()
	ctx := context.Background()
	p, err := f.app.CreateProject(ctx, "owner-1", "The Long Winter", "TR-6x9-BW")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := f.app.SaveCharacter(ctx, p.ID, "owner-1", nil); err != nil {
		t.Fatalf("SaveCharacter: %v", err)
	}
	units := make([]StoryPlanUnit, totalUnits)
	for i := range units {
		units[i] = StoryPlanUnit{Title: fmt.Sprintf("Chapter %d", i+1), Summary: "things happen"}
	}
	p, err = f.app.SaveStoryPlan(ctx, p.ID, "owner-1", StoryPlan{Synopsis: "a winter tale", Units: units})
	if err != nil {
		t.Fatalf("SaveStoryPlan: %v", err)
	}
	return p
}

func (f *fixture) pictureProject(t *testing.T) domain.Project {
	t.Helper()
	ctx := context.Background()
	p, err := f.app.CreateProject(ctx, "owner-1", "The Little Fox", "SQ-8.5-PB")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := f.app.SaveCharacter(ctx, p.ID, "owner-1", []byte("ref-image")); err != nil {
		t.Fatalf("SaveCharacter: %v", err)
	}
	units := make([]StoryPlanUnit, picturePageCount)
	for i := range units {
		units[i] = StoryPlanUnit{Title: fmt.Sprintf("Page %d", i+1)}
	}
	p, err = f.app.SaveStoryPlan(ctx, p.ID, "owner-1", StoryPlan{Units: units})
	if err != nil {
		t.Fatalf("SaveStoryPlan: %v", err)
	}
	return p
}

func (f *fixture) drainSequential(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		job, ok := f.sequential.pop()
		if !ok {
			return
		}
		if err := f.app.HandleSequentialUnit(ctx, queue.JobStatus{Job: job, Attempts: 1}); err != nil {
			t.Fatalf("HandleSequentialUnit(%d): %v", job.UnitIndex, err)
		}
	}
	t.Fatal("sequential queue did not drain")
}

func TestSequentialChainGeneratesChaptersInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.textProject(t, 3)

	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	f.drainSequential(t)

	got, _, err := f.store.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Status != domain.ProjectComplete {
		t.Fatalf("status = %s, want %s (error: %q)", got.Status, domain.ProjectComplete, got.ErrorMessage)
	}
	units, err := f.store.ListUnits(p.ID)
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	for i, u := range units {
		if u.Seq != i+1 {
			t.Fatalf("unit %d has seq %d, chain left a gap", i, u.Seq)
		}
		if u.Content == "" {
			t.Fatalf("unit %d has no content", u.Seq)
		}
	}
	if got.ReconciledPageCount == 0 || got.ReconciledPageCount%2 != 0 {
		t.Fatalf("reconciled page count %d is not an even positive count", got.ReconciledPageCount)
	}
	if !f.objects.has(got.InteriorKey) || !f.objects.has(got.CoverKey) {
		t.Fatal("artifacts were not uploaded")
	}
	if f.locker.isHeld("project:" + p.ID) {
		t.Fatal("lock still held after completion")
	}
}

func TestSequentialChainFailureHaltsAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.textProject(t, 3)
	// Unit 1 takes two calls (plan + write); fail the plan call of unit 2.
	f.text.failOn = 3

	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	job, _ := f.sequential.pop()
	if err := f.app.HandleSequentialUnit(ctx, queue.JobStatus{Job: job, Attempts: 1}); err != nil {
		t.Fatalf("unit 1: %v", err)
	}
	job, ok := f.sequential.pop()
	if !ok || job.UnitIndex != 2 {
		t.Fatalf("expected unit 2 to be enqueued, got %+v ok=%v", job, ok)
	}
	// Final attempt fails; the handler must mark the project and stop the chain.
	if err := f.app.HandleSequentialUnit(ctx, queue.JobStatus{Job: job, Attempts: 3}); err == nil {
		t.Fatal("expected the failing attempt to surface its error")
	}

	got, _, _ := f.store.GetProject(p.ID)
	if got.Status != domain.ProjectError {
		t.Fatalf("status = %s, want %s", got.Status, domain.ProjectError)
	}
	if got.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
	if _, ok := f.sequential.pop(); ok {
		t.Fatal("chain enqueued another unit after failing")
	}
	if f.locker.isHeld("project:" + p.ID) {
		t.Fatal("lock still held after failure")
	}
}

func TestSequentialTransientFailureIsRetriedNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.textProject(t, 1)
	f.text.failOn = 1

	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	job, _ := f.sequential.pop()
	err := f.app.HandleSequentialUnit(ctx, queue.JobStatus{Job: job, Attempts: 1})
	if err == nil {
		t.Fatal("expected a retryable error")
	}
	if !domain.Retryable(err) {
		t.Fatalf("error %v should be retryable on attempt 1", err)
	}
	got, _, _ := f.store.GetProject(p.ID)
	if got.Status != domain.ProjectGenerating {
		t.Fatalf("status = %s, project must stay generating while retries remain", got.Status)
	}
	if !f.locker.isHeld("project:" + p.ID) {
		t.Fatal("lock must stay held while retries remain")
	}
}

func TestStartGenerationConflictsWhileRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.textProject(t, 2)

	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("first StartGeneration: %v", err)
	}
	_, err := f.app.StartGeneration(ctx, p.ID, "owner-1")
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("second StartGeneration err = %v, want conflict", err)
	}
}

func TestSaveStoryPlanEnforcesPicturePageCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.app.CreateProject(ctx, "owner-1", "The Little Fox", "SQ-8.5-PB")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := f.app.SaveCharacter(ctx, p.ID, "owner-1", []byte("ref-image")); err != nil {
		t.Fatalf("SaveCharacter: %v", err)
	}
	units := make([]StoryPlanUnit, 12)
	for i := range units {
		units[i] = StoryPlanUnit{Title: fmt.Sprintf("Page %d", i+1)}
	}
	_, err = f.app.SaveStoryPlan(ctx, p.ID, "owner-1", StoryPlan{Units: units})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("err = %v, want validation error for wrong page count", err)
	}
}

func TestFanOutLastChildFinalizesProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.app.CreateProject(ctx, "owner-1", "The Little Fox", "SQ-8.5-PB")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := f.app.SaveCharacter(ctx, p.ID, "owner-1", []byte("ref-image")); err != nil {
		t.Fatalf("SaveCharacter: %v", err)
	}
	units := make([]StoryPlanUnit, picturePageCount)
	for i := range units {
		units[i] = StoryPlanUnit{Title: fmt.Sprintf("Page %d", i+1)}
	}
	if _, err := f.app.SaveStoryPlan(ctx, p.ID, "owner-1", StoryPlan{Units: units}); err != nil {
		t.Fatalf("SaveStoryPlan: %v", err)
	}
	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	if len(f.fanOut.jobs) != picturePageCount {
		t.Fatalf("enqueued %d fan-out jobs, want %d", len(f.fanOut.jobs), picturePageCount)
	}

	for {
		job, ok := f.fanOut.pop()
		if !ok {
			break
		}
		if err := f.app.HandleFanOutUnit(ctx, queue.JobStatus{Job: job, Attempts: 1}); err != nil {
			t.Fatalf("HandleFanOutUnit(%d): %v", job.UnitIndex, err)
		}
		got, _, _ := f.store.GetProject(p.ID)
		if got.CompletedUnits < got.TotalUnits && got.Status != domain.ProjectGenerating {
			t.Fatalf("project left generating before the last child (status %s)", got.Status)
		}
	}

	got, _, _ := f.store.GetProject(p.ID)
	if got.Status != domain.ProjectComplete {
		t.Fatalf("status = %s, want %s (error: %q)", got.Status, domain.ProjectComplete, got.ErrorMessage)
	}
	if f.image.calls != picturePageCount {
		t.Fatalf("generated %d images, want %d", f.image.calls, picturePageCount)
	}
	if f.locker.isHeld("project:" + p.ID) {
		t.Fatal("lock still held after completion")
	}
}

func TestFanOutChildFailureDropsSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pictureProject(t)
	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	// One child exhausts its retry budget.
	f.text.failOn = 1
	job, _ := f.fanOut.pop()
	if err := f.app.HandleFanOutUnit(ctx, queue.JobStatus{Job: job, Attempts: 3}); err == nil {
		t.Fatal("expected the failing attempt to surface its error")
	}
	got := mustProject(t, f, p.ID)
	if got.Status != domain.ProjectError {
		t.Fatalf("status = %s, want %s", got.Status, domain.ProjectError)
	}
	if f.locker.isHeld("project:" + p.ID) {
		t.Fatal("lock still held after child failure")
	}

	// In-flight siblings land on a project no longer generating and ack
	// without doing any work.
	images := f.image.calls
	job, ok := f.fanOut.pop()
	if !ok {
		t.Fatal("no sibling job left to handle")
	}
	if err := f.app.HandleFanOutUnit(ctx, queue.JobStatus{Job: job, Attempts: 1}); err != nil {
		t.Fatalf("sibling of a failed chain should ack clean, got %v", err)
	}
	if f.image.calls != images {
		t.Fatal("sibling generated an image after the chain failed")
	}
}

func TestFanOutRetriedLastChildKeepsProgressBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pictureProject(t)
	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	for i := 0; i < picturePageCount-1; i++ {
		job, ok := f.fanOut.pop()
		if !ok {
			t.Fatalf("queue ran dry after %d children", i)
		}
		if err := f.app.HandleFanOutUnit(ctx, queue.JobStatus{Job: job, Attempts: 1}); err != nil {
			t.Fatalf("HandleFanOutUnit(%d): %v", job.UnitIndex, err)
		}
	}
	last, ok := f.fanOut.pop()
	if !ok {
		t.Fatal("final child missing from the queue")
	}

	// The last child finishes its page but the artifact upload blips, so
	// the queue redelivers the whole job.
	f.objects.putFileErr = errors.New("object store briefly down")
	err := f.app.HandleFanOutUnit(ctx, queue.JobStatus{Job: last, Attempts: 1})
	if err == nil {
		t.Fatal("expected the upload failure to surface for retry")
	}
	got := mustProject(t, f, p.ID)
	if got.Status != domain.ProjectGenerating {
		t.Fatalf("status = %s, retryable failure must keep the project generating", got.Status)
	}

	f.objects.putFileErr = nil
	if err := f.app.HandleFanOutUnit(ctx, queue.JobStatus{Job: last, Attempts: 2}); err != nil {
		t.Fatalf("retried last child: %v", err)
	}
	got = mustProject(t, f, p.ID)
	if got.Status != domain.ProjectComplete {
		t.Fatalf("status = %s, want %s (error: %q)", got.Status, domain.ProjectComplete, got.ErrorMessage)
	}
	if got.CompletedUnits != got.TotalUnits {
		t.Fatalf("completed %d of %d, retried child drifted the counter", got.CompletedUnits, got.TotalUnits)
	}
}

func TestUnknownProfileFailsProjectPermanently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.textProject(t, 2)
	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	live := mustProject(t, f, p.ID)
	live.VendorSKU = "TR-discontinued"
	if err := f.store.SaveProject(live); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	job, _ := f.sequential.pop()
	if err := f.app.HandleSequentialUnit(ctx, queue.JobStatus{Job: job, Attempts: 1}); err != nil {
		t.Fatalf("permanent failure must ack the job, got %v", err)
	}
	got := mustProject(t, f, p.ID)
	if got.Status != domain.ProjectFailed {
		t.Fatalf("status = %s, want %s", got.Status, domain.ProjectFailed)
	}
	if got.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
	if f.locker.isHeld("project:" + p.ID) {
		t.Fatal("lock still held after permanent failure")
	}

	// failed is terminal until an explicit retry, same as error.
	fixed := mustProject(t, f, p.ID)
	fixed.VendorSKU = "TR-6x9-BW"
	if err := f.store.SaveProject(fixed); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	if _, err := f.app.RetryGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("RetryGeneration from failed: %v", err)
	}
	if got := mustProject(t, f, p.ID); got.Status != domain.ProjectGenerating {
		t.Fatalf("status = %s after retry, want %s", got.Status, domain.ProjectGenerating)
	}
}

func TestRetryGenerationResetsFailedProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.textProject(t, 2)
	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	job, _ := f.sequential.pop()
	if err := f.app.failChain(ctx, mustProject(t, f, p.ID), domain.ProjectError, "simulated failure"); err != nil {
		t.Fatalf("failChain: %v", err)
	}
	_ = job

	if _, err := f.app.RetryGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("RetryGeneration: %v", err)
	}
	got, _, _ := f.store.GetProject(p.ID)
	if got.Status != domain.ProjectGenerating {
		t.Fatalf("status = %s, want %s", got.Status, domain.ProjectGenerating)
	}
	if job, ok := f.sequential.pop(); !ok || job.UnitIndex != 1 {
		t.Fatalf("retry must restart from unit 1, got %+v ok=%v", job, ok)
	}
}

func TestStaleJobsAreAckedWithoutWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.textProject(t, 2)

	err := f.app.HandleSequentialUnit(ctx, queue.JobStatus{
		Job:      domain.Job{Type: domain.JobSequentialUnit, ProjectID: p.ID, OwnerID: p.OwnerID, UnitIndex: 1},
		Attempts: 1,
	})
	if err != nil {
		t.Fatalf("stale job should ack clean, got %v", err)
	}
	if f.text.calls != 0 {
		t.Fatal("stale job must not invoke generation")
	}
	err = f.app.HandleSequentialUnit(ctx, queue.JobStatus{
		Job:      domain.Job{Type: domain.JobSequentialUnit, ProjectID: "missing", UnitIndex: 1},
		Attempts: 1,
	})
	if err != nil {
		t.Fatalf("job for missing project should ack clean, got %v", err)
	}
}

func TestRegenerateUnitRequiresCompleteProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.textProject(t, 2)

	err := f.app.RegenerateUnit(ctx, p.ID, "owner-1", 1, "more snow")
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("err = %v, want conflict for non-complete project", err)
	}
}

func TestRegenerationRewritesUnitAndRerenders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.textProject(t, 2)
	if _, err := f.app.StartGeneration(ctx, p.ID, "owner-1"); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	f.drainSequential(t)

	if err := f.app.RegenerateUnit(ctx, p.ID, "owner-1", 2, "a darker ending"); err != nil {
		t.Fatalf("RegenerateUnit: %v", err)
	}
	job, ok := f.regen.pop()
	if !ok {
		t.Fatal("no regeneration job enqueued")
	}
	if job.Guidance != "a darker ending" {
		t.Fatalf("guidance = %q, not propagated", job.Guidance)
	}
	if err := f.app.HandleRegeneration(ctx, queue.JobStatus{Job: job, Attempts: 1}); err != nil {
		t.Fatalf("HandleRegeneration: %v", err)
	}
	got, _, _ := f.store.GetProject(p.ID)
	if got.Status != domain.ProjectComplete {
		t.Fatalf("status = %s, want %s after regeneration", got.Status, domain.ProjectComplete)
	}
	if f.locker.isHeld("project:" + p.ID) {
		t.Fatal("lock still held after regeneration")
	}
}

func TestTargetWordsDividesBudgetAcrossUnits(t *testing.T) {
	profile, _ := domain.ProfileForSKU("TR-6x9-BW")
	got := TargetWords(profile, 10)
	want := (profile.MaxPageCount - safetyPages) * profile.WordsPerPage / 10
	if got != want {
		t.Fatalf("TargetWords = %d, want %d", got, want)
	}
	if TargetWords(profile, 0) != 0 {
		t.Fatal("TargetWords must be 0 for zero units")
	}
}

func mustProject(t *testing.T, f *fixture, id string) domain.Project {
	t.Helper()
	p, ok, err := f.store.GetProject(id)
	if err != nil || !ok {
		t.Fatalf("project %s not found: %v", id, err)
	}
	return p
}
