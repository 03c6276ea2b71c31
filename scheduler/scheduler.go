// Package scheduler selects and executes pipeline stages for trigger events.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/conveyor/cache"
	"github.com/GoCodeAlone/conveyor/deploy"
	"github.com/GoCodeAlone/conveyor/metrics"
	"github.com/GoCodeAlone/conveyor/pipeline"
	"github.com/GoCodeAlone/conveyor/promotion"
	"github.com/GoCodeAlone/conveyor/registry"
	"github.com/GoCodeAlone/conveyor/runner"
	"github.com/GoCodeAlone/conveyor/secrets"
	"github.com/GoCodeAlone/conveyor/trigger"
)

// RunStatus is the overall outcome of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// StageStatus is the outcome of a single stage within a run.
type StageStatus string

const (
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageRecord records the result of one stage execution.
type StageRecord struct {
	Name      string              `json:"name"`
	Action    pipeline.ActionKind `json:"action"`
	Status    StageStatus         `json:"status"`
	StartedAt time.Time           `json:"startedAt"`
	Duration  time.Duration       `json:"duration"`
	ExitCode  int                 `json:"exitCode,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Run records one pipeline invocation.
type Run struct {
	ID        string        `json:"id"`
	Pipeline  string        `json:"pipeline"`
	Event     trigger.Event `json:"event"`
	Status    RunStatus     `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Stages    []StageRecord `json:"stages"`
	Error     string        `json:"error,omitempty"`
}

const (
	defaultStageTimeout = 10 * time.Minute
	defaultRunTimeout   = time.Hour
)

// Options configures a Scheduler. Model, Secrets, Cache, Runner, Builder,
// Pusher, and Target are required; the rest have defaults.
type Options struct {
	Model   *promotion.Model
	Secrets *secrets.Resolver
	Cache   *cache.Mounter
	Runner  runner.CommandRunner
	Builder runner.ImageBuilder
	Pusher  registry.Pusher
	Target  deploy.Target

	Logger  *slog.Logger
	Metrics *metrics.Collector

	// WorkDir is the host directory where cache mounts are materialized,
	// one subdirectory per run.
	WorkDir string
	// BuildContext and Dockerfile locate the image build inputs.
	BuildContext string
	Dockerfile   string

	StageTimeout time.Duration
	RunTimeout   time.Duration
}

// Scheduler executes a pipeline definition and keeps a history of runs.
type Scheduler struct {
	def  *pipeline.Definition
	opts Options

	mu   sync.RWMutex
	runs map[string]*Run
}

// New creates a Scheduler for a validated definition.
func New(def *pipeline.Definition, opts Options) (*Scheduler, error) {
	if def == nil {
		return nil, fmt.Errorf("scheduler: definition is required")
	}
	if opts.Model == nil || opts.Secrets == nil || opts.Cache == nil {
		return nil, fmt.Errorf("scheduler: model, secrets, and cache are required")
	}
	if opts.Runner == nil || opts.Builder == nil || opts.Pusher == nil || opts.Target == nil {
		return nil, fmt.Errorf("scheduler: runner, builder, pusher, and target are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StageTimeout == 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.RunTimeout == 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.Dockerfile == "" {
		opts.Dockerfile = "Dockerfile"
	}
	return &Scheduler{
		def:  def,
		opts: opts,
		runs: make(map[string]*Run),
	}, nil
}

// Pipeline returns the definition the scheduler executes.
func (s *Scheduler) Pipeline() *pipeline.Definition { return s.def }

// Get returns a snapshot of a run by ID.
func (s *Scheduler) Get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return snapshot(r), true
}

// List returns snapshots of all runs, newest first.
func (s *Scheduler) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		result = append(result, snapshot(r))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}

// snapshot copies a run so callers never observe concurrent stage appends.
// Callers must hold s.mu.
func snapshot(r *Run) Run {
	cp := *r
	cp.Stages = append([]StageRecord(nil), r.Stages...)
	return cp
}

// Execute validates the event, selects the matching stages, and runs them in
// declaration order. After a stage fails, remaining stages are skipped except
// those marked always-run; the run fails with the first error. The returned
// Run is also retained in the scheduler's history.
func (s *Scheduler) Execute(ctx context.Context, ev trigger.Event) (*Run, error) {
	run, selected, err := s.begin(ev)
	if err != nil {
		return nil, err
	}
	return run, s.execute(ctx, run, selected)
}

// Start registers a run for the event and executes it on a background
// goroutine, calling onDone (if non-nil) when it finishes. The returned
// snapshot reflects the run at submission; read progress through Get.
func (s *Scheduler) Start(ev trigger.Event, onDone func()) (Run, error) {
	run, selected, err := s.begin(ev)
	if err != nil {
		if onDone != nil {
			onDone()
		}
		return Run{}, err
	}
	go func() {
		if onDone != nil {
			defer onDone()
		}
		_ = s.execute(context.Background(), run, selected)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(run), nil
}

// begin validates the event, selects stages, and registers the run record.
func (s *Scheduler) begin(ev trigger.Event) (*Run, []pipeline.Stage, error) {
	if err := ev.Validate(); err != nil {
		return nil, nil, err
	}

	selected, err := Select(s.def, ev)
	if err != nil {
		return nil, nil, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		Pipeline:  s.def.Name,
		Event:     ev,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
	return run, selected, nil
}

// execute runs the selected stages and finalizes the run record.
func (s *Scheduler) execute(ctx context.Context, run *Run, selected []pipeline.Stage) error {
	ev := run.Event
	logger := s.opts.Logger.With("run", run.ID, "pipeline", s.def.Name)
	logger.Info("Run started", "event", ev.String(), "stages", len(selected))

	if s.opts.Metrics != nil {
		s.opts.Metrics.RunStarted()
		defer s.opts.Metrics.RunFinished()
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	var firstErr error
	for _, st := range selected {
		rec := StageRecord{
			Name:      st.Name,
			Action:    st.Action,
			StartedAt: time.Now(),
		}

		if firstErr != nil && !st.AlwaysRun {
			rec.Status = StageStatusSkipped
			logger.Info("Stage skipped", "stage", st.Name)
			if s.opts.Metrics != nil {
				s.opts.Metrics.RecordStageSkipped(s.def.Name, st.Name)
			}
			s.appendStage(run, rec)
			continue
		}

		logger.Info("Stage started", "stage", st.Name, "action", st.Action)
		exitCode, stageErr := s.runStage(ctx, run, &st, ev)
		rec.Duration = time.Since(rec.StartedAt)
		rec.ExitCode = exitCode

		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordStageDuration(s.def.Name, st.Name, string(st.Action), rec.Duration)
		}

		if stageErr != nil {
			rec.Status = StageStatusFailed
			rec.Error = stageErr.Error()
			logger.Error("Stage failed", "stage", st.Name, "error", stageErr, "elapsed", rec.Duration)
			if firstErr == nil {
				firstErr = fmt.Errorf("stage %q failed: %w", st.Name, stageErr)
			}
		} else {
			rec.Status = StageStatusSucceeded
			logger.Info("Stage completed", "stage", st.Name, "elapsed", rec.Duration)
		}
		s.appendStage(run, rec)
	}

	s.mu.Lock()
	run.Duration = time.Since(run.StartedAt)
	if firstErr != nil {
		run.Status = RunStatusFailed
		run.Error = firstErr.Error()
	} else {
		run.Status = RunStatusSucceeded
	}
	s.mu.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordRun(s.def.Name, string(ev.Kind), string(run.Status))
	}

	if firstErr != nil {
		logger.Error("Run failed", "error", firstErr, "elapsed", run.Duration)
		return firstErr
	}
	logger.Info("Run completed", "elapsed", run.Duration)
	return nil
}

func (s *Scheduler) appendStage(run *Run, rec StageRecord) {
	s.mu.Lock()
	run.Stages = append(run.Stages, rec)
	s.mu.Unlock()
}

// runStage dispatches one stage by action kind. The int return is the
// command exit code for run actions, zero otherwise.
func (s *Scheduler) runStage(ctx context.Context, run *Run, st *pipeline.Stage, ev trigger.Event) (int, error) {
	switch st.Action {
	case pipeline.ActionRun:
		return s.execStage(ctx, run, st, ev)
	case pipeline.ActionRestoreCache:
		return 0, s.restoreCache(ctx, run, st)
	case pipeline.ActionRebuildCache:
		return 0, s.rebuildCache(ctx, run, st)
	case pipeline.ActionBuildImage:
		return 0, s.buildImage(ctx, st, ev)
	case pipeline.ActionDeployImage:
		return 0, s.deployImage(ctx, st, ev)
	default:
		return 0, fmt.Errorf("scheduler: unknown action %q", st.Action)
	}
}

// execStage runs the stage's commands in its image, one container per
// command, with resolved secrets and stage environment merged into the
// container env and the cache mount bound in when declared.
func (s *Scheduler) execStage(ctx context.Context, run *Run, st *pipeline.Stage, ev trigger.Event) (int, error) {
	env := make(map[string]string, len(st.Env))
	for k, v := range st.Env {
		env[k] = v
	}

	if len(st.Secrets) > 0 {
		resolved, err := s.opts.Secrets.Resolve(ctx, s.secretScope(st, ev), st.Secrets)
		if err != nil {
			return 0, err
		}
		for k, v := range resolved {
			env[k] = v
		}
	}

	var mounts []runner.Mount
	if st.Mount != nil {
		mounts = append(mounts, runner.Mount{
			Source: s.mountDir(run.ID, st.Mount.Key),
			Target: st.Mount.Path,
		})
	}

	for _, command := range st.Command {
		res, err := s.opts.Runner.Exec(ctx, runner.ExecSpec{
			Image:   st.Image,
			Command: []string{"/bin/sh", "-c", command},
			Env:     env,
			Mounts:  mounts,
			Timeout: s.opts.StageTimeout,
		})
		if err != nil {
			return 0, err
		}
		if res.ExitCode != 0 {
			return res.ExitCode, fmt.Errorf("command %q exited with code %d: %s", command, res.ExitCode, res.Stderr)
		}
	}
	return 0, nil
}

// restoreCache materializes the cache entry into the run's mount directory.
// A cold cache is not an error; the stage succeeds with an empty directory
// and a later rebuild repopulates the store.
func (s *Scheduler) restoreCache(ctx context.Context, run *Run, st *pipeline.Stage) error {
	dir := s.mountDir(run.ID, st.Mount.Key)
	restored, err := s.opts.Cache.RestoreDir(ctx, st.Mount.Key, dir)
	if err != nil {
		return err
	}
	outcome := "hit"
	if !restored {
		outcome = "miss"
		s.opts.Logger.Info("Cache cold, starting empty", "key", st.Mount.Key)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordCacheRestore(st.Mount.Key, outcome)
	}
	return nil
}

// rebuildCache persists the run's mount directory back to the store. Unlike
// a restore miss, a rebuild failure fails the run: a pipeline that cannot
// save its cache would silently slow every later run.
func (s *Scheduler) rebuildCache(ctx context.Context, run *Run, st *pipeline.Stage) error {
	dir := s.mountDir(run.ID, st.Mount.Key)
	return s.opts.Cache.RebuildDir(ctx, st.Mount.Key, dir)
}

// buildImage builds the service image and pushes every tag the promotion
// rules assign to this event.
func (s *Scheduler) buildImage(ctx context.Context, st *pipeline.Stage, ev trigger.Event) error {
	tags, err := s.opts.Model.PackageTags(ev)
	if err != nil {
		return err
	}
	if err := s.opts.Builder.Build(ctx, s.opts.BuildContext, s.opts.Dockerfile, st.Repo, tags); err != nil {
		return err
	}
	return s.opts.Pusher.Push(ctx, st.Repo, tags)
}

// deployImage resolves the event's promotion and points the environment's
// deployment object at the promoted image.
func (s *Scheduler) deployImage(ctx context.Context, st *pipeline.Stage, ev trigger.Event) error {
	p, err := s.opts.Model.Resolve(ev)
	if err != nil {
		return err
	}
	image := st.Repo + ":" + p.ImageTag
	s.opts.Logger.Info("Promoting image",
		"environment", p.Environment, "image", image, "namespace", p.Target.Namespace)
	return s.opts.Target.SetImage(ctx,
		p.Target.Namespace, p.Target.ObjectKind, p.Target.ObjectName, p.Target.Container, image)
}

// secretScope picks the secret group a stage resolves from: its own static
// environment constraint when it has one, otherwise the environment of the
// deployment event. Groups are disjoint per environment, so a run never
// reads secrets across scopes.
func (s *Scheduler) secretScope(st *pipeline.Stage, ev trigger.Event) string {
	if scope := st.SecretGroup(); scope != "" {
		return scope
	}
	if ev.Kind == trigger.KindDeployment {
		if env, ok := s.opts.Model.GetEnvironment(promotion.EnvironmentName(ev.Environment)); ok {
			return env.SecretGroup
		}
		return ev.Environment
	}
	return ""
}

// mountDir is the host directory backing one cache mount for one run.
func (s *Scheduler) mountDir(runID, key string) string {
	return fmt.Sprintf("%s/%s/%s", s.opts.WorkDir, runID, key)
}
