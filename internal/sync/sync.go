package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/schaermu/vclsync/internal/config"
	"github.com/schaermu/vclsync/internal/fastly"
	"github.com/schaermu/vclsync/internal/lock"
	"github.com/schaermu/vclsync/internal/vcl"
)

var (
	// ErrNoLocalFiles is returned when the VCL directory contains no VCL
	// files. An empty local set is never interpreted as "delete everything
	// remotely"; it aborts before any remote call.
	ErrNoLocalFiles = errors.New("no local VCL files found")
	// ErrValidationFailed is returned when the service rejects the staged
	// version
	ErrValidationFailed = errors.New("version validation failed")
)

// Engine orchestrates one deployment run
type Engine struct {
	cfg    *config.Config
	api    fastly.Client
	locker lock.Locker
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new deployment engine
func NewEngine(cfg *config.Config, api fastly.Client, locker lock.Locker, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:    cfg,
		api:    api,
		locker: locker,
		logger: logger,
		dryRun: dryRun,
	}
}

// Run executes the complete deployment: load local files, diff against the
// remote active version and, if anything changed, stage and activate a new
// version under the deploy lock. Dry-run stops after logging the plan and
// takes no lock since it never mutates remote state.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting deployment",
		"service", e.cfg.API.ServiceID,
		"vcl_dir", e.cfg.Local.VCLDir,
		"dry_run", e.dryRun)

	local, err := vcl.LoadDir(e.cfg.Local.VCLDir)
	if err != nil {
		return fmt.Errorf("failed to load local VCL files: %w", err)
	}
	if len(local) == 0 {
		return fmt.Errorf("%w in %s", ErrNoLocalFiles, e.cfg.Local.VCLDir)
	}
	e.logger.Info("loaded local VCL files", "count", len(local))

	if e.dryRun {
		plan, _, err := e.buildPlan(ctx, local)
		if err != nil {
			return err
		}
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	lease, err := e.locker.Acquire(ctx, e.cfg.Lock.Name)
	if err != nil {
		return fmt.Errorf("failed to acquire deploy lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("failed to release deploy lock", "error", err)
		}
	}()

	plan, active, err := e.buildPlan(ctx, local)
	if err != nil {
		return err
	}

	if plan.Empty() {
		e.logger.Info("local files match active version, nothing to deploy",
			"active_version", active.Number)
		return nil
	}
	e.logPlanDetails(plan)

	return e.deploy(ctx, active, plan, local)
}

// buildPlan fetches the remote active version and diffs it against the
// local file set
func (e *Engine) buildPlan(ctx context.Context, local map[string]string) (Plan, fastly.Version, error) {
	versions, err := e.api.ListVersions(ctx)
	if err != nil {
		return Plan{}, fastly.Version{}, err
	}

	active, err := fastly.FindActiveVersion(versions)
	if err != nil {
		return Plan{}, fastly.Version{}, err
	}
	e.logger.Info("found active version", "version", active.Number)

	remote, err := e.api.ListVCLs(ctx, active.Number)
	if err != nil {
		return Plan{}, fastly.Version{}, err
	}
	e.logger.Info("fetched remote VCL files", "count", len(remote))

	plan := BuildPlan(local, remote)
	e.logger.Info("deployment plan",
		"create", len(plan.ToCreate),
		"update", len(plan.ToUpdate),
		"delete", len(plan.ToDelete))

	return plan, active, nil
}

// deploy walks the staging pipeline: clone, apply, set main, validate,
// activate. Linear with no rollback; the first failure aborts and leaves
// the never-activated clone behind as a harmless orphan.
func (e *Engine) deploy(ctx context.Context, active fastly.Version, plan Plan, local map[string]string) error {
	clone, err := e.api.CloneVersion(ctx, active.Number)
	if err != nil {
		return fmt.Errorf("failed to clone version %d: %w", active.Number, err)
	}
	e.logger.Info("cloned active version", "from", active.Number, "to", clone.Number)

	if err := e.applyPlan(ctx, clone.Number, plan); err != nil {
		return err
	}

	if _, ok := local[e.cfg.API.MainVCL]; ok {
		if err := e.api.SetMainVCL(ctx, clone.Number, e.cfg.API.MainVCL); err != nil {
			return fmt.Errorf("failed to designate main VCL: %w", err)
		}
		e.logger.Info("designated main VCL", "name", e.cfg.API.MainVCL)
	} else {
		e.logger.Info("no local main VCL, skipping entrypoint designation",
			"name", e.cfg.API.MainVCL)
	}

	result, err := e.api.ValidateVersion(ctx, clone.Number)
	if err != nil {
		return fmt.Errorf("failed to validate version %d: %w", clone.Number, err)
	}
	if !result.OK() {
		return fmt.Errorf("%w for version %d: status=%q msg=%q",
			ErrValidationFailed, clone.Number, result.Status, result.Message)
	}
	e.logger.Info("version validated", "version", clone.Number)

	activated, err := e.api.ActivateVersion(ctx, clone.Number)
	if err != nil {
		return fmt.Errorf("failed to activate version %d: %w", clone.Number, err)
	}
	e.logger.Info("deployment complete", "active_version", activated.Number)

	return nil
}

// applyPlan applies creates, then updates, then deletes to the staged
// version. The groups act on disjoint names, so only the group order is
// fixed; within a group operations run in sorted order.
func (e *Engine) applyPlan(ctx context.Context, version int, plan Plan) error {
	for _, op := range plan.ToCreate {
		if err := e.api.CreateVCL(ctx, version, op.Name, op.Content); err != nil {
			return fmt.Errorf("failed to create VCL %q: %w", op.Name, err)
		}
		e.logger.Info("created VCL", "name", op.Name)
	}

	for _, op := range plan.ToUpdate {
		if err := e.api.UpdateVCL(ctx, version, op.Name, op.Content); err != nil {
			return fmt.Errorf("failed to update VCL %q: %w", op.Name, err)
		}
		e.logger.Info("updated VCL", "name", op.Name)
	}

	for _, name := range plan.ToDelete {
		if err := e.api.DeleteVCL(ctx, version, name); err != nil {
			return fmt.Errorf("failed to delete VCL %q: %w", name, err)
		}
		e.logger.Info("deleted VCL", "name", name)
	}

	return nil
}

// logPlanDetails logs every planned operation by name
func (e *Engine) logPlanDetails(plan Plan) {
	for _, op := range plan.ToCreate {
		e.logger.Info("plan: create", "name", op.Name)
	}
	for _, op := range plan.ToUpdate {
		e.logger.Info("plan: update", "name", op.Name)
	}
	for _, name := range plan.ToDelete {
		e.logger.Info("plan: delete", "name", name)
	}
}
