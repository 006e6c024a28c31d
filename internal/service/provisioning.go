package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/blueprint"
	"github.com/teresa-solution/tenant-provisioning-service/internal/jobs"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/monitoring"
	"github.com/teresa-solution/tenant-provisioning-service/internal/platform"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

// ErrInvalidTransition is returned when a tenant's status does not allow the
// requested operation
var ErrInvalidTransition = errors.New("invalid state transition")

// PlatformClient is the remote platform surface the orchestrator drives.
// *platform.Client implements it.
type PlatformClient interface {
	Deploy(ctx context.Context, spec *model.DeploymentSpec) (*platform.Deployment, error)
	Delete(ctx context.Context, resourceID string) error
	Status(ctx context.Context, resourceID string) (*platform.ResourceStatus, error)
}

// Notifier is told about every lifecycle change the orchestrator commits
type Notifier interface {
	TenantChanged(ctx context.Context, tenant *model.Tenant)
}

type nopNotifier struct{}

func (nopNotifier) TenantChanged(context.Context, *model.Tenant) {}

// RetryPolicy is exponential backoff with a bounded number of retries after
// the first attempt
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries three times after 60s, 120s and 240s
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 60 * time.Second}

// Delay returns the wait before the attempt following failed attempt n
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// Exhausted reports whether failed attempt n was the last one allowed
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxRetries
}

// Orchestrator runs provision and cleanup jobs. It is the runner's handler
// for both kinds and the only writer of lifecycle transitions.
type Orchestrator struct {
	store     store.TenantStore
	templates blueprint.TemplateStore
	platform  PlatformClient
	queue     jobs.Queue
	notifier  Notifier
	clock     clock.Clock
	policy    RetryPolicy
}

// NewOrchestrator creates an Orchestrator. A nil clock uses wall time.
func NewOrchestrator(st store.TenantStore, templates blueprint.TemplateStore, pc PlatformClient, queue jobs.Queue, policy RetryPolicy, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	return &Orchestrator{
		store:     st,
		templates: templates,
		platform:  pc,
		queue:     queue,
		notifier:  nopNotifier{},
		clock:     clk,
		policy:    policy,
	}
}

// WithNotifier sets the lifecycle notifier
func (o *Orchestrator) WithNotifier(n Notifier) *Orchestrator {
	if n != nil {
		o.notifier = n
	}
	return o
}

// EnqueueProvision schedules a provisioning run. A tenant in ERROR is moved
// back to PROVISIONING first.
func (o *Orchestrator) EnqueueProvision(ctx context.Context, tenantID uuid.UUID) error {
	t, err := updateTenant(ctx, o.store, tenantID, beginProvisioning)
	if err != nil {
		return err
	}

	now := o.clock.Now()
	if err := o.queue.Enqueue(ctx, jobs.New(jobs.KindProvision, tenantID, now), now); err != nil {
		return fmt.Errorf("enqueue provision: %w", err)
	}
	log.Info().Str("tenant_id", tenantID.String()).Str("slug", t.Slug).Msg("Provisioning queued")
	o.notifier.TenantChanged(ctx, t)
	return nil
}

// EnqueueCleanup marks the tenant DELETING and schedules teardown of its
// resources
func (o *Orchestrator) EnqueueCleanup(ctx context.Context, tenantID uuid.UUID) error {
	t, err := o.markDeleting(ctx, tenantID)
	if err != nil {
		return err
	}

	now := o.clock.Now()
	if err := o.queue.Enqueue(ctx, jobs.New(jobs.KindCleanup, tenantID, now), now); err != nil {
		return fmt.Errorf("enqueue cleanup: %w", err)
	}
	log.Info().Str("tenant_id", tenantID.String()).Str("slug", t.Slug).Msg("Cleanup queued")
	o.notifier.TenantChanged(ctx, t)
	return nil
}

// Handle implements jobs.Handler
func (o *Orchestrator) Handle(ctx context.Context, job *jobs.Job) jobs.Outcome {
	logger := log.With().
		Str("job_id", job.ID.String()).
		Str("tenant_id", job.TenantID.String()).
		Str("kind", string(job.Kind)).
		Int("attempt", job.Attempt).
		Logger()

	switch job.Kind {
	case jobs.KindProvision:
		return o.provision(ctx, logger, job)
	case jobs.KindCleanup:
		return o.cleanup(ctx, logger, job)
	}
	logger.Error().Msg("Unknown job kind")
	return jobs.Done()
}

func (o *Orchestrator) provision(ctx context.Context, logger zerolog.Logger, job *jobs.Job) jobs.Outcome {
	if len(job.Deployed) > 0 {
		// The stack already exists remotely; only recording it is left
		return o.persistDeployment(ctx, logger, job, job.DeploymentID, job.Deployed)
	}

	t, err := updateTenant(ctx, o.store, job.TenantID, beginProvisioning)
	switch {
	case errors.Is(err, store.ErrTenantNotFound):
		logger.Warn().Msg("Tenant no longer exists, dropping provision job")
		return jobs.Done()
	case errors.Is(err, ErrInvalidTransition):
		logger.Warn().Err(err).Msg("Skipping provision job")
		return jobs.Done()
	case err != nil:
		return o.retryProvision(ctx, logger, job, "load", err)
	}

	o.record(ctx, t.ID, "deploy", "started", map[string]any{"attempt": job.Attempt})

	tmpl, err := o.templates.Load(ctx)
	if err != nil {
		return o.failProvision(ctx, logger, job, "template", err)
	}
	spec, err := blueprint.Customize(tmpl, t)
	if err != nil {
		return o.failProvision(ctx, logger, job, "template", err)
	}

	start := o.clock.Now()
	dep, err := o.platform.Deploy(ctx, spec)
	monitoring.ProvisioningDuration.Observe(o.clock.Now().Sub(start).Seconds())
	if err != nil {
		if platform.IsRetryable(err) {
			return o.retryProvision(ctx, logger, job, "deploy", err)
		}
		return o.failProvision(ctx, logger, job, "deploy", err)
	}

	return o.persistDeployment(ctx, logger, job, dep.ID, dep.ServiceIDs)
}

// persistDeployment records a successful deployment on the tenant. A failed
// save is retried from the ids carried on the job and never redeploys.
func (o *Orchestrator) persistDeployment(ctx context.Context, logger zerolog.Logger, job *jobs.Job, deploymentID string, ids map[string]string) jobs.Outcome {
	var reopened bool
	t, err := updateTenant(ctx, o.store, job.TenantID, func(t *model.Tenant) error {
		t.ResourceIDs = ids
		t.LastError = ""
		reopened = false
		switch t.Status {
		case model.StatusDeleting:
			// A delete requested mid-deploy keeps the tenant DELETING; the
			// queued cleanup tears down what was just created.
		case model.StatusSuspended:
			// Cleanup finished before these ids were recorded
			t.Status = model.StatusDeleting
			reopened = true
		default:
			t.Status = model.StatusActive
		}
		return nil
	})
	if errors.Is(err, store.ErrTenantNotFound) {
		monitoring.Alert("deployed resources belong to a missing tenant", map[string]string{
			"tenant_id":     job.TenantID.String(),
			"deployment_id": deploymentID,
			"resource_ids":  formatResourceIDs(ids),
		})
		logger.Error().Str("deployment_id", deploymentID).Msg("Tenant vanished after deploy")
		return jobs.Done()
	}
	if err != nil {
		job.DeploymentID, job.Deployed = deploymentID, ids
		return o.retryProvision(ctx, logger, job, "save", err)
	}
	job.DeploymentID, job.Deployed = "", nil

	logger.Info().Str("deployment_id", deploymentID).Int("services", len(ids)).Msg("Tenant provisioned")
	monitoring.TenantsProvisioned.WithLabelValues(string(t.Status)).Inc()
	o.record(ctx, t.ID, "deploy", "succeeded", map[string]any{
		"attempt":       job.Attempt,
		"deployment_id": deploymentID,
		"resource_ids":  ids,
	})
	o.notifier.TenantChanged(ctx, t)

	if reopened {
		logger.Warn().Msg("Tenant was suspended before its deployment was recorded, reopening cleanup")
		now := o.clock.Now()
		if err := o.queue.Enqueue(ctx, jobs.New(jobs.KindCleanup, t.ID, now), now); err != nil {
			logger.Error().Err(err).Msg("Failed to enqueue cleanup")
		}
	}
	return jobs.Done()
}

func (o *Orchestrator) retryProvision(ctx context.Context, logger zerolog.Logger, job *jobs.Job, step string, cause error) jobs.Outcome {
	job.LastError = cause.Error()
	if o.policy.Exhausted(job.Attempt) {
		err := fmt.Errorf("giving up after %d attempts: %w", job.Attempt, cause)
		labels := map[string]string{
			"tenant_id": job.TenantID.String(),
			"error":     cause.Error(),
		}
		if len(job.Deployed) > 0 {
			ids := formatResourceIDs(job.Deployed)
			labels["deployment_id"] = job.DeploymentID
			labels["resource_ids"] = ids
			err = fmt.Errorf("giving up after %d attempts, deployed resources %s were not recorded: %w", job.Attempt, ids, cause)
		}
		monitoring.Alert("tenant provisioning retries exhausted", labels)
		return o.failProvision(ctx, logger, job, step, err)
	}

	o.touch(ctx, logger, job.TenantID)
	delay := o.backoff(job.Attempt, cause)
	logger.Warn().Err(cause).Str("step", step).Dur("delay", delay).Msg("Provisioning attempt failed, will retry")
	o.record(ctx, job.TenantID, step, "retry", map[string]any{
		"attempt": job.Attempt,
		"error":   cause.Error(),
		"delay":   delay.String(),
	})
	return jobs.RetryIn(delay)
}

func (o *Orchestrator) failProvision(ctx context.Context, logger zerolog.Logger, job *jobs.Job, step string, cause error) jobs.Outcome {
	logger.Error().Err(cause).Str("step", step).Msg("Provisioning failed")
	monitoring.TenantsProvisioned.WithLabelValues(string(model.StatusError)).Inc()
	o.record(ctx, job.TenantID, step, "failed", map[string]any{
		"attempt": job.Attempt,
		"error":   cause.Error(),
	})

	t, err := updateTenant(ctx, o.store, job.TenantID, func(t *model.Tenant) error {
		if t.Status != model.StatusProvisioning {
			return errUnchanged
		}
		t.Status = model.StatusError
		t.LastError = cause.Error()
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record provisioning error")
		return jobs.Done()
	}
	o.notifier.TenantChanged(ctx, t)
	return jobs.Done()
}

// beginProvisioning moves an ERROR tenant back to PROVISIONING and refuses
// every other state except PROVISIONING itself
func beginProvisioning(t *model.Tenant) error {
	switch t.Status {
	case model.StatusProvisioning:
		return errUnchanged
	case model.StatusError:
		t.Status = model.StatusProvisioning
		t.LastError = ""
		return nil
	}
	return fmt.Errorf("%w: cannot provision tenant in %s", ErrInvalidTransition, t.Status)
}

func (o *Orchestrator) markDeleting(ctx context.Context, tenantID uuid.UUID) (*model.Tenant, error) {
	return updateTenant(ctx, o.store, tenantID, func(t *model.Tenant) error {
		switch t.Status {
		case model.StatusSuspended:
			return fmt.Errorf("%w: tenant is already suspended", ErrInvalidTransition)
		case model.StatusDeleting:
			return errUnchanged
		}
		t.Status = model.StatusDeleting
		return nil
	})
}

func (o *Orchestrator) cleanup(ctx context.Context, logger zerolog.Logger, job *jobs.Job) jobs.Outcome {
	t, err := o.markDeleting(ctx, job.TenantID)
	switch {
	case errors.Is(err, store.ErrTenantNotFound):
		logger.Warn().Msg("Tenant no longer exists, dropping cleanup job")
		return jobs.Done()
	case errors.Is(err, ErrInvalidTransition):
		logger.Info().Msg("Tenant already suspended")
		return jobs.Done()
	case err != nil:
		return o.retryCleanup(ctx, logger, job, err, 0)
	}

	names := sortedKeys(t.ResourceIDs)

	var (
		errs      *multierror.Error
		retryable bool
		retryHint time.Duration
	)
	for _, name := range names {
		if job.IsResolved(name) {
			continue
		}
		id := t.ResourceIDs[name]
		err := o.platform.Delete(ctx, id)
		if err == nil || platform.KindOf(err) == platform.KindNotFound {
			job.Resolved = append(job.Resolved, name)
			logger.Debug().Str("service", name).Str("resource_id", id).Msg("Resource deleted")
			continue
		}
		errs = multierror.Append(errs, fmt.Errorf("delete %s (%s): %w", name, id, err))
		if platform.IsRetryable(err) {
			retryable = true
		}
		if hint := platform.RetryAfter(err); hint > retryHint {
			retryHint = hint
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		// Any retryable failure earns another attempt; the rest ride along
		// in the error until they are all that remains
		if retryable {
			return o.retryCleanup(ctx, logger, job, err, retryHint)
		}
		return o.failCleanup(ctx, logger, job, err)
	}

	t, err = updateTenant(ctx, o.store, job.TenantID, func(t *model.Tenant) error {
		t.ResourceIDs = map[string]string{}
		t.Status = model.StatusSuspended
		t.LastError = ""
		return nil
	})
	if err != nil {
		return o.retryCleanup(ctx, logger, job, err, 0)
	}

	logger.Info().Int("resources", len(names)).Msg("Tenant suspended")
	o.record(ctx, t.ID, "cleanup", "succeeded", map[string]any{
		"attempt":  job.Attempt,
		"resolved": job.Resolved,
	})
	o.notifier.TenantChanged(ctx, t)
	return jobs.Done()
}

func (o *Orchestrator) retryCleanup(ctx context.Context, logger zerolog.Logger, job *jobs.Job, cause error, hint time.Duration) jobs.Outcome {
	job.LastError = cause.Error()
	if o.policy.Exhausted(job.Attempt) {
		return o.failCleanup(ctx, logger, job, fmt.Errorf("giving up after %d attempts: %w", job.Attempt, cause))
	}

	o.touch(ctx, logger, job.TenantID)
	delay := o.policy.Delay(job.Attempt)
	if hint > delay {
		delay = hint
	}
	logger.Warn().Err(cause).Dur("delay", delay).Strs("resolved", job.Resolved).Msg("Cleanup attempt failed, will retry")
	o.record(ctx, job.TenantID, "cleanup", "retry", map[string]any{
		"attempt":  job.Attempt,
		"error":    cause.Error(),
		"resolved": job.Resolved,
		"delay":    delay.String(),
	})
	return jobs.RetryIn(delay)
}

// failCleanup leaves the tenant DELETING with the residual error for an
// operator to resolve
func (o *Orchestrator) failCleanup(ctx context.Context, logger zerolog.Logger, job *jobs.Job, cause error) jobs.Outcome {
	logger.Error().Err(cause).Strs("resolved", job.Resolved).Msg("Cleanup failed")
	monitoring.Alert("tenant cleanup needs manual intervention", map[string]string{
		"tenant_id": job.TenantID.String(),
		"error":     cause.Error(),
	})
	o.record(ctx, job.TenantID, "cleanup", "failed", map[string]any{
		"attempt":  job.Attempt,
		"error":    cause.Error(),
		"resolved": job.Resolved,
	})

	t, err := updateTenant(ctx, o.store, job.TenantID, func(t *model.Tenant) error {
		if t.Status != model.StatusDeleting {
			return errUnchanged
		}
		t.LastError = cause.Error()
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record cleanup error")
		return jobs.Done()
	}
	o.notifier.TenantChanged(ctx, t)
	return jobs.Done()
}

func (o *Orchestrator) backoff(attempt int, cause error) time.Duration {
	delay := o.policy.Delay(attempt)
	if hint := platform.RetryAfter(cause); hint > delay {
		delay = hint
	}
	return delay
}

// touch saves the tenant unchanged so its UpdatedAt tracks the retry in
// flight and the reconciler does not treat it as abandoned
func (o *Orchestrator) touch(ctx context.Context, logger zerolog.Logger, tenantID uuid.UUID) {
	if _, err := updateTenant(ctx, o.store, tenantID, func(*model.Tenant) error { return nil }); err != nil {
		logger.Debug().Err(err).Msg("Failed to touch tenant")
	}
}

func formatResourceIDs(ids map[string]string) string {
	pairs := make([]string, 0, len(ids))
	for _, name := range sortedKeys(ids) {
		pairs = append(pairs, name+"="+ids[name])
	}
	return strings.Join(pairs, ",")
}

// record appends to the provisioning log. The log is informational, so
// failures are only reported.
func (o *Orchestrator) record(ctx context.Context, tenantID uuid.UUID, step, status string, details map[string]any) {
	entry := &model.ProvisioningLog{
		TenantID:  tenantID,
		Step:      step,
		Status:    status,
		Details:   details,
		CreatedAt: o.clock.Now(),
	}
	if err := o.store.CreateProvisioningLog(ctx, entry); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID.String()).Str("step", step).Msg("Failed to write provisioning log")
	}
}

// errUnchanged tells updateTenant the mutation was a no-op and nothing needs
// saving
var errUnchanged = errors.New("unchanged")

const maxSaveAttempts = 5

// updateTenant loads the tenant, applies mutate and saves it with a version
// check, reloading and reapplying on conflict
func updateTenant(ctx context.Context, st store.TenantStore, id uuid.UUID, mutate func(*model.Tenant) error) (*model.Tenant, error) {
	for i := 0; i < maxSaveAttempts; i++ {
		t, err := st.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(t); err != nil {
			if errors.Is(err, errUnchanged) {
				return t, nil
			}
			return t, err
		}

		err = st.Save(ctx, t)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("save tenant %s: %w", id, store.ErrConflict)
}
