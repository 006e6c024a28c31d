package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names the work a job performs
type Kind string

const (
	KindProvision Kind = "provision"
	KindCleanup   Kind = "cleanup"
)

// Job is one queued unit of work against a tenant. It lives only in the
// queue for the duration of a retry sequence.
type Job struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Kind     Kind      `json:"kind"`
	// Attempt is 1-based
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`
	// Resolved lists cleanup resources already deleted by earlier attempts
	Resolved []string `json:"resolved,omitempty"`
	// DeploymentID and Deployed hold a deployment that succeeded remotely but
	// has not been recorded on the tenant yet
	DeploymentID string            `json:"deployment_id,omitempty"`
	Deployed     map[string]string `json:"deployed,omitempty"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
}

// New creates the first attempt of a job
func New(kind Kind, tenantID uuid.UUID, now time.Time) *Job {
	return &Job{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Kind:       kind,
		Attempt:    1,
		EnqueuedAt: now,
	}
}

// IsResolved reports whether a cleanup attempt already handled name
func (j *Job) IsResolved(name string) bool {
	for _, r := range j.Resolved {
		if r == name {
			return true
		}
	}
	return false
}

// LockKey is the per-tenant mutual exclusion key
func LockKey(tenantID uuid.UUID) string {
	return "tenant:" + tenantID.String()
}

// Outcome tells the runner what to do with a job after its handler returns
type Outcome struct {
	Retry bool
	Delay time.Duration
}

// Done completes the job
func Done() Outcome { return Outcome{} }

// RetryIn reschedules the job as its next attempt after d
func RetryIn(d time.Duration) Outcome { return Outcome{Retry: true, Delay: d} }

// Handler executes jobs. Handlers never return errors: every failure is
// folded into the Outcome or recorded on the tenant.
type Handler interface {
	Handle(ctx context.Context, job *Job) Outcome
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *Job) Outcome

func (f HandlerFunc) Handle(ctx context.Context, job *Job) Outcome { return f(ctx, job) }
