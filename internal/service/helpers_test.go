package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-provisioning-service/internal/blueprint"
	"github.com/teresa-solution/tenant-provisioning-service/internal/jobs"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/platform"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

func transientErr() error {
	return &platform.Error{Kind: platform.KindTransient, Op: "deploy", StatusCode: 503, Message: "service unavailable"}
}

func authErr() error {
	return &platform.Error{Kind: platform.KindAuth, Op: "deploy", StatusCode: 401, Message: "invalid api key"}
}

func notFoundErr() error {
	return &platform.Error{Kind: platform.KindNotFound, Op: "status", StatusCode: 404, Message: "not found"}
}

func rateLimitedErr(after time.Duration) error {
	return &platform.Error{Kind: platform.KindRateLimited, Op: "deploy", StatusCode: 429, RetryAfter: after, Message: "slow down"}
}

// fakePlatform scripts platform responses. Errors queued per call are
// consumed in order; once a queue is empty calls succeed.
type fakePlatform struct {
	mu         sync.Mutex
	deployErrs []error
	deployHook func()
	deploys    int
	lastSpec   *model.DeploymentSpec
	deleteErrs map[string][]error
	deleted    []string
	statuses   map[string]*platform.ResourceStatus
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		deleteErrs: map[string][]error{},
		statuses:   map[string]*platform.ResourceStatus{},
	}
}

func (f *fakePlatform) Deploy(ctx context.Context, spec *model.DeploymentSpec) (*platform.Deployment, error) {
	f.mu.Lock()
	f.deploys++
	f.lastSpec = spec
	hook := f.deployHook
	var err error
	if len(f.deployErrs) > 0 {
		err = f.deployErrs[0]
		f.deployErrs = f.deployErrs[1:]
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(spec.Services))
	for _, svc := range spec.Services {
		ids[svc.LogicalName] = "srv-" + svc.LogicalName
	}
	return &platform.Deployment{ID: "dep-" + spec.TenantSlug, ServiceIDs: ids}, nil
}

func (f *fakePlatform) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if errs := f.deleteErrs[id]; len(errs) > 0 {
		f.deleteErrs[id] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakePlatform) Status(ctx context.Context, id string) (*platform.ResourceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.statuses[id]; ok {
		return st, nil
	}
	return nil, notFoundErr()
}

func (f *fakePlatform) deleteCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.deleted {
		if d == id {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []model.Status
}

func (n *recordingNotifier) TenantChanged(ctx context.Context, t *model.Tenant) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, t.Status)
}

func acmeTemplate() *model.DeploymentTemplate {
	return &model.DeploymentTemplate{Services: []model.ServiceDescriptor{
		{Name: "web", Kind: model.KindWeb, BuildCommand: "npm run build", Env: map[string]string{"PORT": "8080"}},
		{Name: "db", Kind: model.KindDatabase},
	}}
}

type harness struct {
	clock    *clock.Mock
	store    *store.MemoryStore
	queue    *jobs.MemoryQueue
	runner   *jobs.Runner
	platform *fakePlatform
	notes    *recordingNotifier
	orch     *Orchestrator
	svc      *TenantService
}

func newHarness(t *testing.T, tmpl *model.DeploymentTemplate) *harness {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	st := store.NewMemoryStore(mock)
	q := jobs.NewMemoryQueue(mock)
	fp := newFakePlatform()
	notes := &recordingNotifier{}
	orch := NewOrchestrator(st, blueprint.StaticStore{Template: tmpl}, fp, q, DefaultRetryPolicy, mock).WithNotifier(notes)

	r := jobs.NewRunner(q, jobs.NewMemoryLocker(), mock, jobs.Config{Workers: 1, LockRetryDelay: time.Second})
	r.Handle(jobs.KindProvision, orch)
	r.Handle(jobs.KindCleanup, orch)

	return &harness{
		clock:    mock,
		store:    st,
		queue:    q,
		runner:   r,
		platform: fp,
		notes:    notes,
		orch:     orch,
		svc:      NewTenantService(st, orch, fp),
	}
}

// drain runs every job due at the current mock time
func (h *harness) drain(t *testing.T) {
	t.Helper()
	_, err := h.runner.ProcessDue(context.Background())
	require.NoError(t, err)
}

// advance moves the clock to the next scheduled job, runs it and returns the
// delay that was waited
func (h *harness) advance(t *testing.T) time.Duration {
	t.Helper()
	due, ok := h.queue.NextDue()
	require.True(t, ok, "no job scheduled")
	d := due.Sub(h.clock.Now())
	h.clock.Add(d)
	h.drain(t)
	return d
}

// seed stores a tenant in the given state without queuing work
func (h *harness) seed(t *testing.T, slug string, status model.Status, resources map[string]string) *model.Tenant {
	t.Helper()
	ctx := context.Background()
	tenant := &model.Tenant{Slug: slug, Name: "Tenant " + slug, Status: model.StatusProvisioning}
	require.NoError(t, h.store.Create(ctx, tenant))
	tenant.Status = status
	tenant.ResourceIDs = resources
	require.NoError(t, h.store.Save(ctx, tenant))
	return tenant
}

func (h *harness) tenant(t *testing.T, tenant *model.Tenant) *model.Tenant {
	t.Helper()
	got, err := h.store.Get(context.Background(), tenant.ID)
	require.NoError(t, err)
	return got
}
