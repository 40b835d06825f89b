package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	backfilldomain "github.com/groundsignal/groundsignal/internal/backfill/domain"
	"github.com/groundsignal/groundsignal/internal/clock"
	"github.com/groundsignal/groundsignal/internal/config"
	orgdomain "github.com/groundsignal/groundsignal/internal/organization/domain"
	"github.com/groundsignal/groundsignal/internal/providers/adgraph"
	reconciliationdomain "github.com/groundsignal/groundsignal/internal/reconciliation/domain"
	refcodedomain "github.com/groundsignal/groundsignal/internal/refcode/domain"
	"go.uber.org/zap"
)

type fakeReconciliation struct {
	calls int
	err   error
}

func (f *fakeReconciliation) Run(context.Context, snowflake.ID) ([]reconciliationdomain.Result, error) {
	f.calls++
	return nil, f.err
}

type fakeBackfill struct {
	resumeCalls int
}

func (f *fakeBackfill) Trigger(context.Context, backfilldomain.TriggerRequest) (*backfilldomain.TriggerResult, error) {
	return &backfilldomain.TriggerResult{}, nil
}

func (f *fakeBackfill) Cancel(context.Context, backfilldomain.CancelRequest) (*backfilldomain.CancelResult, error) {
	return &backfilldomain.CancelResult{}, nil
}

func (f *fakeBackfill) GetJob(context.Context, snowflake.ID, snowflake.ID) (*backfilldomain.JobStatus, error) {
	return nil, backfilldomain.ErrJobNotFound
}

func (f *fakeBackfill) Run(context.Context, snowflake.ID) error { return nil }

func (f *fakeBackfill) Resume(context.Context) error {
	f.resumeCalls++
	return nil
}

type emptyOrgs struct{}

func (emptyOrgs) GetOrganization(context.Context, snowflake.ID) (*orgdomain.Organization, error) {
	return nil, orgdomain.ErrOrganizationNotFound
}

func (emptyOrgs) ListWithProcessorCredentials(context.Context) ([]orgdomain.Organization, error) {
	return nil, nil
}

func (emptyOrgs) IsMember(context.Context, snowflake.ID, snowflake.ID) (bool, error) {
	return false, nil
}

type noopMappings struct{}

func (noopMappings) UpsertMapping(context.Context, *refcodedomain.RefcodeMapping) error { return nil }

func (noopMappings) FindMapping(context.Context, snowflake.ID, string) (*refcodedomain.RefcodeMapping, error) {
	return nil, nil
}

func (noopMappings) ListMappings(context.Context, snowflake.ID) ([]refcodedomain.RefcodeMapping, error) {
	return nil, nil
}

func newTestScheduler(t *testing.T, recon *fakeReconciliation, backfill *fakeBackfill, cfg Config) (*Scheduler, *clock.FakeClock) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))

	refresher := adgraph.NewRefresher(adgraph.RefresherParams{
		Client:   adgraph.NewClient(config.Config{}, zap.NewNop()),
		Orgs:     emptyOrgs{},
		Mappings: noopMappings{},
		GenID:    node,
		Clock:    clk,
		Log:      zap.NewNop(),
	})

	s, err := New(Params{
		Log:               zap.NewNop(),
		Clock:             clk,
		ReconciliationSvc: recon,
		BackfillSvc:       backfill,
		Refresher:         refresher,
		Config:            cfg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, clk
}

func defaultTestConfig() Config {
	return Config{
		RunInterval:            time.Second,
		ReconcileInterval:      time.Hour,
		MappingRefreshInterval: 6 * time.Hour,
		JobTimeout:             time.Minute,
	}
}

func TestRunOnce_ResumeEveryTickReconcileGated(t *testing.T) {
	recon := &fakeReconciliation{}
	backfill := &fakeBackfill{}
	s, clk := newTestScheduler(t, recon, backfill, defaultTestConfig())
	ctx := context.Background()

	// First tick: everything is overdue and runs.
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if backfill.resumeCalls != 1 || recon.calls != 1 {
		t.Fatalf("after first tick: resume %d reconcile %d", backfill.resumeCalls, recon.calls)
	}

	// Half an hour later reconcile is not due, resume still runs.
	clk.Advance(30 * time.Minute)
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if backfill.resumeCalls != 2 || recon.calls != 1 {
		t.Fatalf("after second tick: resume %d reconcile %d", backfill.resumeCalls, recon.calls)
	}

	// Past the interval reconcile runs again.
	clk.Advance(31 * time.Minute)
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if recon.calls != 2 {
		t.Fatalf("after third tick: reconcile %d, want 2", recon.calls)
	}
}

func TestRunOnce_FailedReconcileRetriesNextTick(t *testing.T) {
	recon := &fakeReconciliation{err: errors.New("processor unreachable")}
	backfill := &fakeBackfill{}
	s, _ := newTestScheduler(t, recon, backfill, defaultTestConfig())
	ctx := context.Background()

	if err := s.RunOnce(ctx); err == nil {
		t.Fatalf("expected error from failed reconcile")
	}
	if recon.calls != 1 {
		t.Fatalf("reconcile calls = %d", recon.calls)
	}

	// The gate only advances on success, so the very next tick retries.
	recon.err = nil
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if recon.calls != 2 {
		t.Fatalf("reconcile calls = %d, want 2 (retry after failure)", recon.calls)
	}
}

func TestRunOnce_EnabledJobsAllowList(t *testing.T) {
	recon := &fakeReconciliation{}
	backfill := &fakeBackfill{}
	cfg := defaultTestConfig()
	cfg.EnabledJobs = []string{JobBackfillResume}
	s, _ := newTestScheduler(t, recon, backfill, cfg)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if backfill.resumeCalls != 1 {
		t.Fatalf("resume calls = %d", backfill.resumeCalls)
	}
	if recon.calls != 0 {
		t.Fatalf("reconcile ran despite not being on the allow list")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
