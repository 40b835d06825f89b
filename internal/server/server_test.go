package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	attributiondomain "github.com/groundsignal/groundsignal/internal/attribution/domain"
	"github.com/groundsignal/groundsignal/internal/authorization"
	backfilldomain "github.com/groundsignal/groundsignal/internal/backfill/domain"
	"github.com/groundsignal/groundsignal/internal/config"
	mismatchdomain "github.com/groundsignal/groundsignal/internal/mismatch/domain"
	reconciliationdomain "github.com/groundsignal/groundsignal/internal/reconciliation/domain"
)

type authzCall struct {
	actor  string
	orgID  string
	object string
	action string
}

type fakeAuthz struct {
	calls []authzCall
	err   error
}

func (f *fakeAuthz) Authorize(_ context.Context, actor, orgID, object, action string) error {
	f.calls = append(f.calls, authzCall{actor: actor, orgID: orgID, object: object, action: action})
	return f.err
}

type fakeBackfillSvc struct {
	triggerErr error
	cancelErr  error
	getErr     error
}

func (f *fakeBackfillSvc) Trigger(_ context.Context, req backfilldomain.TriggerRequest) (*backfilldomain.TriggerResult, error) {
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return &backfilldomain.TriggerResult{JobID: 999, ChunksCreated: 12, EstimatedMinutes: 24}, nil
}

func (f *fakeBackfillSvc) Cancel(context.Context, backfilldomain.CancelRequest) (*backfilldomain.CancelResult, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &backfilldomain.CancelResult{CancelledChunks: 5}, nil
}

func (f *fakeBackfillSvc) GetJob(context.Context, snowflake.ID, snowflake.ID) (*backfilldomain.JobStatus, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &backfilldomain.JobStatus{}, nil
}

func (f *fakeBackfillSvc) Run(context.Context, snowflake.ID) error { return nil }
func (f *fakeBackfillSvc) Resume(context.Context) error            { return nil }

type fakeAttributionSvc struct {
	lastAutoMatch attributiondomain.AutoMatchRequest
}

func (f *fakeAttributionSvc) AutoMatch(_ context.Context, req attributiondomain.AutoMatchRequest) (*attributiondomain.AutoMatchResult, error) {
	f.lastAutoMatch = req
	return &attributiondomain.AutoMatchResult{}, nil
}

func (f *fakeAttributionSvc) BackfillAttribution(context.Context, attributiondomain.BackfillRequest) (*attributiondomain.BackfillResult, error) {
	return &attributiondomain.BackfillResult{}, nil
}

type fakeReconciliationSvc struct {
	lastOrg snowflake.ID
}

func (f *fakeReconciliationSvc) Run(_ context.Context, orgID snowflake.ID) ([]reconciliationdomain.Result, error) {
	f.lastOrg = orgID
	return []reconciliationdomain.Result{{OrgID: 100, Discrepancy: true, BackfillTriggered: true}}, nil
}

type fakeMismatchSvc struct {
	lastDetect mismatchdomain.DetectRequest
}

func (f *fakeMismatchSvc) Detect(_ context.Context, req mismatchdomain.DetectRequest) (*mismatchdomain.DetectResult, error) {
	f.lastDetect = req
	return &mismatchdomain.DetectResult{}, nil
}

type harness struct {
	server      *Server
	authz       *fakeAuthz
	backfill    *fakeBackfillSvc
	attribution *fakeAttributionSvc
	recon       *fakeReconciliationSvc
	mismatch    *fakeMismatchSvc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	h := &harness{
		authz:       &fakeAuthz{},
		backfill:    &fakeBackfillSvc{},
		attribution: &fakeAttributionSvc{},
		recon:       &fakeReconciliationSvc{},
		mismatch:    &fakeMismatchSvc{},
	}
	h.server = NewServer(ServerParams{
		Gin: engine,
		Cfg: config.Config{
			AdminToken:     "admin-token",
			SchedulerToken: "sched-token",
		},
		AuthzSvc:          h.authz,
		BackfillSvc:       h.backfill,
		AttributionSvc:    h.attribution,
		ReconciliationSvc: h.recon,
		MismatchSvc:       h.mismatch,
	})
	return h
}

func (h *harness) request(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.server.Engine().ServeHTTP(w, req)
	return w
}

func asAdmin() map[string]string {
	return map[string]string{"Authorization": "Bearer admin-token"}
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-Id": id}
}

func TestAPI_RejectsUnauthenticatedRequests(t *testing.T) {
	h := newHarness(t)

	w := h.request(t, http.MethodPost, "/api/backfills", `{"org_id":"100"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Error.Type != "unauthorized" {
		t.Fatalf("body = %+v", resp)
	}
}

func TestAPI_RejectsUnparseableUserID(t *testing.T) {
	h := newHarness(t)

	w := h.request(t, http.MethodPost, "/api/backfills", `{"org_id":"100"}`, asUser("not-a-number"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestTriggerBackfill_Accepted(t *testing.T) {
	h := newHarness(t)

	w := h.request(t, http.MethodPost, "/api/backfills", `{"org_id":"100","days_back":365}`, asAdmin())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success          bool   `json:"success"`
		JobID            string `json:"job_id"`
		ChunksCreated    int    `json:"chunks_created"`
		EstimatedMinutes int    `json:"estimated_minutes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.JobID != "999" || resp.ChunksCreated != 12 || resp.EstimatedMinutes != 24 {
		t.Fatalf("body = %+v", resp)
	}

	if len(h.authz.calls) != 1 {
		t.Fatalf("authorize called %d times", len(h.authz.calls))
	}
	call := h.authz.calls[0]
	if call.actor != "system" || call.orgID != "100" ||
		call.object != authorization.ObjectBackfill || call.action != authorization.ActionBackfillTrigger {
		t.Fatalf("authorize call = %+v", call)
	}
}

func TestTriggerBackfill_ValidationErrors(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing org", `{}`},
		{"bad org", `{"org_id":"zero?"}`},
		{"days back out of range", `{"org_id":"100","days_back":4000}`},
		{"chunk size out of range", `{"org_id":"100","chunk_size_days":500}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.request(t, http.MethodPost, "/api/backfills", tc.body, asAdmin())
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Type != "validation_error" {
				t.Fatalf("error type = %s", resp.Error.Type)
			}
		})
	}
}

func TestTriggerBackfill_ForbiddenActor(t *testing.T) {
	h := newHarness(t)
	h.authz.err = authorization.ErrForbidden

	w := h.request(t, http.MethodPost, "/api/backfills", `{"org_id":"100"}`, asUser("42"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if h.authz.calls[0].actor != "user:42" {
		t.Fatalf("actor = %s", h.authz.calls[0].actor)
	}
}

func TestCancelBackfill_CompletedJobConflicts(t *testing.T) {
	h := newHarness(t)
	h.backfill.cancelErr = backfilldomain.ErrJobNotCancellable

	w := h.request(t, http.MethodPost, "/api/backfills/999/cancel", `{"org_id":"100"}`, asAdmin())
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestCancelBackfill_OrgOptionalForAutomatedActors(t *testing.T) {
	h := newHarness(t)

	// Admin may cancel by job id alone.
	w := h.request(t, http.MethodPost, "/api/backfills/999/cancel", `{}`, asAdmin())
	if w.Code != http.StatusOK {
		t.Fatalf("admin cancel status = %d: %s", w.Code, w.Body.String())
	}

	// Members must scope the cancel to their organization.
	w = h.request(t, http.MethodPost, "/api/backfills/999/cancel", `{}`, asUser("42"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("member unscoped cancel status = %d, want 400", w.Code)
	}
}

func TestGetBackfillJob_UnknownJobIs404(t *testing.T) {
	h := newHarness(t)
	h.backfill.getErr = backfilldomain.ErrJobNotFound

	w := h.request(t, http.MethodGet, "/api/backfills/999?org_id=100", "", asAdmin())
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestRunReconciliation_SweepRestrictedToAutomatedActors(t *testing.T) {
	h := newHarness(t)

	// A user may not sweep every organization.
	w := h.request(t, http.MethodPost, "/api/reconciliation/run", `{}`, asUser("42"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("user sweep status = %d, want 403", w.Code)
	}

	// The scheduler may.
	w = h.request(t, http.MethodPost, "/api/reconciliation/run", `{}`,
		map[string]string{"Authorization": "Bearer sched-token"})
	if w.Code != http.StatusOK {
		t.Fatalf("scheduler sweep status = %d: %s", w.Code, w.Body.String())
	}
	if h.recon.lastOrg != 0 {
		t.Fatalf("sweep passed org %d, want 0", h.recon.lastOrg)
	}

	var resp struct {
		Success            bool `json:"success"`
		Organizations      int  `json:"organizations"`
		Discrepancies      int  `json:"discrepancies"`
		BackfillsTriggered int  `json:"backfills_triggered"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Organizations != 1 || resp.Discrepancies != 1 || resp.BackfillsTriggered != 1 {
		t.Fatalf("body = %+v", resp)
	}
}

func TestRunReconciliation_OrgScopedGoesThroughAuthz(t *testing.T) {
	h := newHarness(t)

	w := h.request(t, http.MethodPost, "/api/reconciliation/run", `{"org_id":"100"}`, asUser("42"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if h.recon.lastOrg != 100 {
		t.Fatalf("run org = %d, want 100", h.recon.lastOrg)
	}
	if len(h.authz.calls) != 1 || h.authz.calls[0].action != authorization.ActionReconciliationRun {
		t.Fatalf("authz calls = %+v", h.authz.calls)
	}
}

func TestDetectMismatches_LimitValidation(t *testing.T) {
	h := newHarness(t)

	w := h.request(t, http.MethodPost, "/api/mismatches/detect", `{"org_id":"100","limit":5000}`, asAdmin())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodPost, "/api/mismatches/detect", `{"org_id":"100","limit":50}`, asAdmin())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestAutoMatch_ConfidenceValidation(t *testing.T) {
	h := newHarness(t)

	w := h.request(t, http.MethodPost, "/api/attribution/auto-match", `{"org_id":"100","min_confidence":1.5}`, asAdmin())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodPost, "/api/attribution/auto-match", `{"org_id":"100","min_confidence":0.8}`, asAdmin())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestDryRunDefaultsToTrue(t *testing.T) {
	h := newHarness(t)

	w := h.request(t, http.MethodPost, "/api/attribution/auto-match", `{"org_id":"100"}`, asAdmin())
	if w.Code != http.StatusOK {
		t.Fatalf("auto-match status = %d: %s", w.Code, w.Body.String())
	}
	if !h.attribution.lastAutoMatch.DryRun {
		t.Fatalf("auto-match without dry_run must not write")
	}

	w = h.request(t, http.MethodPost, "/api/mismatches/detect", `{"org_id":"100"}`, asAdmin())
	if w.Code != http.StatusOK {
		t.Fatalf("detect status = %d: %s", w.Code, w.Body.String())
	}
	if !h.mismatch.lastDetect.DryRun {
		t.Fatalf("detect without dry_run must not correct")
	}

	// An explicit false opts into writing.
	w = h.request(t, http.MethodPost, "/api/attribution/auto-match", `{"org_id":"100","dry_run":false}`, asAdmin())
	if w.Code != http.StatusOK {
		t.Fatalf("auto-match status = %d: %s", w.Code, w.Body.String())
	}
	if h.attribution.lastAutoMatch.DryRun {
		t.Fatalf("explicit dry_run=false was ignored")
	}
}
