package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hylla/canetrack/internal/adapters/server/common"
	"github.com/hylla/canetrack/internal/adapters/storage/demo"
	"github.com/hylla/canetrack/internal/app"
)

// stubService returns one configured error from every call.
type stubService struct {
	common.WorkspaceService
	res common.MutationView
	err error
}

// AdvanceWorkPackage returns the configured result.
func (s *stubService) AdvanceWorkPackage(context.Context, common.NodeRef) (common.MutationView, error) {
	return s.res, s.err
}

// newTestHandler builds a handler over a real workspace backed by the in-memory demo store.
func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	n := 0
	ws := app.NewWorkspace(
		demo.NewMemoryStore(),
		func() string { n++; return fmt.Sprintf("gen-%d", n) },
		func() time.Time { return now },
		nil,
		app.WorkspaceConfig{},
	)
	if err := ws.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return NewHandler(common.NewWorkspaceAdapter(ws))
}

// do sends one request with an optional JSON body.
func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decodeBody decodes one JSON response body into the requested type.
func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return out
}

// TestHandlerTreeLifecycle verifies create, update, advance, and delete across all three levels.
func TestHandlerTreeLifecycle(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/blocs", `{"id":"b1","name":"North","area_hectares":8,"planting_date":"2026-03-01"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /blocs status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/blocs/b1/operations", `{"id":"o1","product_name":"Urea","est_product_cost":"250.50"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST operations status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/blocs/b1/operations/o1/work-packages", `{"id":"w1","area":2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST work-packages status = %d, body %s", rec.Code, rec.Body.String())
	}

	forest := decodeBody[common.ForestView](t, do(t, h, http.MethodGet, "/blocs", ""))
	if len(forest.Blocs) != 1 || len(forest.Blocs[0].Operations[0].WorkPackages) != 1 {
		t.Fatalf("unexpected forest %#v", forest)
	}
	if forest.Blocs[0].Operations[0].WorkPackages[0].Date != "2026-04-01" {
		t.Fatalf("work package date = %q, want today", forest.Blocs[0].Operations[0].WorkPackages[0].Date)
	}

	for range 2 {
		rec = do(t, h, http.MethodPost, "/blocs/b1/operations/o1/work-packages/w1/advance", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("advance status = %d, body %s", rec.Code, rec.Body.String())
		}
	}
	res := decodeBody[common.MutationView](t, rec)
	if res.Bloc == nil || res.Bloc.Progress != 25 {
		t.Fatalf("progress after completing 2 of 8 ha = %#v, want 25", res.Bloc)
	}

	rec = do(t, h, http.MethodPatch, "/blocs/b1", `{"field":"name","value":"North Field"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH bloc status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPatch, "/blocs/b1/operations/o1", `{"field":"planned_rate","value":"3.5"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH operation status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodDelete, "/blocs/b1/operations/o1/work-packages/w1?confirm=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE work package status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodDelete, "/blocs/b1", `{"confirmation":"delete bloc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE bloc status = %d, body %s", rec.Code, rec.Body.String())
	}

	changes := decodeBody[map[string][]common.ChangeEventView](t, do(t, h, http.MethodGet, "/changes?limit=1", ""))
	if len(changes["events"]) != 1 || changes["events"][0].Operation != "delete" {
		t.Fatalf("unexpected changes %#v", changes)
	}
}

// TestHandlerErrorMapping verifies status codes and envelope codes for rejected requests.
func TestHandlerErrorMapping(t *testing.T) {
	h := newTestHandler(t)
	if rec := do(t, h, http.MethodPost, "/blocs", `{"id":"b1","name":"North","area_hectares":8}`); rec.Code != http.StatusCreated {
		t.Fatalf("seed bloc status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/blocs/b1/operations", `{"id":"o1","product_name":"Urea"}`); rec.Code != http.StatusCreated {
		t.Fatalf("seed operation status = %d", rec.Code)
	}

	cases := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"validation", http.MethodPost, "/blocs", `{"name":"","area_hectares":-1}`, http.StatusBadRequest, "invalid_request"},
		{"unknown json field", http.MethodPost, "/blocs", `{"name":"x","area_hectares":1,"colour":"red"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown bloc", http.MethodPatch, "/blocs/nope", `{"field":"name","value":"x"}`, http.StatusNotFound, "not_found"},
		{"wrong phrase", http.MethodDelete, "/blocs/b1", `{"confirmation":"DELETE BLOC"}`, http.StatusPreconditionFailed, "confirmation_required"},
		{"missing phrase", http.MethodPost, "/blocs/b1/retire", "", http.StatusPreconditionFailed, "confirmation_required"},
		{"unconfirmed operation delete", http.MethodDelete, "/blocs/b1/operations/o1", "", http.StatusPreconditionFailed, "confirmation_required"},
		{"bad confirm flag", http.MethodDelete, "/blocs/b1/operations/o1?confirm=maybe", "", http.StatusBadRequest, "invalid_request"},
		{"bad limit", http.MethodGet, "/changes?limit=-3", "", http.StatusBadRequest, "invalid_request"},
		{"unknown route", http.MethodGet, "/farms", "", http.StatusNotFound, "not_found"},
		{"wrong method", http.MethodPut, "/blocs/b1", `{}`, http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tc.wantStatus, rec.Body.String())
			}
			env := decodeBody[ErrorEnvelope](t, rec)
			if env.Error.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", env.Error.Code, tc.wantCode)
			}
		})
	}

	forest := decodeBody[common.ForestView](t, do(t, h, http.MethodGet, "/blocs", ""))
	if len(forest.Blocs) != 1 || len(forest.Blocs[0].Operations) != 1 {
		t.Fatalf("rejected requests changed state: %#v", forest)
	}
}

// TestHandlerValidationFieldContext verifies field errors are listed in the envelope context.
func TestHandlerValidationFieldContext(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/blocs", `{"name":"","area_hectares":0}`)
	env := decodeBody[ErrorEnvelope](t, rec)
	fields, ok := env.Error.Context["fields"].([]any)
	if !ok || len(fields) < 2 {
		t.Fatalf("context fields = %#v, want name and area", env.Error.Context)
	}
}

// TestHandlerPersistenceErrors verifies persistence and conflict failures carry reconcile state.
func TestHandlerPersistenceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"persistence", errors.Join(common.ErrPersistenceFailed, errors.New("disk full")), http.StatusBadGateway, "persistence_failed"},
		{"conflict", errors.Join(common.ErrVersionConflict, common.ErrPersistenceFailed), http.StatusConflict, "version_conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&stubService{res: common.MutationView{Applied: true, Reconciled: true}, err: tc.err})
			rec := do(t, h, http.MethodPost, "/blocs/b1/operations/o1/work-packages/w1/advance", "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			env := decodeBody[ErrorEnvelope](t, rec)
			if env.Error.Code != tc.wantCode || env.Error.Context["reconciled"] != true {
				t.Fatalf("unexpected envelope %#v", env.Error)
			}
		})
	}
}

// TestHandlerServiceUnavailable verifies a nil service fails closed.
func TestHandlerServiceUnavailable(t *testing.T) {
	rec := do(t, NewHandler(nil), http.MethodGet, "/blocs", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
