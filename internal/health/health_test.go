package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "endpoint", Check: func(context.Context) error {
		return errors.New("not connected")
	}})

	rec := serve(t, h, "/healthz")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	okCheck := func(context.Context) error { return nil }
	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     result
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     result{Status: "ok"},
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "endpoint", Check: okCheck},
				{Name: "transcripts", Check: okCheck},
			},
			wantCode: http.StatusOK,
			want:     result{Status: "ok", Checks: map[string]string{"endpoint": "ok", "transcripts": "ok"}},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "endpoint", Check: func(context.Context) error { return errors.New("disconnected") }},
				{Name: "transcripts", Check: okCheck},
			},
			wantCode: http.StatusServiceUnavailable,
			want:     result{Status: "fail", Checks: map[string]string{"endpoint": "fail: disconnected", "transcripts": "ok"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, New(tc.checkers...), "/readyz")
			if rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			body := decode(t, rec)
			if body.Status != tc.want.Status {
				t.Errorf("status = %q, want %q", body.Status, tc.want.Status)
			}
			for k, v := range tc.want.Checks {
				if body.Checks[k] != v {
					t.Errorf("check %s = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CheckerSeesDeadline(t *testing.T) {
	t.Parallel()
	var hasDeadline bool
	h := New(Checker{Name: "endpoint", Check: func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}})

	serve(t, h, "/readyz")

	if !hasDeadline {
		t.Error("checker context has no deadline")
	}
}

func TestStatusz(t *testing.T) {
	t.Parallel()
	h := New().WithStatus(func() any {
		return map[string]string{"connection_state": "connected", "session_state": "listening"}
	})

	rec := serve(t, h, "/statusz")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["session_state"] != "listening" || got["connection_state"] != "connected" {
		t.Errorf("body = %v", got)
	}
}

func TestStatusz_NotConfigured(t *testing.T) {
	t.Parallel()
	rec := serve(t, New(), "/statusz")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStatusz_EncodingFailure(t *testing.T) {
	t.Parallel()
	h := New().WithStatus(func() any { return func() {} })

	rec := serve(t, h, "/statusz")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
