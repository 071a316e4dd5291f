package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/queuesched/api"
	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/store/memory"
)

func newServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	a := api.New(st, api.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func enqueue(t *testing.T, st *memory.Store, id string) {
	t.Helper()
	err := st.EnqueueJob(context.Background(), "", distributed.WritableJob{
		JobID:      id,
		QueueName:  "general",
		JobName:    "send-email",
		JobContext: json.RawMessage(`{"to":"a@example.com"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, method, url string) (*http.Response, api.Response) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body api.Response
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp, body
}

func TestGetJob(t *testing.T) {
	srv, st := newServer(t)
	enqueue(t, st, "job_1")

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/jobs/job_1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
	}
	data, _ := body.Data.(map[string]any)
	if data["job_id"] != "job_1" || data["job_name"] != "send-email" || data["status"] != "scheduled" {
		t.Fatalf("data = %v", body.Data)
	}
}

func TestGetJobStatus(t *testing.T) {
	srv, st := newServer(t)
	enqueue(t, st, "job_1")

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{name: "known", path: "/v1/jobs/job_1/status", wantStatus: http.StatusOK},
		{name: "unknown", path: "/v1/jobs/nope/status", wantStatus: http.StatusNotFound, wantCode: api.CodeNotFound},
		{name: "unknown row", path: "/v1/jobs/nope", wantStatus: http.StatusNotFound, wantCode: api.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodGet, srv.URL+tt.path)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantCode != "" {
				if body.Error == nil || body.Error.Code != tt.wantCode {
					t.Fatalf("error = %+v, want code %s", body.Error, tt.wantCode)
				}
				return
			}
			data, _ := body.Data.(map[string]any)
			if data["status"] != string(distributed.StatusScheduled) {
				t.Fatalf("data = %v", body.Data)
			}
		})
	}
}

func TestCancelJob(t *testing.T) {
	srv, st := newServer(t)
	ctx := context.Background()
	enqueue(t, st, "job_1")

	resp, _ := do(t, http.MethodDelete, srv.URL+"/v1/jobs/job_1")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if _, err := st.GetJobStatus(ctx, "job_1"); !errors.Is(err, distributed.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}

	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/jobs/job_1")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelJob_RefusesProcessing(t *testing.T) {
	srv, st := newServer(t)
	ctx := context.Background()
	enqueue(t, st, "job_1")

	worker, err := st.RegisterWorker(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed, err := st.ClaimOwnership(ctx, worker, 1, time.Minute); err != nil || len(claimed) != 1 {
		t.Fatalf("claim = %d, %v", len(claimed), err)
	}

	resp, body := do(t, http.MethodDelete, srv.URL+"/v1/jobs/job_1")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != api.CodeConflict {
		t.Fatalf("error = %+v", body.Error)
	}
	if got, _ := st.GetJobStatus(ctx, "job_1"); got != distributed.StatusProcessing {
		t.Fatalf("status = %q, want processing", got)
	}
}

func TestRetryJob(t *testing.T) {
	srv, st := newServer(t)
	ctx := context.Background()
	enqueue(t, st, "job_1")

	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/jobs/job_1/retry")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("retry of scheduled job: status = %d, want 404", resp.StatusCode)
	}

	worker, _ := st.RegisterWorker(ctx)
	if _, err := st.ClaimOwnership(ctx, worker, 1, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := st.ErrorOwnedJob(ctx, worker, "job_1", distributed.NewErrorReason(errors.New("boom"))); err != nil {
		t.Fatal(err)
	}

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/jobs/job_1/retry")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%+v)", resp.StatusCode, body.Error)
	}
	j, err := st.GetJob(ctx, "job_1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != distributed.StatusScheduled || j.RetryAttempts != 0 || j.LatestError != nil {
		t.Fatalf("row after retry = %+v", j)
	}
}

func TestListWorkersAndHealth(t *testing.T) {
	srv, st := newServer(t)
	if _, err := st.RegisterWorker(context.Background()); err != nil {
		t.Fatal(err)
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/workers")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if workers, _ := body.Data.([]any); len(workers) != 1 {
		t.Fatalf("workers = %v", body.Data)
	}
	if body.RequestID == "" {
		t.Error("expected request id")
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/health")
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Fatalf("health = %d %+v", resp.StatusCode, body)
	}
}
