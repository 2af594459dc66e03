// ABOUTME: httptest coverage of the ops API: healthz, metrics, enqueue/get/list.
// ABOUTME: Runs against the memory queue; validation errors map to 400/422.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/api"
	"github.com/mcastro2021/nexa-worker/internal/queue"
)

func newTestServer(t *testing.T) (*httptest.Server, *queue.Memory) {
	t.Helper()
	q := queue.NewMemory()
	ts := httptest.NewServer(api.NewServer(q, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, q
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestEnqueueJob(t *testing.T) {
	t.Parallel()
	ts, q := newTestServer(t)

	body := `{"queue":"alerts","kind":"stock-low","payload":{"stock_item_id":"` + uuid.NewString() + `"},"delay_seconds":60}`
	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /api/v1/jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var out map[string]uuid.UUID
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	job, err := q.Get(context.Background(), out["id"])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job == nil {
		t.Fatal("enqueued job not found in queue")
	}
	if job.Queue != queue.QueueAlerts || job.Kind != queue.KindStockLow {
		t.Errorf("job = %s/%s", job.Queue, job.Kind)
	}
	// delay_seconds must keep the job invisible for now.
	if ready, _ := q.DequeueReady(context.Background(), queue.QueueAlerts, 10); len(ready) != 0 {
		t.Errorf("delayed job was claimable immediately")
	}
}

func TestEnqueueJob_Validation(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"queue": `, http.StatusBadRequest},
		{"missing kind", `{"queue":"alerts"}`, http.StatusUnprocessableEntity},
		{"missing queue", `{"kind":"stock-low"}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewBufferString(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	t.Parallel()
	ts, q := newTestServer(t)

	id, err := q.Enqueue(context.Background(), queue.Job{
		Queue: queue.QueueReports, Kind: queue.KindDailySummary, Recurrence: "0 8 * * *",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + id.String())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var job struct {
		ID         uuid.UUID   `json:"id"`
		Queue      string      `json:"queue"`
		Kind       string      `json:"kind"`
		State      queue.State `json:"state"`
		Recurrence string      `json:"recurrence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != id || job.Queue != queue.QueueReports || job.State != queue.StatePending {
		t.Errorf("job = %+v", job)
	}
	if job.Recurrence != "0 8 * * *" {
		t.Errorf("recurrence = %q", job.Recurrence)
	}
}

func TestGetJob_Errors(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	cases := []struct {
		path string
		want int
	}{
		{"/api/v1/jobs/not-a-uuid", http.StatusBadRequest},
		{"/api/v1/jobs/" + uuid.NewString(), http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := http.Get(ts.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("GET %s status = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	ts, q := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, queue.Job{Queue: queue.QueueAlerts, Kind: queue.KindStockLow}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := q.Enqueue(ctx, queue.Job{Queue: queue.QueueReports, Kind: queue.KindDailySummary}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	list := func(t *testing.T, rawQuery string) []json.RawMessage {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/v1/jobs?" + rawQuery)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var out struct {
			Jobs []json.RawMessage `json:"jobs"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out.Jobs
	}

	if got := list(t, "queue=alerts"); len(got) != 3 {
		t.Errorf("alerts jobs = %d, want 3", len(got))
	}
	if got := list(t, "state=pending"); len(got) != 4 {
		t.Errorf("pending jobs = %d, want 4", len(got))
	}
	if got := list(t, "limit=2"); len(got) != 2 {
		t.Errorf("limited jobs = %d, want 2", len(got))
	}
}

func TestListJobs_BadLimit(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	for _, limit := range []string{"0", "-1", "201", "abc"} {
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/jobs?limit=%s", ts.URL, limit))
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, resp.StatusCode)
		}
	}
}
