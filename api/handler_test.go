package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GoCodeAlone/conveyor/cache"
	"github.com/GoCodeAlone/conveyor/deploy"
	"github.com/GoCodeAlone/conveyor/metrics"
	"github.com/GoCodeAlone/conveyor/pipeline"
	"github.com/GoCodeAlone/conveyor/promotion"
	"github.com/GoCodeAlone/conveyor/registry"
	"github.com/GoCodeAlone/conveyor/runner"
	"github.com/GoCodeAlone/conveyor/scheduler"
	"github.com/GoCodeAlone/conveyor/secrets"
	"github.com/GoCodeAlone/conveyor/trigger"
)

const testPipeline = `
name: statics
stages:
  - name: test
    action: run
    image: rust:1.31
    commands: ["cargo test"]
    when:
      events: [pull_request, push, tag]
`

func newTestScheduler(t *testing.T, r runner.CommandRunner) *scheduler.Scheduler {
	t.Helper()

	def, err := pipeline.Load([]byte(testPipeline))
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		r = runner.NewFakeRunner()
	}
	sched, err := scheduler.New(def, scheduler.Options{
		Model:   promotion.NewModel("statics"),
		Secrets: secrets.NewResolver(secrets.NewStaticStore()),
		Cache:   cache.NewMounter(cache.NewLocalStore(t.TempDir())),
		Runner:  r,
		Builder: runner.NewFakeBuilder(),
		Pusher:  registry.NewFakePusher(),
		Target:  deploy.NewFakeTarget(),
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return sched
}

func newTestServer(t *testing.T, sched *scheduler.Scheduler, maxConcurrent int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(sched, metrics.NewCollector("conveyor"), maxConcurrent).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postTrigger(t *testing.T, srv *httptest.Server, ev trigger.Event) *http.Response {
	t.Helper()
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/api/triggers", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func waitForRun(t *testing.T, sched *scheduler.Scheduler, id string) scheduler.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if run, ok := sched.Get(id); ok && run.Status != scheduler.RunStatusRunning {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return scheduler.Run{}
}

func TestSubmitTrigger(t *testing.T) {
	sched := newTestScheduler(t, nil)
	srv := newTestServer(t, sched, 4)

	resp := postTrigger(t, srv, trigger.Event{Kind: trigger.KindPush, Branch: "feature/x", BuildNumber: 7})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var run scheduler.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.ID == "" {
		t.Fatal("expected a run ID")
	}

	finished := waitForRun(t, sched, run.ID)
	if finished.Status != scheduler.RunStatusSucceeded {
		t.Errorf("expected succeeded, got %s: %s", finished.Status, finished.Error)
	}
}

func TestSubmitTrigger_InvalidEvent(t *testing.T) {
	sched := newTestScheduler(t, nil)
	srv := newTestServer(t, sched, 4)

	resp := postTrigger(t, srv, trigger.Event{Kind: "cron", BuildNumber: 1})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// blockingRunner holds every exec until released, to pin runs in the
// running state.
type blockingRunner struct {
	release chan struct{}
}

func (b *blockingRunner) Exec(ctx context.Context, _ runner.ExecSpec) (*runner.ExecResult, error) {
	select {
	case <-b.release:
		return &runner.ExecResult{ExitCode: 0}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSubmitTrigger_CapacityExhausted(t *testing.T) {
	blocker := &blockingRunner{release: make(chan struct{})}
	sched := newTestScheduler(t, blocker)
	srv := newTestServer(t, sched, 1)

	first := postTrigger(t, srv, trigger.Event{Kind: trigger.KindPush, Branch: "master", BuildNumber: 1})
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", first.StatusCode)
	}

	second := postTrigger(t, srv, trigger.Event{Kind: trigger.KindPush, Branch: "master", BuildNumber: 2})
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", second.StatusCode)
	}

	close(blocker.release)
}

func TestGetRun(t *testing.T) {
	sched := newTestScheduler(t, nil)
	srv := newTestServer(t, sched, 4)

	resp := postTrigger(t, srv, trigger.Event{Kind: trigger.KindPush, Branch: "feature/x", BuildNumber: 7})
	var run scheduler.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	waitForRun(t, sched, run.ID)

	got, err := http.Get(srv.URL + "/api/runs/" + run.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", got.StatusCode)
	}

	missing, err := http.Get(srv.URL + "/api/runs/no-such-run")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", missing.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	sched := newTestScheduler(t, nil)
	srv := newTestServer(t, sched, 4)

	resp := postTrigger(t, srv, trigger.Event{Kind: trigger.KindPush, Branch: "feature/x", BuildNumber: 7})
	var run scheduler.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	waitForRun(t, sched, run.ID)

	list, err := http.Get(srv.URL + "/api/runs")
	if err != nil {
		t.Fatal(err)
	}
	defer list.Body.Close()

	var payload struct {
		Items []scheduler.Run `json:"items"`
		Total int             `json:"total"`
	}
	if err := json.NewDecoder(list.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Total != 1 || len(payload.Items) != 1 {
		t.Errorf("expected 1 run, got %d", payload.Total)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	sched := newTestScheduler(t, nil)
	srv := newTestServer(t, sched, 4)

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from healthz, got %d", health.StatusCode)
	}

	m, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	m.Body.Close()
	if m.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from metrics, got %d", m.StatusCode)
	}
}
