package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector("conveyor")
	if c.registry == nil {
		t.Fatal("expected registry to be initialized")
	}
}

func TestCollector_Record(t *testing.T) {
	c := NewCollector("conveyor")
	// Should not panic
	c.RecordRun("statics", "push", "succeeded")
	c.RecordRun("statics", "push", "failed")
	c.RecordStageDuration("statics", "test", "run", 150*time.Millisecond)
	c.RecordStageSkipped("statics", "build")
	c.RecordCacheRestore("deps", "miss")
	c.RunStarted()
	c.RunFinished()
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("conveyor")
	c.RecordRun("statics", "push", "succeeded")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "conveyor_runs_total") {
		t.Errorf("expected conveyor_runs_total in output, got:\n%s", body)
	}
}
