package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/snowrunner/internal/grid"
	"github.com/chrissnell/snowrunner/internal/scheduler"
	"github.com/chrissnell/snowrunner/internal/state"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

var _ scheduler.Observer = (*Tracker)(nil)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dates(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func TestTrackerProgress(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(func(i, j int) bool { return j == 0 })
	if tr.Snapshot().State != StateIdle {
		t.Fatal("new tracker not idle")
	}
	tr.Begin("run-1", dates(4))

	st := state.Zero(2, 2)
	grid.Fill(st.Depth, 5) // outside the domain column
	st.Depth.Set(0, 0, 1)
	st.Depth.Set(1, 0, 2)
	st.SpecificMass.Set(0, 0, 300)
	st.SpecificMass.Set(1, 0, 500)

	tr.StepCompleted(ctx, base.Add(time.Hour), 1, st)
	tr.StateCorrected(ctx, base.Add(2*time.Hour), 2)
	tr.StepCompleted(ctx, base.Add(2*time.Hour), 2, st)
	tr.OutputFlushed(ctx, base.Add(3*time.Hour), 3)
	tr.StepCompleted(ctx, base.Add(3*time.Hour), 3, st)

	p := tr.Snapshot()
	tests := []struct {
		name      string
		got, want interface{}
	}{
		{"state", p.State, StateComplete},
		{"step", p.Step, 3},
		{"total", p.TotalSteps, 3},
		{"flushes", p.Flushes, 1},
		{"corrections", p.Corrections, 1},
		{"last output", p.LastOutput, base.Add(3 * time.Hour)},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if math.Abs(p.MeanDepth-1.5) > 1e-9 || math.Abs(p.MeanSWE-400) > 1e-9 {
		t.Fatalf("summaries %v m, %v mm", p.MeanDepth, p.MeanSWE)
	}
}

func TestStatusEndpoints(t *testing.T) {
	tr := NewTracker(nil)
	tr.Begin("run-2", dates(10))
	tr.StepCompleted(context.Background(), base.Add(time.Hour), 1, state.Zero(1, 1))

	var wg sync.WaitGroup
	srv := NewServer(context.Background(), &wg, "127.0.0.1:0", tr, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	var p Progress
	err = json.NewDecoder(resp.Body).Decode(&p)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decoding json: %v", err)
	}
	if p.RunID != "run-2" || p.Step != 1 || p.State != StateRunning {
		t.Fatalf("unexpected progress %+v", p)
	}

	resp, err = http.Get(ts.URL + "/status?format=msgpack")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "application/x-msgpack" {
		t.Fatalf("content type %q", resp.Header.Get("Content-Type"))
	}
	var mp map[string]interface{}
	if err := msgpack.Unmarshal(buf.Bytes(), &mp); err != nil {
		t.Fatalf("decoding msgpack: %v", err)
	}
	if mp["run_id"] != "run-2" {
		t.Fatalf("msgpack body %v", mp)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz %d while running", resp.StatusCode)
	}

	tr.RunFailed(context.Background(), base.Add(2*time.Hour), 2, errors.New("kernel status 4"))
	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz %d after failure", resp.StatusCode)
	}
}

func TestServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	srv := NewServer(ctx, &wg, "127.0.0.1:0", NewTracker(nil), zap.NewNop().Sugar())
	srv.Start()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("status server did not stop")
	}
}
