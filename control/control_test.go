package control_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/momentics/hioload-mq/control"
)

func TestMetricsCounters(t *testing.T) {
	m := control.NewMetrics(control.MetricsConfig{})
	m.MessageSent("PUSH", 2, 10)
	m.MessageSent("PUSH", 1, 5)
	m.MessageReceived("PULL", 15)
	m.DroppedMessage("PUB", control.DropHWM)
	m.SocketOpened("PUSH")
	m.SocketOpened("PULL")
	m.SocketClosed("PULL")

	expected := `
# HELP hioload_mq_messages_sent_total Messages accepted by Send, by socket type
# TYPE hioload_mq_messages_sent_total counter
hioload_mq_messages_sent_total{socket_type="PUSH"} 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "hioload_mq_messages_sent_total"); err != nil {
		t.Error(err)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "hioload_mq_messages_dropped_total"); err != nil || n != 1 {
		t.Errorf("dropped series %d (%v), want 1", n, err)
	}
}

func TestMetricsPrivateRegistries(t *testing.T) {
	a := control.NewMetrics(control.MetricsConfig{})
	b := control.NewMetrics(control.MetricsConfig{})
	a.SocketOpened("PAIR")
	if a.Registry() == b.Registry() {
		t.Fatal("contexts share a registry")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := control.NewMetrics(control.MetricsConfig{Namespace: "test"})
	m.Reconnect("tcp")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `test_reconnects_total{transport="tcp"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })
	state := dp.DumpState()
	if state["answer"] != 42 {
		t.Errorf("probe output %v", state["answer"])
	}
	if _, ok := state["platform.cpus"]; !ok {
		t.Error("platform probes missing")
	}
	dp.UnregisterProbe("answer")
	for _, n := range dp.Names() {
		if n == "answer" {
			t.Error("probe not removed")
		}
	}
}

func TestConfigStoreReload(t *testing.T) {
	cs := control.NewConfigStore()
	var seen map[string]any
	cs.OnReload(func(snap map[string]any) { seen = snap })
	cs.SetConfig(map[string]any{"log.level": "debug"})
	if seen["log.level"] != "debug" {
		t.Errorf("listener saw %v", seen)
	}
	if v, ok := cs.Get("log.level"); !ok || v != "debug" {
		t.Errorf("Get returned %v, %v", v, ok)
	}
}

func TestConfigStoreListenersNotifiedInOrder(t *testing.T) {
	cs := control.NewConfigStore()
	var order []int
	cs.OnReload(func(map[string]any) { order = append(order, 1) })
	cs.OnReload(func(map[string]any) {
		order = append(order, 2)
		// Registering from a listener must not deadlock or join this round.
		cs.OnReload(func(map[string]any) { order = append(order, 3) })
	})
	cs.SetConfig(map[string]any{"io_threads": 2})
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("first round order %v", order)
	}
	order = nil
	cs.SetConfig(map[string]any{"io_threads": 3})
	if len(order) != 3 || order[2] != 3 {
		t.Errorf("second round order %v", order)
	}
}
