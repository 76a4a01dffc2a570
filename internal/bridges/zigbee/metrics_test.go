package zigbee

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	pending := 2
	m := NewMetrics(reg, func() int { return pending }, func() bool { return true })

	m.NodeSeen(true)
	m.NodeSeen(false)
	m.NodeSeen(false)
	m.EnumerationRequested(false)
	m.EnumerationRequested(true)
	m.EndpointResolved()
	m.DeviceBound(CategoryOnOff)
	m.EventPublished(CategoryMetering)
	m.EventsDropped(0)
	m.EventsDropped(3)
	m.Command(true)
	m.Command(false)
	m.PairingOpened()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"new nodes", testutil.ToFloat64(m.nodesSeen.WithLabelValues("true")), 1},
		{"known nodes", testutil.ToFloat64(m.nodesSeen.WithLabelValues("false")), 2},
		{"retries", testutil.ToFloat64(m.enumerations.WithLabelValues("retry")), 1},
		{"endpoints", testutil.ToFloat64(m.endpoints), 1},
		{"bound on/off", testutil.ToFloat64(m.devicesBound.WithLabelValues("238")), 1},
		{"metering events", testutil.ToFloat64(m.events.WithLabelValues("243")), 1},
		{"dropped", testutil.ToFloat64(m.eventsDropped), 3},
		{"failed commands", testutil.ToFloat64(m.commands.WithLabelValues("failed")), 1},
		{"pairing open", testutil.ToFloat64(m.pairingOpen), 1},
		{"pending retries", testutil.ToFloat64(m.pendingRetries), 2},
		{"coordinator", testutil.ToFloat64(m.coordinatorLink), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	m.PairingClosed()
	if got := testutil.ToFloat64(m.pairingOpen); got != 0 {
		t.Errorf("pairing open after close = %v, want 0", got)
	}
}

func TestMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg, nil, nil)

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	// Unlabelled collectors report immediately; vectors only once used.
	if n != 4 {
		t.Errorf("gathered %d series, want 4", n)
	}

	defer func() {
		if recover() == nil {
			t.Error("registering twice on one registry should panic")
		}
	}()
	NewMetrics(reg, nil, nil)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.NodeSeen(true)
	m.EnumerationRequested(true)
	m.EndpointResolved()
	m.DeviceBound(CategoryOnOff)
	m.EventPublished(CategoryOnOff)
	m.EventsDropped(1)
	m.Command(true)
	m.PairingOpened()
	m.PairingClosed()
}
