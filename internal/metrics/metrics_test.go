package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pozicube/logdy-runner/internal/model"
)

func TestObserveAttempt(t *testing.T) {
	c := NewCollector("test")

	c.ObserveAttempt(model.LaunchAttempt{Port: 10001, Outcome: model.OutcomePortConflict, Probed: true})
	c.ObserveAttempt(model.LaunchAttempt{Port: 10002, Outcome: model.OutcomePortConflict, Duration: 300 * time.Millisecond})
	c.ObserveAttempt(model.LaunchAttempt{Port: 10003, Outcome: model.OutcomeSuccess, Duration: time.Second})

	expected := `
# HELP test_launch_attempts_total Launch attempts by outcome. probed=true means the bind probe rejected the port without spawning.
# TYPE test_launch_attempts_total counter
test_launch_attempts_total{outcome="port_conflict",probed="false"} 1
test_launch_attempts_total{outcome="port_conflict",probed="true"} 1
test_launch_attempts_total{outcome="success",probed="false"} 1
`
	err := testutil.GatherAndCompare(c.registry, strings.NewReader(expected), "test_launch_attempts_total")
	require.NoError(t, err)

	// Probed attempts never spawned, so they have no duration sample.
	count, err := testutil.GatherAndCount(c.registry, "test_launch_attempt_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestObserveAllocation(t *testing.T) {
	c := NewCollector("test")
	c.ObserveAllocation("", 3)
	c.ObserveAllocation(model.KindExhausted, 10)
	c.ObserveAllocation(model.KindExhausted, 10)

	expected := `
# HELP test_allocations_total Completed allocations by result (success or an error kind)
# TYPE test_allocations_total counter
test_allocations_total{result="exhausted"} 2
test_allocations_total{result="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(c.registry, strings.NewReader(expected), "test_allocations_total"))
}

func TestInstancesAndExits(t *testing.T) {
	c := NewCollector("")
	c.SetInstances(2)
	c.InstanceExited()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.instances))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.exits))
}

// TestNilCollector verifies a nil collector is a usable no-op.
func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveAttempt(model.LaunchAttempt{Outcome: model.OutcomeSuccess})
		c.ObserveAllocation(model.KindTimeout, 1)
		c.SetInstances(1)
		c.InstanceExited()
	})
}

func TestHandler(t *testing.T) {
	c := NewCollector("")
	c.SetInstances(1)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "logdy_runner_running_instances 1")
}
