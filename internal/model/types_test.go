package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPortRange_Validate checks the 1024 <= start <= end <= 65535 invariant,
// including the boundary values on both ends.
func TestPortRange_Validate(t *testing.T) {
	tests := []struct {
		name    string
		r       PortRange
		wantErr string
	}{
		{"default range", DefaultPortRange(), ""},
		{"single port", PortRange{Start: 10001, End: 10001}, ""},
		{"full legal span", PortRange{Start: MinPort, End: MaxPort}, ""},
		{"start below minimum", PortRange{Start: 80, End: 10099}, "start 80 out of range"},
		{"end above maximum", PortRange{Start: 10001, End: 70000}, "end 70000 out of range"},
		{"inverted", PortRange{Start: 10099, End: 10001}, "greater than end"},
		{"zero value", PortRange{}, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestPortRange_SizeAndContains verifies the helper arithmetic used by the
// allocator to bound its loop.
func TestPortRange_SizeAndContains(t *testing.T) {
	r := PortRange{Start: 10001, End: 10003}
	assert.Equal(t, 3, r.Size())
	assert.True(t, r.Contains(10001))
	assert.True(t, r.Contains(10003))
	assert.False(t, r.Contains(10000))
	assert.False(t, r.Contains(10004))

	assert.Equal(t, 0, PortRange{Start: 5, End: 1}.Size(), "inverted range has no ports")
	assert.Equal(t, "10001-10003", r.String())
}

// TestParseOutcome verifies string-to-outcome conversion with case folding.
func TestParseOutcome(t *testing.T) {
	tests := []struct {
		input    string
		expected Outcome
		hasError bool
	}{
		{"success", OutcomeSuccess, false},
		{"port_conflict", OutcomePortConflict, false},
		{"PROCESS_ERROR", OutcomeProcessError, false},
		{" timeout ", OutcomeTimeout, false},
		{"ready", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOutcome(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// TestLaunchAttempt_EffectivePort verifies that a port reported by the
// viewer wins over the probe target.
func TestLaunchAttempt_EffectivePort(t *testing.T) {
	assert.Equal(t, 10001, LaunchAttempt{Port: 10001}.EffectivePort())
	assert.Equal(t, 10005, LaunchAttempt{Port: 10001, BoundPort: 10005}.EffectivePort())
}

// TestLaunchAttempt_String checks the compact attempt rendering used in logs.
func TestLaunchAttempt_String(t *testing.T) {
	a := LaunchAttempt{Port: 10001, Outcome: OutcomePortConflict, Probed: true}
	assert.Equal(t, "10001:port_conflict (probe)", a.String())

	b := LaunchAttempt{Port: 10002, Outcome: OutcomeProcessError, Detail: "exit status 2"}
	assert.Equal(t, "10002:process_error: exit status 2", b.String())
}

// TestInstanceInfo_URLAndUptime checks derived display values.
func TestInstanceInfo_URLAndUptime(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	info := InstanceInfo{Port: 10003, StartedAt: started}

	assert.Equal(t, "http://localhost:10003", info.URL())
	assert.Equal(t, 90*time.Second, info.Uptime(started.Add(90*time.Second+300*time.Millisecond)))
	assert.Zero(t, InstanceInfo{}.Uptime(started))
}

// TestAllocationError_Message verifies each kind renders the attempted ports.
func TestAllocationError_Message(t *testing.T) {
	exhausted := &AllocationError{Kind: KindExhausted, AttemptedPorts: []int{10001, 10002}}
	assert.Equal(t, "no usable port found (tried 10001,10002)", exhausted.Error())

	last := &LaunchAttempt{Port: 10001, Outcome: OutcomeProcessError, Detail: `binary "logdy" not found`}
	procErr := &AllocationError{Kind: KindProcessError, AttemptedPorts: []int{10001}, Last: last}
	assert.Contains(t, procErr.Error(), `binary "logdy" not found`)
	assert.Contains(t, procErr.Error(), "port 10001")

	timeout := &AllocationError{Kind: KindTimeout, AttemptedPorts: []int{10001}, Last: &LaunchAttempt{Port: 10001}}
	assert.Contains(t, timeout.Error(), "did not become ready")

	empty := &AllocationError{Kind: KindExhausted}
	assert.Contains(t, empty.Error(), "tried -")
}

// TestKindOf verifies classification through wrapping layers.
func TestKindOf(t *testing.T) {
	alloc := &AllocationError{Kind: KindExhausted}
	assert.Equal(t, KindExhausted, KindOf(fmt.Errorf("start: %w", alloc)))
	assert.Equal(t, KindAlreadyRunning, KindOf(fmt.Errorf("register: %w", ErrAlreadyRunning)))
	assert.Equal(t, KindNotFound, KindOf(ErrInstanceNotFound))
	assert.Equal(t, KindTimeout, KindOf(NewKindError(KindTimeout, "slow", nil)))
	assert.Equal(t, KindShuttingDown, KindOf(fmt.Errorf("registry: %w", ErrShuttingDown)))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

// TestExitCodeForKind verifies the kind-to-exit-code table.
func TestExitCodeForKind(t *testing.T) {
	assert.Equal(t, ExitPortAllocationFailed, ExitCodeForKind(KindExhausted))
	assert.Equal(t, ExitProcessError, ExitCodeForKind(KindProcessError))
	assert.Equal(t, ExitLaunchTimeout, ExitCodeForKind(KindTimeout))
	assert.Equal(t, ExitAlreadyRunning, ExitCodeForKind(KindAlreadyRunning))
	assert.Equal(t, ExitInstanceNotFound, ExitCodeForKind(KindNotFound))
	assert.Equal(t, ExitDaemonNotRunning, ExitCodeForKind(KindShuttingDown))
	assert.Equal(t, ExitGeneralError, ExitCodeForKind("whatever"))
}

// TestCLIError verifies Error/Unwrap behave like the standard wrapping chain.
func TestCLIError(t *testing.T) {
	inner := errors.New("connection refused")
	err := WrapCLIError(ExitDaemonNotRunning, "daemon is not running", inner)

	assert.Equal(t, "daemon is not running: connection refused", err.Error())
	assert.True(t, errors.Is(err, inner))

	plain := NewCLIError(ExitGeneralError, "plain")
	assert.Equal(t, "plain", plain.Error())
	assert.Nil(t, plain.Unwrap())

	kind := NewKindError(KindExhausted, "exhausted", []int{1, 2})
	assert.Equal(t, ExitPortAllocationFailed, kind.Code)
	assert.Equal(t, []int{1, 2}, kind.AttemptedPorts)
}
