// Package worker implements the per-device state machine of spec.md
// §4.2: one Worker owns exactly one Driver and one set of DataPoints,
// runs a polling loop and a write queue, and manages reconnect with
// exponential backoff. Generalizes the teacher's
// internal/collector.Collector.Run/pollOnce ticker-and-poll shape into
// the full state machine.
package worker

// State is the Worker's lifecycle state, spec.md §4.2.
type State string

const (
	StateStopped            State = "STOPPED"
	StateStarting           State = "STARTING"
	StateRunning            State = "RUNNING"
	StatePaused             State = "PAUSED"
	StateReconnecting       State = "RECONNECTING"
	StateDeviceOffline      State = "DEVICE_OFFLINE"
	StateMaxRetriesExceeded State = "MAX_RETRIES_EXCEEDED"
	StateStopping           State = "STOPPING"
	StateError              State = "ERROR"

	// Operator states, reachable from RUNNING; they suspend the polling
	// loop while leaving the driver connected.
	StateMaintenance    State = "MAINTENANCE"
	StateSimulation     State = "SIMULATION"
	StateCalibration    State = "CALIBRATION"
	StateManualOverride State = "MANUAL_OVERRIDE"
	StateEmergencyStop  State = "EMERGENCY_STOP"
	StateBypassMode     State = "BYPASS_MODE"
	StateDiagnosticMode State = "DIAGNOSTIC_MODE"
)

// suspendsPolling reports whether the polling loop must not issue reads
// while the Worker is in this state.
func (s State) suspendsPolling() bool {
	switch s {
	case StatePaused, StateMaintenance, StateSimulation, StateCalibration, StateManualOverride,
		StateEmergencyStop, StateBypassMode, StateDiagnosticMode:
		return true
	default:
		return false
	}
}

// rejectsWrites reports whether WriteDataPoint must fail with
// ACCESS_DENIED in this state, per spec.md §4.2's write queue rule.
func (s State) rejectsWrites() bool {
	switch s {
	case StateMaintenance, StateEmergencyStop, StateBypassMode:
		return true
	default:
		return false
	}
}

// isSimulated reports whether writes succeed without touching the
// driver, publishing to the Pipeline tagged simulated instead.
func (s State) isSimulated() bool {
	return s == StateSimulation
}
