package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a control or flash event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	Source    uint8  // Mode, page or attempt, per event type
	Clock     uint32 // System clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtSlowTick     = 1 // Slow tick ran; v1 = fast ticks since previous slow tick
	EvtModeChange   = 2 // Slow tick applied a mode request; v1 = old mode
	EvtArm          = 3 // Controller armed (v1 = 1) or disarmed (v1 = 0)
	EvtCalibration  = 4 // Calibration captured or loaded; v1 = offset bits
	EvtFlashErase   = 5 // Page erased; v1 = page
	EvtFlashProgram = 6 // Page programmed; v1 = page, v2 = words
	EvtFlashRetry   = 7 // Doubleword program failed; v1 = addr, v2 = attempt
	EvtFlashFail    = 8 // Erase or program gave up; v1 = addr
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled gates DebugPrintln; timing capture is independent
	debugEnabled bool = false

	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8
	timingEnabled  bool = true
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetTimingEnabled enables or disables timing capture
func SetTimingEnabled(enabled bool) {
	timingEnabled = enabled
}

// DebugPrintln writes a debug message using the platform-specific writer.
// Never called from a tick.
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordTiming captures an event in the ring buffer. It does not allocate
// and is safe to call from either tick.
func RecordTiming(eventType, source uint8, clock, value1, value2 uint32) {
	if !timingEnabled {
		return
	}
	state := disableInterrupts()
	idx := timingRingHead
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		Source:    source,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (idx + 1) % TimingRingSize
	restoreInterrupts(state)
}

// TimingEvents returns the captured events, oldest first
func TimingEvents() []TimingEvent {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	events := make([]TimingEvent, 0, TimingRingSize)
	start := timingRingHead
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(start+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		events = append(events, evt)
	}
	return events
}

func eventName(t uint8) string {
	switch t {
	case EvtSlowTick:
		return "SLOW_TICK"
	case EvtModeChange:
		return "MODE"
	case EvtArm:
		return "ARM"
	case EvtCalibration:
		return "CALIBRATION"
	case EvtFlashErase:
		return "FLASH_ERASE"
	case EvtFlashProgram:
		return "FLASH_PROGRAM"
	case EvtFlashRetry:
		return "FLASH_RETRY"
	case EvtFlashFail:
		return "FLASH_FAIL!"
	}
	return "UNKNOWN"
}

// DumpTimingRing writes the timing ring buffer through the debug writer.
// Call it from the background loop, never from a tick.
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TIMING] === Timing Ring Dump ===")
	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + eventName(evt.EventType) +
			" src=" + itoa(int(evt.Source)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingRingHead = 0
}
