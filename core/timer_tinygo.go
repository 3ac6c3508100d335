//go:build tinygo

package core

import "sync/atomic"

// getSystemTicks returns the current system ticks; the tick interrupts and
// the background loop both read it
func getSystemTicks() uint32 {
	return atomic.LoadUint32(&systemTicks)
}

// setSystemTicks sets the system ticks
func setSystemTicks(ticks uint32) {
	atomic.StoreUint32(&systemTicks, ticks)
}
