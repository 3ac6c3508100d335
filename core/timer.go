package core

// TimerFreq is the timebase of GetTime and Timer wake times.
const TimerFreq = 12000000

var systemTicks uint32

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (target clock source or simulation)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerFromHz returns the period of a rate in timer ticks
func TimerFromHz(hz float32) uint32 {
	if !(hz > 0) {
		return 0
	}
	return uint32(float64(TimerFreq)/float64(hz) + 0.5)
}

// timerIsBefore compares wake times across counter wrap
func timerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
