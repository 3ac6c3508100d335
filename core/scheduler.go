package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler runs timers in wake-time order. A handler that returns
// SF_RESCHEDULE must move its WakeTime forward first.
type Scheduler struct {
	list *Timer
}

// Add schedules a timer
func (s *Scheduler) Add(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	s.insert(t)
}

// Remove unschedules a timer; it is a no-op if the timer is not pending
func (s *Scheduler) Remove(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for p := &s.list; *p != nil; p = &(*p).Next {
		if *p == t {
			*p = t.Next
			t.Next = nil
			return
		}
	}
}

// Next returns the earliest pending wake time
func (s *Scheduler) Next() (uint32, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if s.list == nil {
		return 0, false
	}
	return s.list.WakeTime, true
}

// insert keeps the list sorted; equal wake times run in insertion order
func (s *Scheduler) insert(t *Timer) {
	if s.list == nil || timerIsBefore(t.WakeTime, s.list.WakeTime) {
		t.Next = s.list
		s.list = t
		return
	}

	current := s.list
	for current.Next != nil && !timerIsBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// Dispatch runs every timer due at now and returns how many ran
func (s *Scheduler) Dispatch(now uint32) int {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	ran := 0
	for s.list != nil && !timerIsBefore(now, s.list.WakeTime) {
		timer := s.list
		s.list = timer.Next
		timer.Next = nil

		ran++
		if timer.Handler(timer) == SF_RESCHEDULE {
			s.insert(timer)
		}
	}
	return ran
}
