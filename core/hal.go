package core

// AngleSensor reports the rotor's mechanical angle.
type AngleSensor interface {
	// Init prepares the sensor for reading
	Init() error

	// ReadAngle returns the mechanical angle in radians over one revolution
	// Called from both tick contexts, must not block
	ReadAngle() float32
}

// CurrentSensor samples two phase currents of a balanced three-phase load.
type CurrentSensor interface {
	// Init prepares the sensor for reading
	Init() error

	// ReadPhaseCurrents returns the phase A and phase B currents in amps
	// Called from the fast tick, must not block
	ReadPhaseCurrents() (ia, ib float32)
}

// PhaseDriver drives the three inverter legs.
type PhaseDriver interface {
	// Init configures the PWM outputs with all legs off
	Init() error

	// SetDuty sets the duty cycle of each leg, each in [0, 1]
	SetDuty(u, v, w float32)
}

// ByteStore is byte-addressable persistent storage. Offsets are relative
// to the start of the store.
type ByteStore interface {
	Read(offset uint32, out []byte) error
	Write(offset uint32, data []byte) error
}

// FlashDevice is page-erase-only non-volatile memory. Addresses are
// relative to the start of the device.
type FlashDevice interface {
	// PageSize returns the erase granularity in bytes
	PageSize() uint32

	// Size returns the device size in bytes
	Size() uint32

	// ReadAt copies len(p) bytes starting at addr
	ReadAt(p []byte, addr uint32) error

	// ErasePage sets every byte of the page to the erased value
	ErasePage(page uint32) error

	// ProgramDoubleWord programs 8 bytes at an 8-byte aligned address
	// that has been erased since it was last programmed
	ProgramDoubleWord(addr uint32, v uint64) error
}

// Devices bundles the collaborators a Controller drives. Store may be nil,
// in which case calibration is neither loaded nor saved.
type Devices struct {
	Angle   AngleSensor
	Current CurrentSensor
	Phases  PhaseDriver
	Store   ByteStore
}
