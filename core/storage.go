package core

import (
	"encoding/binary"
	"errors"
)

var (
	ErrOutOfRange    = errors.New("access outside store region")
	ErrUnaligned     = errors.New("store region not page aligned")
	ErrProgramFailed = errors.New("flash program failed")
	ErrEraseFailed   = errors.New("flash erase failed")
)

// DefaultProgramRetries is the number of program attempts per doubleword.
const DefaultProgramRetries = 16

const programWordSize = 8

// FlashError reports which flash operation failed and where.
type FlashError struct {
	Op    string // "erase" or "program"
	Addr  uint32 // device address
	Err   error  // ErrEraseFailed or ErrProgramFailed
	Cause error  // last error reported by the device
}

func (e *FlashError) Error() string {
	msg := "flash " + e.Op + " at 0x" + hex32(e.Addr) + ": " + e.Err.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FlashError) Unwrap() error {
	return e.Err
}

// StoreConfig places a PageStore on its device.
type StoreConfig struct {
	Base           uint32 `json:"base" yaml:"base"`                       // device address of offset 0, page aligned
	Size           uint32 `json:"size" yaml:"size"`                       // region size, whole pages
	ProgramRetries int    `json:"program_retries" yaml:"program_retries"` // attempts per doubleword, 0 = default
}

// PageStore is a ByteStore over a reserved region of page-erase flash.
// Writes run a read-modify-erase-program cycle for every touched page with
// interrupts disabled, so both ticks stall while a page is rewritten.
// Only write while the controller is disarmed.
type PageStore struct {
	dev     FlashDevice
	cfg     StoreConfig
	scratch []byte
}

// NewPageStore validates the region and allocates the page scratch buffer.
func NewPageStore(dev FlashDevice, cfg StoreConfig) (*PageStore, error) {
	ps := dev.PageSize()
	if ps == 0 || ps%programWordSize != 0 || cfg.Base%ps != 0 || cfg.Size%ps != 0 {
		return nil, ErrUnaligned
	}
	if cfg.Size == 0 || uint64(cfg.Base)+uint64(cfg.Size) > uint64(dev.Size()) {
		return nil, ErrOutOfRange
	}
	if cfg.ProgramRetries <= 0 {
		cfg.ProgramRetries = DefaultProgramRetries
	}
	return &PageStore{
		dev:     dev,
		cfg:     cfg,
		scratch: make([]byte, ps),
	}, nil
}

// Size returns the number of addressable bytes.
func (s *PageStore) Size() uint32 {
	return s.cfg.Size
}

func (s *PageStore) contains(offset uint32, n int) bool {
	return uint64(offset)+uint64(n) <= uint64(s.cfg.Size)
}

// Read copies len(out) bytes at offset.
func (s *PageStore) Read(offset uint32, out []byte) error {
	if !s.contains(offset, len(out)) {
		return ErrOutOfRange
	}
	if len(out) == 0 {
		return nil
	}
	return s.dev.ReadAt(out, s.cfg.Base+offset)
}

// Write stores data at offset. Bytes outside [offset, offset+len(data))
// keep their values. Each touched page is erased and programmed exactly
// once; on failure the pages before the failing one are already written.
func (s *PageStore) Write(offset uint32, data []byte) error {
	if !s.contains(offset, len(data)) {
		return ErrOutOfRange
	}
	if len(data) == 0 {
		return nil
	}

	ps := s.dev.PageSize()
	start := s.cfg.Base + offset
	end := start + uint32(len(data)) // exclusive
	firstPage := start / ps
	lastPage := (end - 1) / ps

	for page := firstPage; page <= lastPage; page++ {
		pageAddr := page * ps
		if err := s.dev.ReadAt(s.scratch, pageAddr); err != nil {
			return err
		}

		lo, hi := pageAddr, pageAddr+ps
		if start > lo {
			lo = start
		}
		if end < hi {
			hi = end
		}
		copy(s.scratch[lo-pageAddr:hi-pageAddr], data[lo-start:hi-start])

		if err := s.rewritePage(page, pageAddr); err != nil {
			return err
		}
	}
	return nil
}

// rewritePage erases a page and programs it from the scratch buffer.
func (s *PageStore) rewritePage(page, pageAddr uint32) error {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if err := s.dev.ErasePage(page); err != nil {
		RecordTiming(EvtFlashFail, 0, GetTime(), pageAddr, 0)
		return &FlashError{Op: "erase", Addr: pageAddr, Err: ErrEraseFailed, Cause: err}
	}
	RecordTiming(EvtFlashErase, 0, GetTime(), page, 0)

	words := uint32(0)
	for i := 0; i < len(s.scratch); i += programWordSize {
		addr := pageAddr + uint32(i)
		v := binary.LittleEndian.Uint64(s.scratch[i:])
		if err := s.program(addr, v); err != nil {
			return err
		}
		words++
	}
	RecordTiming(EvtFlashProgram, 0, GetTime(), page, words)
	return nil
}

func (s *PageStore) program(addr uint32, v uint64) error {
	var err error
	for attempt := 1; attempt <= s.cfg.ProgramRetries; attempt++ {
		if err = s.dev.ProgramDoubleWord(addr, v); err == nil {
			return nil
		}
		RecordTiming(EvtFlashRetry, 0, GetTime(), addr, uint32(attempt))
	}
	RecordTiming(EvtFlashFail, 1, GetTime(), addr, uint32(s.cfg.ProgramRetries))
	return &FlashError{Op: "program", Addr: addr, Err: ErrProgramFailed, Cause: err}
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf[:])
}
