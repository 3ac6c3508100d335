package core

import (
	"encoding/binary"
	"errors"
)

var (
	errFlashAddress   = errors.New("address outside device")
	errFlashAlignment = errors.New("program address not doubleword aligned")
	errFlashNotErased = errors.New("program over unerased word")
	errFlashInjected  = errors.New("injected failure")
)

const flashErasedPattern uint64 = 0xFFFFFFFFFFFFFFFF

// MemFlash is a RAM-backed FlashDevice with NOR semantics: the erased
// value is 0xFF and a doubleword can only be programmed after its page has
// been erased. It counts operations and can inject failures.
type MemFlash struct {
	data     []byte
	pageSize uint32

	Erases   int // successful page erases
	Programs int // successful doubleword programs
	Attempts int // program attempts, including failed ones

	// FailPrograms makes the next n program attempts fail
	FailPrograms int
	// FailErase makes every erase fail while set
	FailErase bool
}

// NewMemFlash returns an erased device of pages × pageSize bytes.
func NewMemFlash(pageSize, pages uint32) *MemFlash {
	f := &MemFlash{
		data:     make([]byte, pageSize*pages),
		pageSize: pageSize,
	}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	return f
}

func (f *MemFlash) PageSize() uint32 {
	return f.pageSize
}

func (f *MemFlash) Size() uint32 {
	return uint32(len(f.data))
}

func (f *MemFlash) ReadAt(p []byte, addr uint32) error {
	if uint64(addr)+uint64(len(p)) > uint64(len(f.data)) {
		return errFlashAddress
	}
	copy(p, f.data[addr:])
	return nil
}

func (f *MemFlash) ErasePage(page uint32) error {
	if f.FailErase {
		return errFlashInjected
	}
	start := uint64(page) * uint64(f.pageSize)
	if start+uint64(f.pageSize) > uint64(len(f.data)) {
		return errFlashAddress
	}
	for i := start; i < start+uint64(f.pageSize); i++ {
		f.data[i] = 0xFF
	}
	f.Erases++
	return nil
}

func (f *MemFlash) ProgramDoubleWord(addr uint32, v uint64) error {
	f.Attempts++
	if addr%8 != 0 {
		return errFlashAlignment
	}
	if uint64(addr)+8 > uint64(len(f.data)) {
		return errFlashAddress
	}
	if f.FailPrograms > 0 {
		f.FailPrograms--
		return errFlashInjected
	}
	if binary.LittleEndian.Uint64(f.data[addr:]) != flashErasedPattern {
		return errFlashNotErased
	}
	binary.LittleEndian.PutUint64(f.data[addr:], v)
	f.Programs++
	return nil
}

// Bytes exposes the raw device contents.
func (f *MemFlash) Bytes() []byte {
	return f.data
}
