//go:build rp2040

package main

import (
	"encoding/binary"
	"errors"
	"machine"
)

var errFlashShort = errors.New("short flash transfer")

// Flash implements core.FlashDevice over the data region of the on-chip
// QSPI flash that follows the firmware image. Addresses are relative to
// machine.FlashDataStart.
type Flash struct {
	dev interface {
		ReadAt(p []byte, off int64) (int, error)
		WriteAt(p []byte, off int64) (int, error)
		Size() int64
		EraseBlockSize() int64
		EraseBlocks(start, length int64) error
	}
	word [8]byte
}

// NewFlash returns the data region of machine.Flash.
func NewFlash() *Flash {
	return &Flash{dev: machine.Flash}
}

func (f *Flash) PageSize() uint32 {
	return uint32(f.dev.EraseBlockSize())
}

func (f *Flash) Size() uint32 {
	return uint32(f.dev.Size())
}

func (f *Flash) ReadAt(p []byte, addr uint32) error {
	n, err := f.dev.ReadAt(p, int64(addr))
	if err != nil {
		return err
	}
	if n != len(p) {
		return errFlashShort
	}
	return nil
}

func (f *Flash) ErasePage(page uint32) error {
	return f.dev.EraseBlocks(int64(page), 1)
}

// ProgramDoubleWord writes 8 bytes. The write is padded to the device's
// program block with the erased value, which leaves neighbouring bytes
// untouched.
func (f *Flash) ProgramDoubleWord(addr uint32, v uint64) error {
	binary.LittleEndian.PutUint64(f.word[:], v)
	n, err := f.dev.WriteAt(f.word[:], int64(addr))
	if err != nil {
		return err
	}
	if n != len(f.word) {
		return errFlashShort
	}
	return nil
}
