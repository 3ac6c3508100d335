// Package tinycompress writes zlib streams without an allocation-heavy
// DEFLATE encoder. Data is carried in stored blocks, so any zlib reader
// can inflate it.
package tinycompress

import (
	"hash/adler32"
)

const (
	zlibHeaderSize  = 2
	storedBlockMax  = 0xFFFF
	storedBlockHead = 5 // BFINAL/BTYPE byte, LEN, NLEN
	adlerSize       = 4
)

// CompressedSize returns the length of Compress(input) for an input of n
// bytes.
func CompressedSize(n int) int {
	blocks := (n + storedBlockMax - 1) / storedBlockMax
	if blocks == 0 {
		blocks = 1
	}
	return zlibHeaderSize + blocks*storedBlockHead + n + adlerSize
}

// Compress wraps input in a zlib stream.
func Compress(input []byte) []byte {
	return AppendCompressed(make([]byte, 0, CompressedSize(len(input))), input)
}

// AppendCompressed appends the zlib stream for input to dst.
func AppendCompressed(dst, input []byte) []byte {
	// CMF: deflate, 32K window. FLG: default level, check bits
	dst = append(dst, 0x78, 0x9C)

	rest := input
	for {
		n := len(rest)
		if n > storedBlockMax {
			n = storedBlockMax
		}
		final := byte(0)
		if n == len(rest) {
			final = 1
		}
		length := uint16(n)
		nlength := ^length
		dst = append(dst, final,
			byte(length), byte(length>>8),
			byte(nlength), byte(nlength>>8))
		dst = append(dst, rest[:n]...)
		rest = rest[n:]
		if final == 1 {
			break
		}
	}

	// Adler-32, big endian
	sum := adler32.Checksum(input)
	return append(dst, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
}
