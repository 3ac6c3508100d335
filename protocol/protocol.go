// Package protocol implements the framed command link between the drive
// firmware and host tools.
package protocol

// Version is the link protocol version reported by host tools.
const Version = "0.1.0"

// Frame layout: len | payload | crc16 hi | crc16 lo | sync
const (
	MessageMax         = 512 // scratch output capacity
	MessageHeaderSize  = 1
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
)
