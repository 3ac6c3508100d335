// Package link is the host side of the drive's framed serial protocol.
package link

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"gofoc/core"
	"gofoc/host/serial"
	"gofoc/protocol"
)

var (
	ErrClosed    = errors.New("link closed")
	ErrRejected  = errors.New("drive rejected command")
	ErrArmed     = errors.New("drive is armed")
	ErrUnknown   = errors.New("drive does not know command")
	ErrNoCommand = errors.New("no such command")
	ErrBadChunk  = errors.New("identify response out of sequence")
)

// AckError reports a non-OK acknowledgement.
type AckError struct {
	Command string
	Code    int32
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%s: ack code %d", e.Command, e.Code)
}

func (e *AckError) Unwrap() error {
	switch e.Code {
	case protocol.AckArmed:
		return ErrArmed
	case protocol.AckUnknown:
		return ErrUnknown
	}
	return ErrRejected
}

// Client sends commands and waits for their responses. Requests are
// serialised; the drive answers each command with exactly one frame.
type Client struct {
	port io.ReadWriteCloser
	log  zerolog.Logger

	mu     sync.Mutex // one request in flight
	frames chan []byte
	done   chan struct{}
	err    error // reader exit reason, valid after done is closed

	namesMu sync.RWMutex
	names   map[string]uint16

	// StatusHandler, if set, receives status frames that arrive outside a
	// request
	StatusHandler func(protocol.StatusReport)
}

// New starts a client on an open port.
func New(port io.ReadWriteCloser, logger zerolog.Logger) *Client {
	c := &Client{
		port:   port,
		log:    logger.With().Str("component", "link").Logger(),
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
		names:  make(map[string]uint16, len(protocol.MessageFormats)),
	}
	for id := range protocol.MessageFormats {
		c.names[protocol.MessageName(id)] = id
	}
	go c.readLoop()
	return c
}

// Dial opens a serial device and starts a client on it.
func Dial(cfg *serial.Config, logger zerolog.Logger) (*Client, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, err
	}
	logger.Info().Str("device", cfg.Device).Int("baud", cfg.Baud).Msg("link open")
	return New(port, logger), nil
}

// Close stops the reader and closes the port.
func (c *Client) Close() error {
	err := c.port.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)

	dec := protocol.NewFrameDecoder(c.deliver)
	buf := make([]byte, 256)
	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
		}
		if err != nil {
			c.err = err
			if dropped := dec.Dropped(); dropped > 0 {
				c.log.Warn().Uint32("dropped", dropped).Msg("corrupt frames discarded")
			}
			return
		}
	}
}

func (c *Client) deliver(payload []byte) {
	frame := append([]byte(nil), payload...)
	select {
	case c.frames <- frame:
	default:
		c.log.Warn().Int("len", len(frame)).Msg("response queue full, frame dropped")
	}
}

// request writes one frame and returns the first response accepted by
// match.
func (c *Client) request(ctx context.Context, id uint16, args []int32, match func(id uint16, data []byte) bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drain()

	var out protocol.ScratchOutput
	if err := protocol.EncodeMessage(&out, id, args...); err != nil {
		return nil, err
	}
	if _, err := c.port.Write(out.Result()); err != nil {
		return nil, fmt.Errorf("write %s: %w", protocol.MessageName(id), err)
	}
	c.log.Debug().Str("cmd", protocol.MessageName(id)).Ints32("args", args).Msg("sent")

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", protocol.MessageName(id), ctx.Err())
		case <-c.done:
			if c.err != nil && !errors.Is(c.err, io.EOF) {
				return nil, fmt.Errorf("%w: %v", ErrClosed, c.err)
			}
			return nil, ErrClosed
		case frame := <-c.frames:
			data := frame
			rid, err := protocol.DecodeVLQUint(&data)
			if err != nil {
				c.log.Warn().Err(err).Msg("bad response id")
				continue
			}
			if match(uint16(rid), data) {
				return data, nil
			}
			c.unsolicited(uint16(rid), data)
		}
	}
}

// drain handles frames that arrived between requests.
func (c *Client) drain() {
	for {
		select {
		case frame := <-c.frames:
			data := frame
			if rid, err := protocol.DecodeVLQUint(&data); err == nil {
				c.unsolicited(uint16(rid), data)
			}
		default:
			return
		}
	}
}

func (c *Client) unsolicited(id uint16, data []byte) {
	if id == protocol.MsgStatus && c.StatusHandler != nil {
		if st, err := protocol.DecodeStatus(&data); err == nil {
			c.StatusHandler(st)
			return
		}
	}
	c.log.Debug().Str("msg", protocol.MessageName(id)).Msg("unsolicited frame ignored")
}

// Send issues a command and waits for its acknowledgement.
func (c *Client) Send(ctx context.Context, id uint16, args ...int32) error {
	var code int32
	_, err := c.request(ctx, id, args, func(rid uint16, data []byte) bool {
		if rid != protocol.MsgAck {
			return false
		}
		cmd, err := protocol.DecodeVLQInt(&data)
		if err != nil || uint16(cmd) != id {
			return false
		}
		code, err = protocol.DecodeVLQInt(&data)
		return err == nil
	})
	if err != nil {
		return err
	}
	if code != protocol.AckOK {
		return &AckError{Command: protocol.MessageName(id), Code: code}
	}
	return nil
}

// Command sends a command by dictionary name.
func (c *Client) Command(ctx context.Context, name string, args ...int32) error {
	c.namesMu.RLock()
	id, ok := c.names[name]
	c.namesMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCommand, name)
	}
	if name == protocol.MessageName(protocol.MsgGetStatus) {
		_, err := c.Status(ctx)
		return err
	}
	return c.Send(ctx, id, args...)
}

// Status polls the drive telemetry.
func (c *Client) Status(ctx context.Context) (protocol.StatusReport, error) {
	data, err := c.request(ctx, protocol.MsgGetStatus, nil, func(rid uint16, _ []byte) bool {
		return rid == protocol.MsgStatus
	})
	if err != nil {
		return protocol.StatusReport{}, err
	}
	return protocol.DecodeStatus(&data)
}

func (c *Client) SetMode(ctx context.Context, m core.Mode) error {
	return c.Send(ctx, protocol.MsgSetMode, int32(m))
}

// SetTarget sends the setpoint in milli-units.
func (c *Client) SetTarget(ctx context.Context, v float32) error {
	return c.Send(ctx, protocol.MsgSetTarget, protocol.ToMilli(v))
}

func (c *Client) Arm(ctx context.Context) error {
	return c.Send(ctx, protocol.MsgArm)
}

func (c *Client) Disarm(ctx context.Context) error {
	return c.Send(ctx, protocol.MsgDisarm)
}

// CalibrateZero runs the alignment; the drive acknowledges once the rotor
// has settled three times.
func (c *Client) CalibrateZero(ctx context.Context) error {
	return c.Send(ctx, protocol.MsgCalibrateZero)
}

func (c *Client) SaveCalibration(ctx context.Context) error {
	return c.Send(ctx, protocol.MsgSaveCalibration)
}

// Identify downloads the drive's message dictionary and refreshes the
// name table used by Command. It returns the dictionary text, one
// "id name format" line per message.
func (c *Client) Identify(ctx context.Context) (string, error) {
	var stream []byte
	for {
		offset := uint32(len(stream))
		var chunk []byte
		_, err := c.request(ctx, protocol.MsgIdentify, []int32{int32(offset), protocol.IdentifyChunkMax},
			func(rid uint16, data []byte) bool {
				if rid != protocol.MsgIdentifyResponse {
					return false
				}
				off, b, err := protocol.DecodeIdentifyResponse(&data)
				if err != nil || off != offset {
					return false
				}
				chunk = append([]byte(nil), b...)
				return true
			})
		if err != nil {
			return "", err
		}
		stream = append(stream, chunk...)
		if len(chunk) < protocol.IdentifyChunkMax {
			break
		}
	}
	c.log.Debug().Int("bytes", len(stream)).Msg("dictionary retrieved")

	r, err := zlib.NewReader(bytes.NewReader(stream))
	if err != nil {
		return "", fmt.Errorf("dictionary: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("dictionary: %w", err)
	}
	dict := string(raw)

	names, err := ParseDictionary(dict)
	if err != nil {
		return "", err
	}
	c.namesMu.Lock()
	c.names = names
	c.namesMu.Unlock()
	return dict, nil
}

// ParseDictionary maps message names to ids.
func ParseDictionary(dict string) (map[string]uint16, error) {
	names := make(map[string]uint16)
	sc := bufio.NewScanner(strings.NewReader(dict))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("dictionary line %q: missing name", sc.Text())
		}
		id, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("dictionary line %q: %w", sc.Text(), err)
		}
		names[fields[1]] = uint16(id)
	}
	return names, sc.Err()
}
