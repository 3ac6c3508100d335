package canbridge

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"gofoc/protocol"
)

// Transmitter sends frames. *socketcan.Transmitter implements it.
type Transmitter interface {
	TransmitFrame(ctx context.Context, f can.Frame) error
}

// Receiver yields frames. *socketcan.Receiver implements it.
type Receiver interface {
	Receive() bool
	Frame() can.Frame
	Err() error
}

// Sender executes a drive command. *link.Client implements it.
type Sender interface {
	Send(ctx context.Context, id uint16, args ...int32) error
}

// Bridge publishes one drive's status and relays commands addressed to
// its node id.
type Bridge struct {
	node uint8
	tx   Transmitter
	rx   Receiver
	conn net.Conn
	log  zerolog.Logger
}

// New wraps an existing transmitter and receiver.
func New(node uint8, tx Transmitter, rx Receiver, logger zerolog.Logger) *Bridge {
	return &Bridge{
		node: node,
		tx:   tx,
		rx:   rx,
		log:  logger.With().Str("component", "can").Uint8("node", node).Logger(),
	}
}

// Dial opens a SocketCAN interface such as "can0" or "vcan0".
func Dial(ctx context.Context, iface string, node uint8, logger zerolog.Logger) (*Bridge, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	b := New(node, socketcan.NewTransmitter(conn), socketcan.NewReceiver(conn), logger)
	b.conn = conn
	return b, nil
}

func (b *Bridge) Close() error {
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// PublishStatus transmits both status frames.
func (b *Bridge) PublishStatus(ctx context.Context, st protocol.StatusReport) error {
	motion, electric := EncodeStatus(b.node, st)
	if err := b.tx.TransmitFrame(ctx, motion); err != nil {
		return err
	}
	return b.tx.TransmitFrame(ctx, electric)
}

// Serve relays command frames to drive until the receiver stops or ctx is
// cancelled. Frames for other nodes are ignored.
func (b *Bridge) Serve(ctx context.Context, drive Sender) error {
	for b.rx.Receive() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id, arg, err := DecodeCommand(b.node, b.rx.Frame())
		if err != nil {
			continue
		}

		var args []int32
		if id == protocol.MsgSetMode || id == protocol.MsgSetTarget {
			args = []int32{arg}
		}
		if err := drive.Send(ctx, id, args...); err != nil {
			b.log.Warn().Err(err).Str("cmd", protocol.MessageName(id)).Msg("relayed command failed")
			continue
		}
		b.log.Debug().Str("cmd", protocol.MessageName(id)).Int32("arg", arg).Msg("relayed")
	}
	if err := b.rx.Err(); err != nil {
		return err
	}
	return ctx.Err()
}
