package core

import (
	"errors"
	"sync"

	"gofoc/protocol"
	"gofoc/tinycompress"
)

var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler decodes its own arguments from data and may append
// response frames to resp.
type CommandHandler func(data *[]byte, resp protocol.OutputBuffer) error

// Command is one registered message.
type Command struct {
	ID      uint16
	Name    string
	Format  string // argument layout, e.g. "mode=%c"
	Handler CommandHandler
}

// CommandRegistry maps message ids to handlers. Ids are fixed by the
// protocol package, not assigned in registration order.
type CommandRegistry struct {
	mu         sync.RWMutex
	commands   map[uint16]*Command
	nameToID   map[string]uint16
	maxID      uint16
	dictionary string
	compressed []byte
}

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// Register installs a handler under id, replacing any previous one.
// Responses (drive → host) are registered with a nil handler so they show
// up in the dictionary.
func (r *CommandRegistry) Register(id uint16, name string, format string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.commands[id]; ok {
		delete(r.nameToID, old.Name)
	}
	r.commands[id] = &Command{
		ID:      id,
		Name:    name,
		Format:  format,
		Handler: handler,
	}
	r.nameToID[name] = id
	if id > r.maxID {
		r.maxID = id
	}

	r.rebuildDictionary()
}

// GetCommand retrieves a command by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// GetCommandByName retrieves a command by name
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered under cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte, resp protocol.OutputBuffer) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return ErrUnknownCommand
	}
	return cmd.Handler(data, resp)
}

// HandleFrame dispatches one frame payload. An unknown id is answered with
// an AckUnknown frame; a handler that fails without replying, typically on
// malformed arguments, is answered with AckError.
func (r *CommandRegistry) HandleFrame(payload []byte, resp protocol.OutputBuffer) error {
	data := payload
	id, err := protocol.DecodeVLQUint(&data)
	if err != nil {
		return err
	}
	pos := resp.CurPosition()
	err = r.Dispatch(uint16(id), &data, resp)
	switch {
	case err == nil:
	case err == ErrUnknownCommand:
		protocol.EncodeMessage(resp, protocol.MsgAck, int32(id), protocol.AckUnknown)
	case resp.CurPosition() == pos:
		protocol.EncodeMessage(resp, protocol.MsgAck, int32(id), protocol.AckError)
	}
	return err
}

// GetDictionary returns one "id name format" line per message
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dictionary
}

// CompressedDictionary returns the dictionary as a zlib stream, the form
// served by identify.
func (r *CommandRegistry) CompressedDictionary() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.compressed
}

// rebuildDictionary must be called with the lock held
func (r *CommandRegistry) rebuildDictionary() {
	dict := ""
	for i := 0; i <= int(r.maxID); i++ {
		cmd, ok := r.commands[uint16(i)]
		if !ok {
			continue
		}
		dict += itoa(i) + " " + cmd.Name
		if cmd.Format != "" {
			dict += " " + cmd.Format
		}
		dict += "\n"
	}
	r.dictionary = dict
	r.compressed = tinycompress.Compress([]byte(dict))
}
