package server

// Symbolic tag table served by the emulator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/georgelake2/plcaudit/internal/cip/protocol"
	"github.com/georgelake2/plcaudit/internal/config"
)

// Extended status words a Logix controller attaches to general status 0xFF.
const (
	extBeyondEnd    uint16 = 0x2105
	extTypeMismatch uint16 = 0x2107
)

type tag struct {
	typ    protocol.DataType
	values []protocol.Value
}

// TagTable holds the emulator's tags. Names are matched case-insensitively,
// as a Logix controller does.
type TagTable struct {
	mu   sync.RWMutex
	tags map[string]*tag
}

func NewTagTable() *TagTable {
	return &TagTable{tags: make(map[string]*tag)}
}

// LoadTags builds a table from emulator configuration.
func LoadTags(defs []config.EmulatorTag) (*TagTable, error) {
	t := NewTagTable()
	for _, def := range defs {
		typ, values, err := def.EmulatorValues()
		if err != nil {
			return nil, fmt.Errorf("emulator tag %s: %w", def.Name, err)
		}
		if err := t.Define(def.Name, typ, values...); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func key(name string) string {
	return strings.ToLower(name)
}

// Define adds or replaces a tag. Every value must have type typ; with no
// values the tag holds one zero element.
func (t *TagTable) Define(name string, typ protocol.DataType, values ...protocol.Value) error {
	if name == "" {
		return protocol.ErrEmptyTag
	}
	if len(values) == 0 {
		zero, err := protocol.ZeroValue(typ)
		if err != nil {
			return fmt.Errorf("define %s: %w", name, err)
		}
		values = []protocol.Value{zero}
	}
	for _, v := range values {
		if v.Type() != typ {
			return fmt.Errorf("define %s: %w", name, &protocol.TypeMismatchError{Want: typ, Got: v.Type()})
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tags[key(name)] = &tag{typ: typ, values: append([]protocol.Value(nil), values...)}
	return nil
}

// Set replaces element 0 of an existing tag.
func (t *TagTable) Set(name string, v protocol.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tg, ok := t.tags[key(name)]
	if !ok {
		return fmt.Errorf("tag %s not defined", name)
	}
	if v.Type() != tg.typ {
		return fmt.Errorf("set %s: %w", name, &protocol.TypeMismatchError{Want: tg.typ, Got: v.Type()})
	}
	tg.values[0] = v
	return nil
}

// Get returns element 0 of a tag.
func (t *TagTable) Get(name string) (protocol.Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tg, ok := t.tags[key(name)]
	if !ok {
		return nil, false
	}
	return tg.values[0], true
}

// Len returns the number of defined tags.
func (t *TagTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tags)
}

// read serves a Read Tag request. An element count of 0 reads one element.
func (t *TagTable) read(req protocol.Request) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tg, ok := t.tags[key(req.Tag)]
	if !ok {
		return protocol.BuildReply(req.Service, protocol.StatusPathSegmentError, nil, nil)
	}
	n := int(req.Elements)
	if n == 0 {
		n = 1
	}
	if n > len(tg.values) {
		return protocol.BuildReply(req.Service, protocol.StatusVendorSpecific, []uint16{extBeyondEnd}, nil)
	}
	reply, err := protocol.BuildReadReply(tg.values[:n]...)
	if err != nil {
		return protocol.BuildReply(req.Service, protocol.StatusGeneralError, nil, nil)
	}
	return reply
}

// write serves a Write Tag request starting at element 0.
func (t *TagTable) write(req protocol.Request) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	tg, ok := t.tags[key(req.Tag)]
	if !ok {
		return protocol.BuildReply(req.Service, protocol.StatusPathSegmentError, nil, nil)
	}
	if req.WriteType != tg.typ {
		return protocol.BuildReply(req.Service, protocol.StatusVendorSpecific, []uint16{extTypeMismatch}, nil)
	}
	n := int(req.Elements)
	if n == 0 {
		n = 1
	}
	if n > len(tg.values) {
		return protocol.BuildReply(req.Service, protocol.StatusVendorSpecific, []uint16{extBeyondEnd}, nil)
	}
	size := tg.typ.Size()
	if len(req.WriteData) < n*size {
		return protocol.BuildReply(req.Service, protocol.StatusNotEnoughData, nil, nil)
	}
	if len(req.WriteData) > n*size {
		return protocol.BuildReply(req.Service, protocol.StatusTooMuchData, nil, nil)
	}
	decoded := make([]protocol.Value, n)
	for i := range decoded {
		v, err := protocol.DecodeValue(tg.typ, req.WriteData[i*size:(i+1)*size])
		if err != nil {
			return protocol.BuildReply(req.Service, protocol.StatusNotEnoughData, nil, nil)
		}
		decoded[i] = v
	}
	copy(tg.values, decoded)
	return protocol.BuildReply(req.Service, protocol.StatusSuccess, nil, nil)
}
