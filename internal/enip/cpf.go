package enip

import (
	"errors"
	"fmt"

	"github.com/georgelake2/plcaudit/internal/cip/codec"
)

// CPF item type ids.
const (
	ItemNullAddress     uint16 = 0x0000
	ItemUnconnectedData uint16 = 0x00B2
)

// ErrNoUnconnectedData is returned when a CPF body carries no 0x00B2 item.
var ErrNoUnconnectedData = errors.New("no unconnected data item")

// Item is one Common Packet Format item.
type Item struct {
	Type uint16
	Data []byte
}

// WrapSendRRData builds the SendRRData CPF body for an unconnected CIP
// request: interface handle 0, timeout 0, a Null Address item and an
// Unconnected Data item carrying cip.
func WrapSendRRData(cip []byte) []byte {
	body := make([]byte, 0, 16+len(cip))
	body = codec.AppendUint32(body, 0)
	body = codec.AppendUint16(body, 0)
	body = codec.AppendUint16(body, 2)
	body = codec.AppendUint16(body, ItemNullAddress)
	body = codec.AppendUint16(body, 0)
	body = codec.AppendUint16(body, ItemUnconnectedData)
	body = codec.AppendUint16(body, uint16(len(cip)))
	return append(body, cip...)
}

// ParseCPF decodes every item of a SendRRData body.
func ParseCPF(body []byte) ([]Item, error) {
	var items []Item
	err := walkCPF(body, func(it Item) bool {
		items = append(items, it)
		return true
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ExtractUnconnectedData returns the payload of the first Unconnected Data
// item. Items after it are not parsed.
func ExtractUnconnectedData(body []byte) ([]byte, error) {
	var payload []byte
	found := false
	err := walkCPF(body, func(it Item) bool {
		if it.Type == ItemUnconnectedData {
			payload, found = it.Data, true
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoUnconnectedData
	}
	return payload, nil
}

// walkCPF visits items in order until fn returns false. The interface
// handle and timeout are skipped unread.
func walkCPF(body []byte, fn func(Item) bool) error {
	r := codec.NewReader(body)
	if err := r.Skip(6); err != nil {
		return fmt.Errorf("CPF prefix: %w", err)
	}
	count, err := r.Uint16()
	if err != nil {
		return fmt.Errorf("CPF item count: %w", err)
	}
	for i := 0; i < int(count); i++ {
		typ, err := r.Uint16()
		if err != nil {
			return fmt.Errorf("CPF item %d type: %w", i, err)
		}
		n, err := r.Uint16()
		if err != nil {
			return fmt.Errorf("CPF item %d length: %w", i, err)
		}
		data, err := r.Bytes(int(n))
		if err != nil {
			return fmt.Errorf("CPF item %d data: %w", i, err)
		}
		if !fn(Item{Type: typ, Data: data}) {
			return nil
		}
	}
	return nil
}
