package protocol

import (
	"fmt"
	"strings"
)

// General status codes a Logix controller returns for tag services.
const (
	StatusSuccess             uint8 = 0x00
	StatusPathSegmentError    uint8 = 0x04
	StatusPathDestUnknown     uint8 = 0x05
	StatusPartialTransfer     uint8 = 0x06
	StatusServiceNotSupported uint8 = 0x08
	StatusNotEnoughData       uint8 = 0x13
	StatusTooMuchData         uint8 = 0x15
	StatusInvalidParameter    uint8 = 0x20
	StatusGeneralError        uint8 = 0x1E
	StatusVendorSpecific      uint8 = 0xFF
)

var statusNames = map[uint8]string{
	StatusPathSegmentError:    "path segment error",
	StatusPathDestUnknown:     "path destination unknown",
	StatusPartialTransfer:     "partial transfer",
	StatusServiceNotSupported: "service not supported",
	StatusNotEnoughData:       "not enough data",
	StatusTooMuchData:         "too much data",
	StatusGeneralError:        "embedded service error",
	StatusInvalidParameter:    "invalid parameter",
	StatusVendorSpecific:      "vendor specific error",
}

// StatusName returns a short description of a general status code.
func StatusName(status uint8) string {
	if status == StatusSuccess {
		return "success"
	}
	if name, ok := statusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%02X", status)
}

// StatusError is a reply with a nonzero general status.
type StatusError struct {
	Service   uint8
	Status    uint8
	ExtStatus []uint16
}

func (e *StatusError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CIP service 0x%02X failed: %s (0x%02X)", e.Service, StatusName(e.Status), e.Status)
	for _, ext := range e.ExtStatus {
		fmt.Fprintf(&b, " ext=0x%04X", ext)
	}
	return b.String()
}
