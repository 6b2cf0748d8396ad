package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/georgelake2/plcaudit/internal/cip/codec"
	"github.com/georgelake2/plcaudit/internal/cip/protocol"
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapNetworkError wraps connect and session errors with user-friendly context
func WrapNetworkError(err error, ip string, port int) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to open an EtherNet/IP session with %s:%d", ip, port),
		Reason:  extractNetworkReason(err),
		Hint:    "The controller may be offline, or the port may not be 44818",
		Try:     fmt.Sprintf("plcaudit read --ip %s --port %d --tag <base>.AuditValue --type lint", ip, port),
		Err:     err,
	}
}

// WrapCIPError wraps tag service errors with user-friendly context
func WrapCIPError(err error, operation, tag string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("CIP %s failed for tag %s", operation, tag),
		Reason:  extractCIPReason(err),
		Hint:    "Tag names are case-sensitive and members are joined with '.'",
		Try:     fmt.Sprintf("plcaudit read --tag %s --type scalar", tag),
		Err:     err,
	}
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Run 'plcaudit init' to generate a commented starting point",
		Try:     fmt.Sprintf("plcaudit validate-config --config %s", configPath),
		Err:     err,
	}
}

func extractNetworkReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timeout - controller may be offline or unreachable"
	}
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused - nothing is listening on this port"
	}
	if strings.Contains(errStr, "no route to host") {
		return "No route to host - network routing issue or controller unreachable"
	}
	if strings.Contains(errStr, "connection reset") || strings.Contains(errStr, "EOF") {
		return "Connection reset - controller closed the connection unexpectedly"
	}
	if strings.Contains(errStr, "session handle") {
		return "Controller accepted the connection but did not register a session"
	}

	return "Network communication failed"
}

func extractCIPReason(err error) string {
	var status *protocol.StatusError
	if stderrors.As(err, &status) {
		switch status.Status {
		case protocol.StatusPathSegmentError, protocol.StatusPathDestUnknown:
			return "Controller does not recognise the tag path"
		default:
			return fmt.Sprintf("Controller returned CIP status 0x%02X (%s)", status.Status, protocol.StatusName(status.Status))
		}
	}
	if stderrors.Is(err, protocol.ErrTypeMismatch) {
		return "Tag exists but has a different data type than requested"
	}
	if stderrors.Is(err, protocol.ErrUnsupportedType) {
		return "Tag has a data type this tool cannot decode"
	}
	if stderrors.Is(err, protocol.ErrPathTooLong) || stderrors.Is(err, protocol.ErrSegmentTooLong) || stderrors.Is(err, protocol.ErrEmptyTag) {
		return "Tag name cannot be encoded as a symbolic path"
	}
	if stderrors.Is(err, codec.ErrShortBuffer) || stderrors.Is(err, protocol.ErrNotReply) {
		return "Received invalid or malformed response from controller"
	}
	if strings.Contains(err.Error(), "timeout") {
		return "Controller did not respond within timeout period"
	}

	return "CIP protocol error occurred"
}
