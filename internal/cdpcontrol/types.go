package cdpcontrol

import (
	"fmt"

	"github.com/chromedp/cdproto/target"
)

const (
	CodeInvalidParameters = "INVALID_PARAMETERS"
	CodeTargetNotFound    = "TARGET_NOT_FOUND"
	CodeProtocolError     = "PROTOCOL_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeConnectionError   = "CONNECTION_ERROR"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// TabInfo describes a browser tab mapped from a debugging-protocol target.
// Index is positional within one listing snapshot and shifts when a
// lower-indexed tab closes; it is not a stable identifier.
type TabInfo struct {
	Index    int       `json:"index"`
	TargetID target.ID `json:"id"`
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	Type     string    `json:"type"`

	// WebSocketURL is the per-target debugger endpoint. Routing detail,
	// not part of the listing a caller sees.
	WebSocketURL string `json:"-"`
}

// TabRef addresses a target either by listing index or, when TargetID is
// non-empty, by its protocol identifier directly.
type TabRef struct {
	Index    int
	TargetID string
}

func (r TabRef) String() string {
	if r.TargetID != "" {
		return r.TargetID
	}
	return fmt.Sprintf("#%d", r.Index)
}
