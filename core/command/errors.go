package command

import (
	"errors"
	"fmt"

	"github.com/kilianp07/fleetbridge/core/remote"
)

// PayloadError reports a payload the command does not accept.
type PayloadError struct {
	Command string
	Payload string
	Reason  string
}

func (e *PayloadError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported payload %q", e.Payload)
	}
	return fmt.Sprintf("unsupported payload %q: %s", e.Payload, e.Reason)
}

func payloadErr(payload, format string, args ...any) *PayloadError {
	return &PayloadError{Payload: payload, Reason: fmt.Sprintf(format, args...)}
}

// Failure reasons recorded in metrics.
const (
	ReasonPayload     = "unsupported_payload"
	ReasonUnsupported = "unsupported_command"
)

const unexpectedMessage = "unexpected error, see gateway logs"

// classify returns the metrics reason and the result message for err.
func classify(err error) (reason, msg string) {
	var pe *PayloadError
	if errors.As(err, &pe) {
		return ReasonPayload, pe.Error()
	}
	switch kind := remote.KindOf(err); kind {
	case remote.KindRemote, remote.KindAuthExpired:
		return kind.String(), remote.Reason(err)
	default:
		return kind.String(), unexpectedMessage
	}
}
