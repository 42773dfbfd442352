// pkg/ticketing/errors.go

package ticketing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoDevice means the first record does not resolve to a live device.
	ErrNoDevice = errors.New("records resolve to no device")
	// ErrEntityMismatch means the records span entities or sit outside the
	// requested one.
	ErrEntityMismatch = errors.New("records are not in the ticket entity")
	// ErrHost wraps a failed ticket creation call on the host.
	ErrHost = errors.New("ticketing host rejected the ticket")
)

// BacklinkError reports records that could not be pointed at a ticket that
// was created. The ticket itself exists.
type BacklinkError struct {
	TicketID uint
	Failed   []uint
	Err      error
}

func (e *BacklinkError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, id := range e.Failed {
		ids[i] = fmt.Sprint(id)
	}
	msg := fmt.Sprintf("ticket %d created but back-link failed", e.TicketID)
	if len(ids) > 0 {
		msg += " for records " + strings.Join(ids, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BacklinkError) Unwrap() error { return e.Err }
