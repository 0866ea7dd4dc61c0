package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"salesync/internal/models"
)

// Channel names used in logs, metrics and acks.
const (
	NameAuthoritative = "authoritative"
	NameMirror        = "mirror"
	NameIngestion     = "ingestion"
)

// ErrNotConfigured is returned by constructors missing a required endpoint.
var ErrNotConfigured = errors.New("channel not configured")

// Delivery is what a channel is asked to deliver: the canonical event and
// the raw record it was built from. Both carry the same id_global.
type Delivery struct {
	Event  *models.SyncEvent
	Record *models.PendingSaleRecord
}

// Ack is a successful push.
type Ack struct {
	Channel  string
	RemoteID string
	At       time.Time
	// Duplicate reports that the receiver already had this key.
	Duplicate bool
}

// SyncChannel delivers one sale to one backend. Receivers dedupe by
// id_global, so retrying a push with the same Delivery is safe.
type SyncChannel interface {
	Name() string
	Push(ctx context.Context, d Delivery) (*Ack, error)
}

// PushError describes a failed push. StatusCode is zero for transport errors.
type PushError struct {
	Channel    string
	StatusCode int
	Message    string
	Err        error
}

func (e *PushError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Channel, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Channel, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Channel, e.Err)
	default:
		return e.Channel + ": push failed"
	}
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// Permanent reports an application-level rejection (4xx other than
// timeout/throttling). Such pushes are still retried like any other failure.
func (e *PushError) Permanent() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	return e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

// IsPermanent unwraps err looking for a permanent PushError.
func IsPermanent(err error) bool {
	var pe *PushError
	return errors.As(err, &pe) && pe.Permanent()
}

func validDelivery(d Delivery) error {
	if d.Record == nil || d.Event == nil {
		return errors.New("delivery without record or event")
	}
	if d.Record.IDGlobal == "" || d.Event.EventoUID != d.Record.IDGlobal {
		return fmt.Errorf("delivery key mismatch: event %q record %q", d.Event.EventoUID, d.Record.IDGlobal)
	}
	return nil
}
