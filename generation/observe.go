package generation

import (
	"errors"
	"time"

	"birthday_bot/admission"
)

// Outcomes reported to observers and history.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailure  = "failure"
	OutcomeInvalid  = "invalid"
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, admission.ErrAllDevicesBusy):
		return OutcomeRejected
	case errors.Is(err, ErrEmptyText):
		return OutcomeInvalid
	default:
		return OutcomeFailure
	}
}

// Observer receives stage timings and request outcomes, typically for
// metrics.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveOutcome(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) ObserveOutcome(string)              {}

// Entry is one request as seen by a HistoryRecorder.
type Entry struct {
	RequestID    string
	UserID       int64
	OriginalText string
	UsedContent  string
	Translated   bool
	DeviceID     string
	NumImages    int
	SavedImages  int
	Outcome      string
	Err          error
	Duration     time.Duration
	CreatedAt    time.Time
}

// HistoryRecorder stores request entries. Record must not block.
type HistoryRecorder interface {
	Record(e Entry)
}

type nopHistory struct{}

func (nopHistory) Record(Entry) {}
