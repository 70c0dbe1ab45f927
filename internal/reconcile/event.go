package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/congo-pay/walletcore/internal/ledger"
)

var (
	// ErrUnrecognizedEvent rejects callbacks that do not decode into a known event.
	ErrUnrecognizedEvent = errors.New("unrecognized payment event")

	// ErrUnknownReference rejects callbacks naming a user or withdrawal the core does not know.
	ErrUnknownReference = errors.New("unknown reference")
)

// EventKind is the closed set of callback kinds accepted from the payment gateway.
type EventKind string

const (
	KindSaleCompleted       EventKind = "sale.completed"
	KindSubscriptionCharged EventKind = "subscription.charged"
	KindFeeCharged          EventKind = "fee.charged"
	KindPayoutSettled       EventKind = "payout.settled"
	KindPayoutFailed        EventKind = "payout.failed"
)

// EventStatus is the closed set of gateway statuses.
type EventStatus string

const (
	StatusSucceeded EventStatus = "succeeded"
	StatusFailed    EventStatus = "failed"
	StatusPending   EventStatus = "pending"
)

// entryKind maps money-moving events onto the ledger entry they produce.
func (k EventKind) entryKind() (ledger.Kind, bool) {
	switch k {
	case KindSaleCompleted:
		return ledger.KindSaleCredit, true
	case KindSubscriptionCharged:
		return ledger.KindSubscriptionCharge, true
	case KindFeeCharged:
		return ledger.KindFeeDebit, true
	}
	return "", false
}

func (k EventKind) payout() bool {
	return k == KindPayoutSettled || k == KindPayoutFailed
}

func (k EventKind) valid() bool {
	_, money := k.entryKind()
	return money || k.payout()
}

func (s EventStatus) valid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusPending:
		return true
	}
	return false
}

// Event is a validated gateway callback. WithdrawalID is set for payout events only; Amount is
// optional for them and, when present, must match the withdrawal.
type Event struct {
	ExternalID   string      `json:"external_id"`
	UserID       string      `json:"user_id"`
	Kind         EventKind   `json:"kind"`
	Amount       int64       `json:"amount"`
	Status       EventStatus `json:"status"`
	WithdrawalID string      `json:"withdrawal_id,omitempty"`
	Reason       string      `json:"reason,omitempty"`
}

// Validate checks the event against the closed variants.
func (e Event) Validate() error {
	switch {
	case e.ExternalID == "":
		return fmt.Errorf("%w: external_id is required", ErrUnrecognizedEvent)
	case !e.Kind.valid():
		return fmt.Errorf("%w: unknown kind %q", ErrUnrecognizedEvent, e.Kind)
	case !e.Status.valid():
		return fmt.Errorf("%w: unknown status %q", ErrUnrecognizedEvent, e.Status)
	case e.Amount < 0:
		return fmt.Errorf("%w: amount must not be negative", ErrUnrecognizedEvent)
	}
	if e.Kind.payout() {
		if e.WithdrawalID == "" {
			return fmt.Errorf("%w: withdrawal_id is required for %s", ErrUnrecognizedEvent, e.Kind)
		}
		return nil
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: user_id is required for %s", ErrUnrecognizedEvent, e.Kind)
	}
	if e.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive for %s", ErrUnrecognizedEvent, e.Kind)
	}
	return nil
}

// Decode parses and validates a raw callback body.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnrecognizedEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}

// sniff pulls identifying fields out of a payload that failed to decode so the audit record is
// still searchable.
func sniff(raw []byte) (externalID, userID, kind string) {
	fields := gjson.GetManyBytes(raw, "external_id", "user_id", "kind")
	return fields[0].String(), fields[1].String(), fields[2].String()
}
