package payments

import (
	"encoding/json"
	"regexp"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusVoided     Status = "VOIDED"
	StatusConfirmed  Status = "CONFIRMED"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusVoided || s == StatusConfirmed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusVoided, StatusConfirmed:
		return true
	}
	return false
}

// amountPattern: non-negative decimal string, at most two fractional
// digits.
var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)

func ValidAmount(s string) bool { return amountPattern.MatchString(s) }

type Payment struct {
	ID        string         `gorm:"type:char(36);primaryKey" json:"id"`
	Creator   string         `gorm:"type:char(36);not null;index:ix_payments_creator_status,priority:1" json:"creator"`
	Amount    string         `gorm:"type:varchar(32);not null" json:"amount"`
	Currency  string         `gorm:"type:char(3)" json:"currency,omitempty"`
	Service   string         `gorm:"type:varchar(64)" json:"service,omitempty"`
	ServiceID string         `gorm:"type:varchar(128)" json:"serviceId,omitempty"`
	Status    Status         `gorm:"type:varchar(16);not null;index:ix_payments_creator_status,priority:2" json:"status"`
	Validated *bool          `json:"validated"`
	Orders    datatypes.JSON `gorm:"type:json;not null" json:"orders"`
	Error     datatypes.JSON `gorm:"type:json" json:"error,omitempty"`

	// PendingKey mirrors Creator while the payment is PENDING and is
	// NULL otherwise. ux_payments_pending_key is the uniqueness
	// constraint that keeps at most one PENDING payment per creator,
	// whatever the request interleaving looks like.
	PendingKey *string `gorm:"type:char(36);uniqueIndex:ux_payments_pending_key" json:"-"`

	Created time.Time `gorm:"type:datetime(3);not null" json:"created"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) Finished() bool { return p.Status.Finished() }

// SyncPendingKey keeps the uniqueness column in line with the status.
// Stores call it before every write.
func (p *Payment) SyncPendingKey() {
	if p.Status == StatusPending {
		c := p.Creator
		p.PendingKey = &c
		return
	}
	p.PendingKey = nil
}

// RecordError stores the last failure on the payment, truncated so it
// can always be persisted.
func (p *Payment) RecordError(cause error) {
	msg := cause.Error()
	if len(msg) > 250 {
		msg = msg[:250]
	}
	raw, err := json.Marshal(map[string]string{"message": msg})
	if err != nil {
		return
	}
	p.Error = datatypes.JSON(raw)
}

// PaymentParams carries the client-submitted mutable fields of a
// payment. The merge path replaces these wholesale on the existing
// pending payment.
type PaymentParams struct {
	Amount    string
	Currency  string
	Service   string
	ServiceID string
	Orders    []json.RawMessage
}

func (p PaymentParams) ordersJSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(p.Orders)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
