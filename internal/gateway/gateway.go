package gateway

import (
	"context"
	"time"
)

// Charge statuses as reported by the payment provider. Anything the provider
// returns outside this set is passed through untouched; the deposit flow only
// acts on StatusApproved and keeps polling otherwise.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)

// Charge is the gateway-issued Pix payment request. It lives only for the
// duration of one deposit flow and is never persisted.
type Charge struct {
	ID          string
	QRPayload   string // Pix copia-e-cola code
	QRImage     string // base64-encoded QR PNG, may be empty
	AmountCents int64
	CreatedAt   time.Time
}

// ChargeStatus is the settlement state of a charge at poll time.
type ChargeStatus struct {
	Status      string
	AmountCents int64
}

// Gateway is the external payment collaborator. The provider guarantees no
// structured error codes, so implementations return generic errors for any
// non-2xx or undecodable response and callers treat them as retryable until
// the flow deadline.
type Gateway interface {
	// CreateCharge requests a new Pix charge and returns its id and QR artifacts.
	CreateCharge(ctx context.Context, amountCents int64, description string) (*Charge, error)
	// GetChargeStatus reports the settlement status of an existing charge.
	GetChargeStatus(ctx context.Context, id string) (*ChargeStatus, error)
}
