package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by the repository layer. Uniqueness violations on
// optimistic inserts map to these so callers can treat them as expected,
// retryable outcomes instead of plumbing pg error codes around.
var (
	ErrGroupNotFound       = errors.New("group not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrLoanRequestNotFound = errors.New("loan request not found")
	ErrPositionTaken       = errors.New("position already taken")
	ErrAlreadyMember       = errors.New("profile already joined this group")
	ErrDuplicateRequest    = errors.New("a pending loan request already exists")
	ErrRequestNotPending   = errors.New("loan request is not pending")
	ErrGroupNotActive      = errors.New("group is not active")
	ErrCycleIncomplete     = errors.New("cycle is not complete: members still waiting for payout")
)

const (
	GroupStatusActive    = "active"
	GroupStatusCompleted = "completed"
	GroupStatusCancelled = "cancelled"

	DepositStatusPending   = "pending"
	DepositStatusConfirmed = "confirmed"
	DepositStatusFailed    = "failed"

	LoanRequestPending  = "pending"
	LoanRequestApproved = "approved"
	LoanRequestRejected = "rejected"

	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

type Profile struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	CPF       string    `json:"cpf"`
	Phone     string    `json:"phone,omitempty"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

type Group struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	CreatedBy          uuid.UUID `json:"created_by"`
	Status             string    `json:"status"`
	CurrentCycle       int       `json:"current_cycle"`
	MaxMembers         int       `json:"max_members"`
	DepositCents       int64     `json:"deposit_cents"`
	WeeklyPaymentCents int64     `json:"weekly_payment_cents"`
	PayoutCents        int64     `json:"payout_cents"`
	ServiceFeePercent  int       `json:"service_fee_percent"`
	CreatedAt          time.Time `json:"created_at"`
}

// GroupSummary is a group row enriched with its current member count for
// dashboard listings.
type GroupSummary struct {
	Group
	MemberCount int `json:"member_count"`
}

type Member struct {
	ID          uuid.UUID  `json:"id"`
	GroupID     uuid.UUID  `json:"group_id"`
	ProfileID   uuid.UUID  `json:"profile_id"`
	Position    int        `json:"position"`
	HasReceived bool       `json:"has_received"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`
}

type Deposit struct {
	ID          uuid.UUID  `json:"id"`
	GroupID     uuid.UUID  `json:"group_id"`
	MemberID    uuid.UUID  `json:"member_id"`
	AmountCents int64      `json:"amount_cents"`
	Status      string     `json:"status"`
	PixCode     string     `json:"pix_code,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

type LoanRequest struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	GroupID     uuid.UUID `json:"group_id"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// LoanRequestDetail joins the requester's profile for admin listings.
type LoanRequestDetail struct {
	LoanRequest
	FullName string `json:"full_name"`
	CPF      string `json:"cpf"`
}

// Payment records a payout disbursement or weekly installment for a member.
type Payment struct {
	ID          uuid.UUID  `json:"id"`
	GroupID     uuid.UUID  `json:"group_id"`
	PayerID     uuid.UUID  `json:"payer_id"`
	AmountCents int64      `json:"amount_cents"`
	WeekNumber  int        `json:"week_number"`
	DueDate     time.Time  `json:"due_date"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
