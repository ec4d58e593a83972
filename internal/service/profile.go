package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/google/uuid"
)

var ErrInvalidProfile = errors.New("full name and cpf are required")

// ProfileLedger is the slice of the ledger profile management needs.
type ProfileLedger interface {
	CreateProfile(ctx context.Context, p *models.Profile) error
	ProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

type ProfileService struct {
	ledger ProfileLedger
	now    func() time.Time
}

func NewProfileService(ledger ProfileLedger) *ProfileService {
	return &ProfileService{ledger: ledger, now: time.Now}
}

type CreateProfileInput struct {
	FullName string `json:"full_name"`
	CPF      string `json:"cpf"`
	Phone    string `json:"phone"`
}

func (s *ProfileService) Create(ctx context.Context, in CreateProfileInput) (*models.Profile, error) {
	fullName := strings.TrimSpace(in.FullName)
	cpf := normalizeCPF(in.CPF)
	if fullName == "" || len(cpf) != 11 {
		return nil, ErrInvalidProfile
	}
	p := &models.Profile{
		ID:        uuid.New(),
		FullName:  fullName,
		CPF:       cpf,
		Phone:     strings.TrimSpace(in.Phone),
		CreatedAt: s.now(),
	}
	if err := s.ledger.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProfileService) Get(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return s.ledger.ProfileByID(ctx, id)
}

// normalizeCPF strips the usual punctuation from a CPF: 123.456.789-09
// becomes 12345678909.
func normalizeCPF(cpf string) string {
	var b strings.Builder
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
