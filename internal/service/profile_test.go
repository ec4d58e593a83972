package service

import (
	"context"
	"testing"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProfileLedger struct {
	profiles map[uuid.UUID]*models.Profile
}

func (l *fakeProfileLedger) CreateProfile(_ context.Context, p *models.Profile) error {
	cp := *p
	l.profiles[p.ID] = &cp
	return nil
}

func (l *fakeProfileLedger) ProfileByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	p, ok := l.profiles[id]
	if !ok {
		return nil, models.ErrProfileNotFound
	}
	return p, nil
}

func TestCreateProfileNormalizesCPF(t *testing.T) {
	ledger := &fakeProfileLedger{profiles: make(map[uuid.UUID]*models.Profile)}
	svc := NewProfileService(ledger)

	p, err := svc.Create(context.Background(), CreateProfileInput{
		FullName: "  Maria da Silva ",
		CPF:      "123.456.789-09",
		Phone:    " +55 11 91234-5678 ",
	})
	require.NoError(t, err)

	assert.Equal(t, "Maria da Silva", p.FullName)
	assert.Equal(t, "12345678909", p.CPF)
	assert.False(t, p.IsAdmin)

	got, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.CPF, got.CPF)
}

func TestCreateProfileRejectsBadCPF(t *testing.T) {
	ledger := &fakeProfileLedger{profiles: make(map[uuid.UUID]*models.Profile)}
	svc := NewProfileService(ledger)

	_, err := svc.Create(context.Background(), CreateProfileInput{FullName: "João", CPF: "123"})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	_, err = svc.Create(context.Background(), CreateProfileInput{FullName: "", CPF: "123.456.789-09"})
	assert.ErrorIs(t, err, ErrInvalidProfile)
}
