package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/giroclub/giroclub-backend/internal/api"
	"github.com/giroclub/giroclub-backend/internal/api/middleware"
	"github.com/giroclub/giroclub-backend/internal/gateway"
	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/giroclub/giroclub-backend/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "giroclub-backend-test"
	testJWTAudience = "giroclub-api-test"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

// memoryLedger backs the whole service layer in memory for API tests.
type memoryLedger struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*models.Profile
	groups   map[uuid.UUID]*models.Group
	members  map[uuid.UUID][]models.Member
	deposits map[string]*models.Deposit
	requests map[uuid.UUID]*models.LoanRequest
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		profiles: make(map[uuid.UUID]*models.Profile),
		groups:   make(map[uuid.UUID]*models.Group),
		members:  make(map[uuid.UUID][]models.Member),
		deposits: make(map[string]*models.Deposit),
		requests: make(map[uuid.UUID]*models.LoanRequest),
	}
}

func (l *memoryLedger) CreateProfile(_ context.Context, p *models.Profile) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *p
	l.profiles[p.ID] = &cp
	return nil
}

func (l *memoryLedger) ProfileByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.profiles[id]
	if !ok {
		return nil, models.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *memoryLedger) CreateGroup(_ context.Context, g *models.Group, creator *models.Member) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *g
	l.groups[g.ID] = &cp
	l.members[g.ID] = []models.Member{*creator}
	return nil
}

func (l *memoryLedger) GroupByID(_ context.Context, id uuid.UUID) (*models.Group, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[id]
	if !ok {
		return nil, models.ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

func (l *memoryLedger) ListGroupsByProfile(_ context.Context, profileID uuid.UUID) ([]models.GroupSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.GroupSummary
	for id, g := range l.groups {
		for _, m := range l.members[id] {
			if m.ProfileID == profileID {
				out = append(out, models.GroupSummary{Group: *g, MemberCount: len(l.members[id])})
				break
			}
		}
	}
	return out, nil
}

func (l *memoryLedger) ListGroupsByStatus(_ context.Context, status string, _, _ int) ([]models.GroupSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.GroupSummary
	for id, g := range l.groups {
		if status == "" || g.Status == status {
			out = append(out, models.GroupSummary{Group: *g, MemberCount: len(l.members[id])})
		}
	}
	return out, nil
}

func (l *memoryLedger) ListMembers(_ context.Context, groupID uuid.UUID) ([]models.Member, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]models.Member(nil), l.members[groupID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (l *memoryLedger) MemberByProfile(_ context.Context, groupID, profileID uuid.UUID) (*models.Member, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.members[groupID] {
		if m.ProfileID == profileID {
			cp := m
			return &cp, nil
		}
	}
	return nil, models.ErrMemberNotFound
}

func (l *memoryLedger) AddMember(_ context.Context, m *models.Member) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.members[m.GroupID] {
		if existing.ProfileID == m.ProfileID {
			return models.ErrAlreadyMember
		}
		if existing.Position == m.Position {
			return models.ErrPositionTaken
		}
	}
	l.members[m.GroupID] = append(l.members[m.GroupID], *m)
	return nil
}

func (l *memoryLedger) AdvanceGroupCycle(_ context.Context, groupID uuid.UUID, _ *uuid.UUID, complete bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[groupID]
	if !ok {
		return models.ErrGroupNotFound
	}
	if g.Status != models.GroupStatusActive {
		return models.ErrGroupNotActive
	}
	for _, m := range l.members[groupID] {
		if !m.HasReceived {
			return models.ErrCycleIncomplete
		}
	}
	if complete {
		g.Status = models.GroupStatusCompleted
		return nil
	}
	g.CurrentCycle++
	for i := range l.members[groupID] {
		l.members[groupID][i].HasReceived = false
		l.members[groupID][i].ReceivedAt = nil
	}
	return nil
}

func (l *memoryLedger) InsertConfirmedDeposit(_ context.Context, d *models.Deposit) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.deposits[d.PixCode]; ok {
		return false, nil
	}
	cp := *d
	l.deposits[d.PixCode] = &cp
	return true, nil
}

func (l *memoryLedger) ListDeposits(_ context.Context, groupID uuid.UUID, _ int) ([]models.Deposit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Deposit
	for _, d := range l.deposits {
		if d.GroupID == groupID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (l *memoryLedger) ConfirmedDepositTotal(_ context.Context, groupID uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, d := range l.deposits {
		if d.GroupID == groupID && d.Status == models.DepositStatusConfirmed {
			total += d.AmountCents
		}
	}
	return total, nil
}

func (l *memoryLedger) HasPendingLoanRequest(_ context.Context, userID, groupID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lr := range l.requests {
		if lr.UserID == userID && lr.GroupID == groupID && lr.Status == models.LoanRequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (l *memoryLedger) InsertLoanRequest(_ context.Context, lr *models.LoanRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.requests {
		if existing.UserID == lr.UserID && existing.GroupID == lr.GroupID && existing.Status == models.LoanRequestPending {
			return models.ErrDuplicateRequest
		}
	}
	cp := *lr
	l.requests[lr.ID] = &cp
	return nil
}

func (l *memoryLedger) LoanRequestByID(_ context.Context, id uuid.UUID) (*models.LoanRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lr, ok := l.requests[id]
	if !ok {
		return nil, models.ErrLoanRequestNotFound
	}
	cp := *lr
	return &cp, nil
}

func (l *memoryLedger) ListLoanRequests(_ context.Context, status string, _, _ int) ([]models.LoanRequestDetail, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.LoanRequestDetail
	for _, lr := range l.requests {
		if status != "" && lr.Status != status {
			continue
		}
		detail := models.LoanRequestDetail{LoanRequest: *lr}
		if p, ok := l.profiles[lr.UserID]; ok {
			detail.FullName = p.FullName
			detail.CPF = p.CPF
		}
		out = append(out, detail)
	}
	return out, nil
}

func (l *memoryLedger) ApproveLoanRequest(_ context.Context, requestID uuid.UUID, _ *uuid.UUID, receivedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lr, ok := l.requests[requestID]
	if !ok {
		return models.ErrLoanRequestNotFound
	}
	if lr.Status != models.LoanRequestPending {
		return models.ErrRequestNotPending
	}
	lr.Status = models.LoanRequestApproved
	for i := range l.members[lr.GroupID] {
		if l.members[lr.GroupID][i].ProfileID == lr.UserID {
			l.members[lr.GroupID][i].HasReceived = true
			t := receivedAt
			l.members[lr.GroupID][i].ReceivedAt = &t
		}
	}
	return nil
}

func (l *memoryLedger) RejectLoanRequest(_ context.Context, requestID uuid.UUID, _ *uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lr, ok := l.requests[requestID]
	if !ok {
		return models.ErrLoanRequestNotFound
	}
	if lr.Status != models.LoanRequestPending {
		return models.ErrRequestNotPending
	}
	lr.Status = models.LoanRequestRejected
	return nil
}

type testEnv struct {
	server *httptest.Server
	ledger *memoryLedger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ledger := newMemoryLedger()

	deposits := service.NewDepositService(ledger, gateway.NewMockGateway()).
		WithPollInterval(time.Hour)
	t.Cleanup(deposits.Stop)

	router := api.NewRouter(
		nil, nil, zap.NewNop(), nil,
		service.NewProfileService(ledger),
		service.NewGroupService(ledger),
		deposits,
		service.NewLoanService(ledger),
		1000, 1000,
	)
	server := httptest.NewServer(router.Routes())
	t.Cleanup(server.Close)

	return &testEnv{server: server, ledger: ledger}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (e *testEnv) registerAndLogin(t *testing.T, name string, admin bool) (uuid.UUID, string) {
	t.Helper()
	resp, body := e.request(t, http.MethodPost, "/v1/profiles", "", map[string]string{
		"full_name": name,
		"cpf":       "123.456.789-09",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var profile models.Profile
	require.NoError(t, json.Unmarshal(body, &profile))

	if admin {
		e.ledger.mu.Lock()
		e.ledger.profiles[profile.ID].IsAdmin = true
		e.ledger.mu.Unlock()
	}

	resp, body = e.request(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"profile_id": profile.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &login))
	require.NotEmpty(t, login.Token)
	return profile.ID, login.Token
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodGet, "/v1/groups", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.request(t, http.MethodGet, "/v1/groups", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGroupLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, creatorToken := env.registerAndLogin(t, "Maria", false)

	resp, body := env.request(t, http.MethodPost, "/v1/groups", creatorToken, map[string]interface{}{
		"name": "Giro da Firma",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var group models.Group
	require.NoError(t, json.Unmarshal(body, &group))
	assert.Equal(t, 5, group.MaxMembers)
	assert.Equal(t, int64(10000), group.DepositCents)

	// Fill the remaining four seats.
	var tokens []string
	for i := 0; i < 4; i++ {
		_, token := env.registerAndLogin(t, fmt.Sprintf("Membro %d", i+2), false)
		tokens = append(tokens, token)
		resp, body := env.request(t, http.MethodPost, "/v1/groups/"+group.ID.String()+"/join", token, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

		var m models.Member
		require.NoError(t, json.Unmarshal(body, &m))
		assert.Equal(t, i+2, m.Position)
	}

	// A sixth member bounces off the full group.
	_, lateToken := env.registerAndLogin(t, "Atrasado", false)
	resp, _ = env.request(t, http.MethodPost, "/v1/groups/"+group.ID.String()+"/join", lateToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Roster comes back ordered by position.
	resp, body = env.request(t, http.MethodGet, "/v1/groups/"+group.ID.String(), creatorToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail service.GroupDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	require.Len(t, detail.Members, 5)
	assert.Equal(t, 1, detail.Members[0].Position)

	// Position 3 cannot request the payout; position 1 can.
	resp, body = env.request(t, http.MethodPost, "/v1/groups/"+group.ID.String()+"/loan-requests", tokens[1], nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))

	resp, body = env.request(t, http.MethodPost, "/v1/groups/"+group.ID.String()+"/loan-requests", creatorToken, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var lr models.LoanRequest
	require.NoError(t, json.Unmarshal(body, &lr))
	assert.Equal(t, models.LoanRequestPending, lr.Status)
	assert.Equal(t, int64(30000), lr.AmountCents)

	// A second request from the same member conflicts.
	resp, _ = env.request(t, http.MethodPost, "/v1/groups/"+group.ID.String()+"/loan-requests", creatorToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDepositFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.registerAndLogin(t, "Maria", false)

	resp, body := env.request(t, http.MethodPost, "/v1/groups", token, map[string]interface{}{"name": "Giro"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var group models.Group
	require.NoError(t, json.Unmarshal(body, &group))

	path := "/v1/groups/" + group.ID.String() + "/deposit"

	resp, body = env.request(t, http.MethodPost, path, token, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var flow service.FlowSnapshot
	require.NoError(t, json.Unmarshal(body, &flow))
	assert.Equal(t, service.FlowAwaitingPayment, flow.State)
	assert.NotEmpty(t, flow.QRPayload)

	resp, body = env.request(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &flow))
	assert.Equal(t, service.FlowAwaitingPayment, flow.State)

	resp, body = env.request(t, http.MethodDelete, path, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &flow))
	assert.Equal(t, service.FlowCancelled, flow.State)

	// Cancelling a finished flow conflicts.
	resp, _ = env.request(t, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Non-members cannot start a deposit.
	_, outsider := env.registerAndLogin(t, "Visitante", false)
	resp, _ = env.request(t, http.MethodPost, path, outsider, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminEndpointsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	creatorID, creatorToken := env.registerAndLogin(t, "Maria", false)
	_, adminToken := env.registerAndLogin(t, "Admin", true)

	// Members cannot reach the back office.
	resp, _ := env.request(t, http.MethodGet, "/v1/admin/loan-requests", creatorToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := env.request(t, http.MethodPost, "/v1/groups", creatorToken, map[string]interface{}{
		"name":        "Giro",
		"max_members": 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var group models.Group
	require.NoError(t, json.Unmarshal(body, &group))

	resp, body = env.request(t, http.MethodPost, "/v1/groups/"+group.ID.String()+"/loan-requests", creatorToken, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var lr models.LoanRequest
	require.NoError(t, json.Unmarshal(body, &lr))

	resp, body = env.request(t, http.MethodGet, "/v1/admin/loan-requests", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Requests []models.LoanRequestDetail `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	require.Len(t, listing.Requests, 1)
	assert.Equal(t, "Maria", listing.Requests[0].FullName)

	resp, body = env.request(t, http.MethodPost, "/v1/admin/loan-requests/"+lr.ID.String()+"/resolve", adminToken, map[string]string{"action": "approve"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &lr))
	assert.Equal(t, models.LoanRequestApproved, lr.Status)

	// With every member paid out, the cycle can advance.
	resp, body = env.request(t, http.MethodPost, "/v1/admin/groups/"+group.ID.String()+"/advance-cycle", adminToken, map[string]bool{"complete": false})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var detail service.GroupDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, 2, detail.Group.CurrentCycle)
	assert.False(t, detail.Members[0].HasReceived)

	member, err := env.ledger.MemberByProfile(context.Background(), group.ID, creatorID)
	require.NoError(t, err)
	assert.False(t, member.HasReceived)
}
