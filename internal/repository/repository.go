package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/giroclub/giroclub-backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the group ledger: hand-written pgx queries over the giro
// schema. Uniqueness violations on optimistic inserts come back as typed
// model errors so services can treat them as expected concurrency outcomes.
type Repository struct {
	db    *pgxpool.Pool
	store *Store
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db, store: NewStore(db)}
}

// ---- profiles ----

func (r *Repository) CreateProfile(ctx context.Context, p *models.Profile) error {
	query := `INSERT INTO profiles (id, full_name, cpf, phone, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING created_at`
	err := r.db.QueryRow(ctx, query, p.ID, p.FullName, p.CPF, nullable(p.Phone), p.IsAdmin).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (r *Repository) ProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p := &models.Profile{}
	var phone *string
	query := `SELECT id, full_name, cpf, phone, is_admin, created_at FROM profiles WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.FullName, &p.CPF, &phone, &p.IsAdmin, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if phone != nil {
		p.Phone = *phone
	}
	return p, nil
}

// ---- groups ----

// CreateGroup inserts the group and its creator as the member at position 1
// in one transaction.
func (r *Repository) CreateGroup(ctx context.Context, g *models.Group, creator *models.Member) error {
	return r.store.RunInTx(ctx, func(tx pgx.Tx) error {
		query := `INSERT INTO groups
			(id, name, created_by, status, current_cycle, max_members,
			 deposit_cents, weekly_payment_cents, payout_cents, service_fee_percent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW()) RETURNING created_at`
		err := tx.QueryRow(ctx, query,
			g.ID, g.Name, g.CreatedBy, g.Status, g.CurrentCycle, g.MaxMembers,
			g.DepositCents, g.WeeklyPaymentCents, g.PayoutCents, g.ServiceFeePercent,
		).Scan(&g.CreatedAt)
		if err != nil {
			return fmt.Errorf("create group: %w", err)
		}

		if err := insertMember(ctx, tx, creator); err != nil {
			return err
		}
		return nil
	})
}

func (r *Repository) GroupByID(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	g := &models.Group{}
	query := `SELECT id, name, created_by, status, current_cycle, max_members,
		deposit_cents, weekly_payment_cents, payout_cents, service_fee_percent, created_at
		FROM groups WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&g.ID, &g.Name, &g.CreatedBy, &g.Status, &g.CurrentCycle, &g.MaxMembers,
		&g.DepositCents, &g.WeeklyPaymentCents, &g.PayoutCents, &g.ServiceFeePercent, &g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrGroupNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (r *Repository) ListGroupsByProfile(ctx context.Context, profileID uuid.UUID) ([]models.GroupSummary, error) {
	query := `SELECT g.id, g.name, g.created_by, g.status, g.current_cycle, g.max_members,
		g.deposit_cents, g.weekly_payment_cents, g.payout_cents, g.service_fee_percent, g.created_at,
		(SELECT COUNT(*) FROM group_members c WHERE c.group_id = g.id) AS member_count
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.profile_id = $1
		ORDER BY g.created_at DESC`
	rows, err := r.db.Query(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("list groups by profile: %w", err)
	}
	defer rows.Close()

	var groups []models.GroupSummary
	for rows.Next() {
		var s models.GroupSummary
		if err := rows.Scan(
			&s.ID, &s.Name, &s.CreatedBy, &s.Status, &s.CurrentCycle, &s.MaxMembers,
			&s.DepositCents, &s.WeeklyPaymentCents, &s.PayoutCents, &s.ServiceFeePercent, &s.CreatedAt,
			&s.MemberCount,
		); err != nil {
			return nil, fmt.Errorf("scan group summary: %w", err)
		}
		groups = append(groups, s)
	}
	return groups, rows.Err()
}

func (r *Repository) ListGroupsByStatus(ctx context.Context, status string, limit, offset int) ([]models.GroupSummary, error) {
	query := `SELECT g.id, g.name, g.created_by, g.status, g.current_cycle, g.max_members,
		g.deposit_cents, g.weekly_payment_cents, g.payout_cents, g.service_fee_percent, g.created_at,
		(SELECT COUNT(*) FROM group_members c WHERE c.group_id = g.id) AS member_count
		FROM groups g
		WHERE ($1 = '' OR g.status = $1)
		ORDER BY g.created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []models.GroupSummary
	for rows.Next() {
		var s models.GroupSummary
		if err := rows.Scan(
			&s.ID, &s.Name, &s.CreatedBy, &s.Status, &s.CurrentCycle, &s.MaxMembers,
			&s.DepositCents, &s.WeeklyPaymentCents, &s.PayoutCents, &s.ServiceFeePercent, &s.CreatedAt,
			&s.MemberCount,
		); err != nil {
			return nil, fmt.Errorf("scan group summary: %w", err)
		}
		groups = append(groups, s)
	}
	return groups, rows.Err()
}

func (r *Repository) ListActiveGroups(ctx context.Context) ([]models.Group, error) {
	query := `SELECT id, name, created_by, status, current_cycle, max_members,
		deposit_cents, weekly_payment_cents, payout_cents, service_fee_percent, created_at
		FROM groups WHERE status = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, models.GroupStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(
			&g.ID, &g.Name, &g.CreatedBy, &g.Status, &g.CurrentCycle, &g.MaxMembers,
			&g.DepositCents, &g.WeeklyPaymentCents, &g.PayoutCents, &g.ServiceFeePercent, &g.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AdvanceGroupCycle finishes a completed cycle: every member must have
// received. With complete=false the cycle counter advances and received
// flags reset; with complete=true the group closes instead.
func (r *Repository) AdvanceGroupCycle(ctx context.Context, groupID uuid.UUID, actorID *uuid.UUID, complete bool) error {
	return r.store.RunInTx(ctx, func(tx pgx.Tx) error {
		var status string
		var cycle int
		err := tx.QueryRow(ctx, `SELECT status, current_cycle FROM groups WHERE id = $1 FOR UPDATE`, groupID).
			Scan(&status, &cycle)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrGroupNotFound
			}
			return fmt.Errorf("lock group: %w", err)
		}
		if status != models.GroupStatusActive {
			return models.ErrGroupNotActive
		}

		var waiting int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND has_received = FALSE`, groupID,
		).Scan(&waiting)
		if err != nil {
			return fmt.Errorf("count waiting members: %w", err)
		}
		if waiting > 0 {
			return models.ErrCycleIncomplete
		}

		action := "cycle_advanced"
		nextState := models.GroupStatusActive
		if complete {
			action = "group_completed"
			nextState = models.GroupStatusCompleted
			if _, err := tx.Exec(ctx,
				`UPDATE groups SET status = $1, updated_at = NOW() WHERE id = $2`,
				models.GroupStatusCompleted, groupID,
			); err != nil {
				return fmt.Errorf("complete group: %w", err)
			}
		} else {
			if _, err := tx.Exec(ctx,
				`UPDATE groups SET current_cycle = current_cycle + 1, updated_at = NOW() WHERE id = $1`,
				groupID,
			); err != nil {
				return fmt.Errorf("advance cycle: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE group_members SET has_received = FALSE, received_at = NULL WHERE group_id = $1`,
				groupID,
			); err != nil {
				return fmt.Errorf("reset member flags: %w", err)
			}
		}

		meta, _ := json.Marshal(map[string]int{"cycle": cycle})
		return insertAudit(ctx, tx, "group", groupID, actorID, action, status, nextState, meta)
	})
}

// ---- members ----

func (r *Repository) ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.Member, error) {
	query := `SELECT id, group_id, profile_id, position, has_received, received_at, joined_at
		FROM group_members WHERE group_id = $1 ORDER BY position`
	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.GroupID, &m.ProfileID, &m.Position, &m.HasReceived, &m.ReceivedAt, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *Repository) MemberByProfile(ctx context.Context, groupID, profileID uuid.UUID) (*models.Member, error) {
	m := &models.Member{}
	query := `SELECT id, group_id, profile_id, position, has_received, received_at, joined_at
		FROM group_members WHERE group_id = $1 AND profile_id = $2`
	err := r.db.QueryRow(ctx, query, groupID, profileID).
		Scan(&m.ID, &m.GroupID, &m.ProfileID, &m.Position, &m.HasReceived, &m.ReceivedAt, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member by profile: %w", err)
	}
	return m, nil
}

// AddMember performs the optimistic slot insert. A position collision with a
// concurrent joiner surfaces as ErrPositionTaken; the caller retries with a
// fresh snapshot.
func (r *Repository) AddMember(ctx context.Context, m *models.Member) error {
	return insertMember(ctx, r.db, m)
}

type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertMember(ctx context.Context, db execer, m *models.Member) error {
	query := `INSERT INTO group_members (id, group_id, profile_id, position, has_received, joined_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW()) RETURNING joined_at`
	err := db.QueryRow(ctx, query, m.ID, m.GroupID, m.ProfileID, m.Position).Scan(&m.JoinedAt)
	if err != nil {
		switch constraintName(err) {
		case "group_members_position_key":
			return models.ErrPositionTaken
		case "group_members_profile_key":
			return models.ErrAlreadyMember
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// ---- deposits ----

// InsertConfirmedDeposit writes the settlement record for a Pix charge. The
// unique pix_code constraint makes the write idempotent: a second observer of
// the same approved charge gets inserted=false and no duplicate row.
func (r *Repository) InsertConfirmedDeposit(ctx context.Context, d *models.Deposit) (bool, error) {
	query := `INSERT INTO deposits (id, group_id, member_id, amount_cents, status, pix_code, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
		ON CONFLICT ON CONSTRAINT deposits_pix_code_key DO NOTHING`
	tag, err := r.db.Exec(ctx, query, d.ID, d.GroupID, d.MemberID, d.AmountCents, models.DepositStatusConfirmed, d.PixCode, d.ConfirmedAt)
	if err != nil {
		return false, fmt.Errorf("insert confirmed deposit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ListDeposits(ctx context.Context, groupID uuid.UUID, limit int) ([]models.Deposit, error) {
	query := `SELECT id, group_id, member_id, amount_cents, status, COALESCE(pix_code, ''), created_at, confirmed_at
		FROM deposits WHERE group_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	defer rows.Close()

	var deposits []models.Deposit
	for rows.Next() {
		var d models.Deposit
		if err := rows.Scan(&d.ID, &d.GroupID, &d.MemberID, &d.AmountCents, &d.Status, &d.PixCode, &d.CreatedAt, &d.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

func (r *Repository) ConfirmedDepositTotal(ctx context.Context, groupID uuid.UUID) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(amount_cents), 0) FROM deposits WHERE group_id = $1 AND status = $2`
	if err := r.db.QueryRow(ctx, query, groupID, models.DepositStatusConfirmed).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum confirmed deposits: %w", err)
	}
	return total, nil
}

// ---- loan requests ----

func (r *Repository) HasPendingLoanRequest(ctx context.Context, userID, groupID uuid.UUID) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM loan_requests WHERE user_id = $1 AND group_id = $2 AND status = $3`
	if err := r.db.QueryRow(ctx, query, userID, groupID, models.LoanRequestPending).Scan(&count); err != nil {
		return false, fmt.Errorf("count pending requests: %w", err)
	}
	return count > 0, nil
}

// InsertLoanRequest relies on the partial unique index over pending rows; a
// race past the workflow's pre-check lands here as ErrDuplicateRequest.
func (r *Repository) InsertLoanRequest(ctx context.Context, lr *models.LoanRequest) error {
	query := `INSERT INTO loan_requests (id, user_id, group_id, amount_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING created_at`
	err := r.db.QueryRow(ctx, query, lr.ID, lr.UserID, lr.GroupID, lr.AmountCents, lr.Status).Scan(&lr.CreatedAt)
	if err != nil {
		if constraintName(err) == "loan_requests_one_pending_idx" {
			return models.ErrDuplicateRequest
		}
		return fmt.Errorf("insert loan request: %w", err)
	}
	return nil
}

func (r *Repository) LoanRequestByID(ctx context.Context, id uuid.UUID) (*models.LoanRequest, error) {
	lr := &models.LoanRequest{}
	query := `SELECT id, user_id, group_id, amount_cents, status, created_at FROM loan_requests WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&lr.ID, &lr.UserID, &lr.GroupID, &lr.AmountCents, &lr.Status, &lr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrLoanRequestNotFound
		}
		return nil, fmt.Errorf("get loan request: %w", err)
	}
	return lr, nil
}

func (r *Repository) ListLoanRequests(ctx context.Context, status string, limit, offset int) ([]models.LoanRequestDetail, error) {
	query := `SELECT lr.id, lr.user_id, lr.group_id, lr.amount_cents, lr.status, lr.created_at,
		p.full_name, p.cpf
		FROM loan_requests lr
		JOIN profiles p ON p.id = lr.user_id
		WHERE ($1 = '' OR lr.status = $1)
		ORDER BY lr.created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list loan requests: %w", err)
	}
	defer rows.Close()

	var requests []models.LoanRequestDetail
	for rows.Next() {
		var d models.LoanRequestDetail
		if err := rows.Scan(&d.ID, &d.UserID, &d.GroupID, &d.AmountCents, &d.Status, &d.CreatedAt, &d.FullName, &d.CPF); err != nil {
			return nil, fmt.Errorf("scan loan request: %w", err)
		}
		requests = append(requests, d)
	}
	return requests, rows.Err()
}

// ApproveLoanRequest flips the request, marks the member as received and
// records the disbursement in one transaction. Partial application (request
// approved, member not marked) cannot happen.
func (r *Repository) ApproveLoanRequest(ctx context.Context, requestID uuid.UUID, actorID *uuid.UUID, receivedAt time.Time) error {
	return r.store.RunInTx(ctx, func(tx pgx.Tx) error {
		lr := models.LoanRequest{}
		err := tx.QueryRow(ctx,
			`SELECT id, user_id, group_id, amount_cents, status FROM loan_requests WHERE id = $1 FOR UPDATE`,
			requestID,
		).Scan(&lr.ID, &lr.UserID, &lr.GroupID, &lr.AmountCents, &lr.Status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrLoanRequestNotFound
			}
			return fmt.Errorf("lock loan request: %w", err)
		}
		if lr.Status != models.LoanRequestPending {
			return models.ErrRequestNotPending
		}

		tag, err := tx.Exec(ctx,
			`UPDATE loan_requests SET status = $1 WHERE id = $2`,
			models.LoanRequestApproved, requestID,
		)
		if err != nil {
			return fmt.Errorf("approve loan request: %w", err)
		}
		if err := requireExactlyOne(tag.RowsAffected(), "approve loan request"); err != nil {
			return err
		}

		var memberID uuid.UUID
		var cycle int
		err = tx.QueryRow(ctx,
			`UPDATE group_members m SET has_received = TRUE, received_at = $1
			 FROM groups g
			 WHERE m.group_id = $2 AND m.profile_id = $3 AND m.has_received = FALSE AND g.id = m.group_id
			 RETURNING m.id, g.current_cycle`,
			receivedAt, lr.GroupID, lr.UserID,
		).Scan(&memberID, &cycle)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("mark member received: %w", models.ErrMemberNotFound)
			}
			return fmt.Errorf("mark member received: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO payments (id, group_id, payer_id, amount_cents, week_number, due_date, status, paid_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
			uuid.New(), lr.GroupID, memberID, lr.AmountCents, cycle, receivedAt, models.PaymentStatusPaid, receivedAt,
		)
		if err != nil {
			return fmt.Errorf("record payout payment: %w", err)
		}

		meta, _ := json.Marshal(map[string]any{"member_id": memberID, "amount_cents": lr.AmountCents})
		if err := insertAudit(ctx, tx, "loan_request", requestID, actorID, "request_approved",
			models.LoanRequestPending, models.LoanRequestApproved, meta); err != nil {
			return err
		}
		return nil
	})
}

func (r *Repository) RejectLoanRequest(ctx context.Context, requestID uuid.UUID, actorID *uuid.UUID) error {
	return r.store.RunInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE loan_requests SET status = $1 WHERE id = $2 AND status = $3`,
			models.LoanRequestRejected, requestID, models.LoanRequestPending,
		)
		if err != nil {
			return fmt.Errorf("reject loan request: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, lookupErr := r.LoanRequestByID(ctx, requestID); lookupErr != nil {
				return lookupErr
			}
			return models.ErrRequestNotPending
		}
		return insertAudit(ctx, tx, "loan_request", requestID, actorID, "request_rejected",
			models.LoanRequestPending, models.LoanRequestRejected, nil)
	})
}

// ---- audit ----

func insertAudit(ctx context.Context, tx pgx.Tx, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		entityType, entityID, actorID, action, nullable(prevState), nullable(nextState), metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ---- helpers ----

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// constraintName extracts the violated unique constraint, or "" when err is
// not a uniqueness violation.
func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}
