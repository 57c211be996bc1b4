package repository

import (
	"context"

	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/models"
)

type CreateReferralCodeInput struct {
	ID         string
	Code       string
	CoachID    int64
	CoachName  string
	CoachEmail string
	Discount   int
	Commission int
}

type ReferralCodeRepository struct {
	db DBTX
}

func NewReferralCodeRepository(db DBTX) *ReferralCodeRepository {
	return &ReferralCodeRepository{db: db}
}

const referralCodeColumns = `id, code, coach_id, coach_name, coach_email, discount, commission, is_active, created_at`

func scanReferralCode(row interface{ Scan(dest ...any) error }) (*models.ReferralCode, error) {
	var code models.ReferralCode
	err := row.Scan(
		&code.ID,
		&code.Code,
		&code.CoachID,
		&code.CoachName,
		&code.CoachEmail,
		&code.Discount,
		&code.Commission,
		&code.IsActive,
		&code.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *ReferralCodeRepository) Create(ctx context.Context, input CreateReferralCodeInput) (*models.ReferralCode, error) {
	query := `
		INSERT INTO referral_codes (id, code, coach_id, coach_name, coach_email, discount, commission)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + referralCodeColumns + `
	`
	return scanReferralCode(r.db.QueryRow(
		ctx,
		query,
		input.ID,
		input.Code,
		input.CoachID,
		input.CoachName,
		input.CoachEmail,
		input.Discount,
		input.Commission,
	))
}

func (r *ReferralCodeRepository) GetActiveByCoachID(ctx context.Context, coachID int64) (*models.ReferralCode, error) {
	query := `
		SELECT ` + referralCodeColumns + `
		FROM referral_codes
		WHERE coach_id = $1 AND is_active
	`
	return scanReferralCode(r.db.QueryRow(ctx, query, coachID))
}

// GetActiveByCode is the lookup used for validation and redemption.
// Matching is case-insensitive.
func (r *ReferralCodeRepository) GetActiveByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	query := `
		SELECT ` + referralCodeColumns + `
		FROM referral_codes
		WHERE upper(code) = upper($1) AND is_active
	`
	return scanReferralCode(r.db.QueryRow(ctx, query, code))
}

// GetByCode matches regardless of active state; deactivation and audit
// paths need access to retired codes.
func (r *ReferralCodeRepository) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	query := `
		SELECT ` + referralCodeColumns + `
		FROM referral_codes
		WHERE upper(code) = upper($1)
	`
	return scanReferralCode(r.db.QueryRow(ctx, query, code))
}

func (r *ReferralCodeRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM referral_codes WHERE upper(code) = upper($1)
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, code).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *ReferralCodeRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE referral_codes
		SET is_active = false
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *ReferralCodeRepository) ListByCoachID(ctx context.Context, coachID int64) ([]models.ReferralCode, error) {
	query := `
		SELECT ` + referralCodeColumns + `
		FROM referral_codes
		WHERE coach_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, coachID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []models.ReferralCode
	for rows.Next() {
		code, err := scanReferralCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *code)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return codes, nil
}

func (r *ReferralCodeRepository) CountCodes(ctx context.Context) (total int, active int, err error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active)
		FROM referral_codes
	`
	if err := r.db.QueryRow(ctx, query).Scan(&total, &active); err != nil {
		return 0, 0, err
	}
	return total, active, nil
}
