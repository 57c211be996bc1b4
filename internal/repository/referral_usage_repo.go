package repository

import (
	"context"

	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/models"
)

type CreateReferralUsageInput struct {
	ReferralCodeID   string
	UserID           int64
	UserName         string
	UserEmail        string
	AmountSaved      float64
	CommissionEarned float64
}

type GlobalUsageTotals struct {
	Redemptions      int
	TotalCommissions float64
	TotalSavings     float64
}

type ReferralUsageRepository struct {
	db DBTX
}

func NewReferralUsageRepository(db DBTX) *ReferralUsageRepository {
	return &ReferralUsageRepository{db: db}
}

const referralUsageColumns = `id, referral_code_id, user_id, user_name, user_email, amount_saved, commission_earned, used_at`

func scanReferralUsage(row interface{ Scan(dest ...any) error }) (*models.ReferralUsage, error) {
	var usage models.ReferralUsage
	err := row.Scan(
		&usage.ID,
		&usage.ReferralCodeID,
		&usage.UserID,
		&usage.UserName,
		&usage.UserEmail,
		&usage.AmountSaved,
		&usage.CommissionEarned,
		&usage.UsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (r *ReferralUsageRepository) Create(ctx context.Context, input CreateReferralUsageInput) (*models.ReferralUsage, error) {
	query := `
		INSERT INTO referral_usages (referral_code_id, user_id, user_name, user_email, amount_saved, commission_earned)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + referralUsageColumns + `
	`
	return scanReferralUsage(r.db.QueryRow(
		ctx,
		query,
		input.ReferralCodeID,
		input.UserID,
		input.UserName,
		input.UserEmail,
		input.AmountSaved,
		input.CommissionEarned,
	))
}

func (r *ReferralUsageRepository) Exists(ctx context.Context, referralCodeID string, userID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM referral_usages
			WHERE referral_code_id = $1 AND user_id = $2
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, referralCodeID, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *ReferralUsageRepository) ListByCodeID(ctx context.Context, referralCodeID string) ([]models.ReferralUsage, error) {
	query := `
		SELECT ` + referralUsageColumns + `
		FROM referral_usages
		WHERE referral_code_id = $1
		ORDER BY used_at, id
	`
	return r.list(ctx, query, referralCodeID)
}

// ListByCoachID returns the usage history across every code the coach
// has ever owned, active or retired.
func (r *ReferralUsageRepository) ListByCoachID(ctx context.Context, coachID int64) ([]models.ReferralUsage, error) {
	query := `
		SELECT ru.id, ru.referral_code_id, ru.user_id, ru.user_name, ru.user_email, ru.amount_saved, ru.commission_earned, ru.used_at
		FROM referral_usages ru
		JOIN referral_codes rc ON rc.id = ru.referral_code_id
		WHERE rc.coach_id = $1
		ORDER BY ru.used_at, ru.id
	`
	return r.list(ctx, query, coachID)
}

func (r *ReferralUsageRepository) list(ctx context.Context, query string, args ...any) ([]models.ReferralUsage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []models.ReferralUsage
	for rows.Next() {
		usage, err := scanReferralUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, *usage)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return usages, nil
}

func (r *ReferralUsageRepository) GlobalTotals(ctx context.Context) (*GlobalUsageTotals, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(commission_earned), 0), COALESCE(SUM(amount_saved), 0)
		FROM referral_usages
	`
	var totals GlobalUsageTotals
	err := r.db.QueryRow(ctx, query).Scan(
		&totals.Redemptions,
		&totals.TotalCommissions,
		&totals.TotalSavings,
	)
	if err != nil {
		return nil, err
	}
	return &totals, nil
}
