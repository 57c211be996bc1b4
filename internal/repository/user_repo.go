package repository

import (
	"context"

	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, role, full_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query, user.Email, user.PasswordHash, user.Role, user.FullName).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, role, full_name, total_commissions, total_referrals, created_at, updated_at
		FROM users
		WHERE email = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.FullName,
		&user.ReferralStats.TotalCommissions,
		&user.ReferralStats.TotalReferrals,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, role, full_name, total_commissions, total_referrals, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.FullName,
		&user.ReferralStats.TotalCommissions,
		&user.ReferralStats.TotalReferrals,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) ListByRole(ctx context.Context, role string) ([]models.User, error) {
	query := `
		SELECT id, email, password_hash, role, full_name, total_commissions, total_referrals, created_at, updated_at
		FROM users
		WHERE role = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.PasswordHash,
			&user.Role,
			&user.FullName,
			&user.ReferralStats.TotalCommissions,
			&user.ReferralStats.TotalReferrals,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// IncrementReferralStats credits a coach's denormalized running balance
// after a successful redemption.
func (r *UserRepository) IncrementReferralStats(ctx context.Context, userID int64, commission float64) error {
	query := `
		UPDATE users
		SET total_commissions = total_commissions + $2,
		    total_referrals = total_referrals + 1,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, userID, commission)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RecomputeReferralStats rebuilds every coach's running balance from
// the usage history in a single statement. Safe to re-run.
func (r *UserRepository) RecomputeReferralStats(ctx context.Context) error {
	query := `
		UPDATE users u
		SET total_commissions = COALESCE(t.commissions, 0),
		    total_referrals = COALESCE(t.referrals, 0),
		    updated_at = now()
		FROM users c
		LEFT JOIN (
			SELECT rc.coach_id,
			       SUM(ru.commission_earned) AS commissions,
			       COUNT(*) AS referrals
			FROM referral_usages ru
			JOIN referral_codes rc ON rc.id = ru.referral_code_id
			GROUP BY rc.coach_id
		) t ON t.coach_id = c.id
		WHERE u.id = c.id AND c.role = 'coach'
	`
	_, err := r.db.Exec(ctx, query)
	return err
}
