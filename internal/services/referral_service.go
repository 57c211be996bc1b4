package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"strings"

	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/models"
	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidCode     = errors.New("invalid or inactive referral code")
	ErrCodeAlreadyUsed = errors.New("referral code already used by this client")
	ErrCodeNotFound    = errors.New("referral code not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrCodeGeneration  = errors.New("could not generate a unique referral code")
)

const (
	codeSuffixLength          = 4
	codeCharset               = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeGenerationAttempts = 20
)

type referralCodeStore interface {
	Create(ctx context.Context, input repository.CreateReferralCodeInput) (*models.ReferralCode, error)
	GetActiveByCoachID(ctx context.Context, coachID int64) (*models.ReferralCode, error)
	GetActiveByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	GetByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	Deactivate(ctx context.Context, id string) error
	ListByCoachID(ctx context.Context, coachID int64) ([]models.ReferralCode, error)
	CountCodes(ctx context.Context) (int, int, error)
}

type referralUsageStore interface {
	Exists(ctx context.Context, referralCodeID string, userID int64) (bool, error)
	ListByCodeID(ctx context.Context, referralCodeID string) ([]models.ReferralUsage, error)
	ListByCoachID(ctx context.Context, coachID int64) ([]models.ReferralUsage, error)
	GlobalTotals(ctx context.Context) (*repository.GlobalUsageTotals, error)
}

type userDirectory interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	ListByRole(ctx context.Context, role string) ([]models.User, error)
	RecomputeReferralStats(ctx context.Context) error
}

// ReferralCodeDefaults configures code generation. Percentages apply
// when a coach does not override them at creation time.
type ReferralCodeDefaults struct {
	Prefix     string
	Discount   int
	Commission int
}

type ReferralService struct {
	db        *pgxpool.Pool
	codeRepo  referralCodeStore
	usageRepo referralUsageStore
	userRepo  userDirectory
	defaults  ReferralCodeDefaults
}

func NewReferralService(
	db *pgxpool.Pool,
	codeRepo *repository.ReferralCodeRepository,
	usageRepo *repository.ReferralUsageRepository,
	userRepo *repository.UserRepository,
	defaults ReferralCodeDefaults,
) *ReferralService {
	return &ReferralService{
		db:        db,
		codeRepo:  codeRepo,
		usageRepo: usageRepo,
		userRepo:  userRepo,
		defaults:  normalizeDefaults(defaults),
	}
}

func normalizeDefaults(defaults ReferralCodeDefaults) ReferralCodeDefaults {
	if strings.TrimSpace(defaults.Prefix) == "" {
		defaults.Prefix = "SYNRGY"
	}
	if defaults.Discount <= 0 || defaults.Discount > 100 {
		defaults.Discount = 20
	}
	if defaults.Commission <= 0 || defaults.Commission > 100 {
		defaults.Commission = 10
	}
	return defaults
}

type CreateReferralCodeInput struct {
	CoachID    int64
	CoachName  string
	CoachEmail string
	Discount   *int
	Commission *int
}

type ApplyReferralCodeInput struct {
	ClientID      int64
	Code          string
	OriginalPrice float64
}

type InitializeResult struct {
	CoachesProcessed int `json:"coachesProcessed"`
	CodesCreated     int `json:"codesCreated"`
	CodesExisting    int `json:"codesExisting"`
}

// CreateReferralCode is idempotent per coach: while a coach has an
// active code, repeated calls return it instead of minting another.
func (s *ReferralService) CreateReferralCode(
	ctx context.Context,
	input CreateReferralCodeInput,
) (*models.ReferralCode, error) {
	if input.CoachID <= 0 {
		return nil, ErrInvalidInput
	}
	if input.Discount != nil && (*input.Discount <= 0 || *input.Discount > 100) {
		return nil, ErrInvalidInput
	}
	if input.Commission != nil && (*input.Commission <= 0 || *input.Commission > 100) {
		return nil, ErrInvalidInput
	}

	existing, err := s.codeRepo.GetActiveByCoachID(ctx, input.CoachID)
	if err == nil {
		return s.withUsages(ctx, existing)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	discount := s.defaults.Discount
	if input.Discount != nil {
		discount = *input.Discount
	}
	commission := s.defaults.Commission
	if input.Commission != nil {
		commission = *input.Commission
	}

	for attempt := 0; attempt < maxCodeGenerationAttempts; attempt++ {
		candidate, err := s.generateCode()
		if err != nil {
			return nil, err
		}

		taken, err := s.codeRepo.CodeExists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}

		code, err := s.codeRepo.Create(ctx, repository.CreateReferralCodeInput{
			ID:         uuid.NewString(),
			Code:       candidate,
			CoachID:    input.CoachID,
			CoachName:  strings.TrimSpace(input.CoachName),
			CoachEmail: strings.ToLower(strings.TrimSpace(input.CoachEmail)),
			Discount:   discount,
			Commission: commission,
		})
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// Another writer won a race. A duplicate coach means an
				// active code now exists; a duplicate code means the
				// candidate collided and we try a fresh one.
				if winner, lookupErr := s.codeRepo.GetActiveByCoachID(ctx, input.CoachID); lookupErr == nil {
					return s.withUsages(ctx, winner)
				}
				continue
			}
			return nil, err
		}

		code.UsedBy = []models.ReferralUsage{}
		return code, nil
	}

	return nil, ErrCodeGeneration
}

// GetReferralByCode resolves an active code, case-insensitively, with
// its usage history attached.
func (s *ReferralService) GetReferralByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidInput
	}

	referral, err := s.codeRepo.GetActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}

	return s.withUsages(ctx, referral)
}

// ApplyReferralCode redeems a code for a client at checkout. The usage
// append and the coach balance credit happen in one transaction,
// serialized per coach by an advisory lock, so a crash or a concurrent
// redemption cannot split or double-apply them.
func (s *ReferralService) ApplyReferralCode(
	ctx context.Context,
	input ApplyReferralCodeInput,
) (*models.ReferralApplication, error) {
	if input.ClientID <= 0 || strings.TrimSpace(input.Code) == "" || input.OriginalPrice <= 0 {
		return nil, ErrInvalidInput
	}

	client, err := s.userRepo.GetByID(ctx, input.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	clientName := client.Email
	if client.FullName != nil && strings.TrimSpace(*client.FullName) != "" {
		clientName = strings.TrimSpace(*client.FullName)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txCodeRepo := repository.NewReferralCodeRepository(tx)
	txUsageRepo := repository.NewReferralUsageRepository(tx)
	txUserRepo := repository.NewUserRepository(tx)

	referral, err := txCodeRepo.GetActiveByCode(ctx, input.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", referral.CoachID); err != nil {
		return nil, err
	}

	used, err := txUsageRepo.Exists(ctx, referral.ID, input.ClientID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrCodeAlreadyUsed
	}

	amountSaved := RoundToCents(input.OriginalPrice * float64(referral.Discount) / 100)
	commissionEarned := RoundToCents(input.OriginalPrice * float64(referral.Commission) / 100)
	discountedPrice := RoundToCents(input.OriginalPrice - amountSaved)

	_, err = txUsageRepo.Create(ctx, repository.CreateReferralUsageInput{
		ReferralCodeID:   referral.ID,
		UserID:           input.ClientID,
		UserName:         clientName,
		UserEmail:        client.Email,
		AmountSaved:      amountSaved,
		CommissionEarned: commissionEarned,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrCodeAlreadyUsed
		}
		return nil, err
	}

	if err := txUserRepo.IncrementReferralStats(ctx, referral.CoachID, commissionEarned); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	usages, err := s.usageRepo.ListByCodeID(ctx, referral.ID)
	if err != nil {
		return nil, err
	}
	referral.UsedBy = usages

	return &models.ReferralApplication{
		Discount:        referral.Discount,
		DiscountedPrice: discountedPrice,
		AmountSaved:     amountSaved,
		Commission:      commissionEarned,
		Referral:        referral,
	}, nil
}

// GetCoachReferralStats aggregates over every code the coach has ever
// owned. Pure read: it never lazily creates a code.
func (s *ReferralService) GetCoachReferralStats(ctx context.Context, coachID int64) (*models.CoachReferralStats, error) {
	if coachID <= 0 {
		return nil, ErrInvalidInput
	}

	codes, err := s.codeRepo.ListByCoachID(ctx, coachID)
	if err != nil {
		return nil, err
	}

	usages, err := s.usageRepo.ListByCoachID(ctx, coachID)
	if err != nil {
		return nil, err
	}

	stats := &models.CoachReferralStats{
		Referrals: usages,
	}
	if stats.Referrals == nil {
		stats.Referrals = []models.ReferralUsage{}
	}

	clients := make(map[int64]struct{}, len(usages))
	for _, usage := range usages {
		clients[usage.UserID] = struct{}{}
		stats.TotalCommissions += usage.CommissionEarned
		stats.TotalSavings += usage.AmountSaved
	}
	stats.TotalClients = len(clients)
	stats.TotalCommissions = RoundToCents(stats.TotalCommissions)
	stats.TotalSavings = RoundToCents(stats.TotalSavings)

	for i := range codes {
		if !codes[i].IsActive {
			continue
		}
		active := codes[i]
		active.UsedBy = make([]models.ReferralUsage, 0, len(usages))
		for _, usage := range usages {
			if usage.ReferralCodeID == active.ID {
				active.UsedBy = append(active.UsedBy, usage)
			}
		}
		stats.ActiveCode = &active
		break
	}

	return stats, nil
}

// DeactivateReferralCode retires a code for good; there is no
// reactivation. Deactivating an already-inactive code succeeds.
func (s *ReferralService) DeactivateReferralCode(ctx context.Context, actorID int64, actorRole string, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrInvalidInput
	}

	referral, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCodeNotFound
		}
		return err
	}

	if actorRole != "admin" && referral.CoachID != actorID {
		return ErrForbidden
	}

	if !referral.IsActive {
		return nil
	}

	return s.codeRepo.Deactivate(ctx, referral.ID)
}

func (s *ReferralService) GetGlobalReferralStats(ctx context.Context) (*models.GlobalReferralStats, error) {
	total, active, err := s.codeRepo.CountCodes(ctx)
	if err != nil {
		return nil, err
	}

	totals, err := s.usageRepo.GlobalTotals(ctx)
	if err != nil {
		return nil, err
	}

	return &models.GlobalReferralStats{
		TotalCodes:       total,
		ActiveCodes:      active,
		TotalRedemptions: totals.Redemptions,
		TotalCommissions: RoundToCents(totals.TotalCommissions),
		TotalSavings:     RoundToCents(totals.TotalSavings),
	}, nil
}

// InitializeReferralSystem backfills one active code per coach user.
// Re-running it only touches coaches that still lack one.
func (s *ReferralService) InitializeReferralSystem(ctx context.Context) (*InitializeResult, error) {
	coaches, err := s.userRepo.ListByRole(ctx, "coach")
	if err != nil {
		return nil, err
	}

	result := &InitializeResult{CoachesProcessed: len(coaches)}
	for _, coach := range coaches {
		if _, err := s.codeRepo.GetActiveByCoachID(ctx, coach.ID); err == nil {
			result.CodesExisting++
			continue
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}

		name := coach.Email
		if coach.FullName != nil && strings.TrimSpace(*coach.FullName) != "" {
			name = strings.TrimSpace(*coach.FullName)
		}

		if _, err := s.CreateReferralCode(ctx, CreateReferralCodeInput{
			CoachID:    coach.ID,
			CoachName:  name,
			CoachEmail: coach.Email,
		}); err != nil {
			return nil, err
		}
		result.CodesCreated++
	}

	return result, nil
}

// ReconcileReferralStats rebuilds every coach's denormalized balance
// from the append-only usage history. Recovery path for a crash between
// the historical two-step write; idempotent by construction.
func (s *ReferralService) ReconcileReferralStats(ctx context.Context) error {
	return s.userRepo.RecomputeReferralStats(ctx)
}

func (s *ReferralService) withUsages(ctx context.Context, referral *models.ReferralCode) (*models.ReferralCode, error) {
	usages, err := s.usageRepo.ListByCodeID(ctx, referral.ID)
	if err != nil {
		return nil, err
	}
	if usages == nil {
		usages = []models.ReferralUsage{}
	}
	referral.UsedBy = usages
	return referral, nil
}

func (s *ReferralService) generateCode() (string, error) {
	buf := make([]byte, codeSuffixLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	suffix := make([]byte, codeSuffixLength)
	for i, b := range buf {
		suffix[i] = codeCharset[int(b)%len(codeCharset)]
	}
	return s.defaults.Prefix + "-" + string(suffix), nil
}

// RoundToCents rounds half away from zero to 2 decimals. Amounts are
// frozen with this rule at redemption time and never recomputed.
func RoundToCents(v float64) float64 {
	return math.Round(v*100) / 100
}
