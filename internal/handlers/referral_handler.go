package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/models"
	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

type referralLedgerService interface {
	CreateReferralCode(ctx context.Context, input services.CreateReferralCodeInput) (*models.ReferralCode, error)
	GetReferralByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	ApplyReferralCode(ctx context.Context, input services.ApplyReferralCodeInput) (*models.ReferralApplication, error)
	GetCoachReferralStats(ctx context.Context, coachID int64) (*models.CoachReferralStats, error)
	DeactivateReferralCode(ctx context.Context, actorID int64, actorRole string, code string) error
	GetGlobalReferralStats(ctx context.Context) (*models.GlobalReferralStats, error)
	InitializeReferralSystem(ctx context.Context) (*services.InitializeResult, error)
	ReconcileReferralStats(ctx context.Context) error
}

type referralUserReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type ReferralHandler struct {
	service  referralLedgerService
	userRepo referralUserReader
}

func NewReferralHandler(service referralLedgerService, userRepo referralUserReader) *ReferralHandler {
	return &ReferralHandler{service: service, userRepo: userRepo}
}

type validateReferralRequest struct {
	Code string `json:"code"`
}

type applyReferralRequest struct {
	Code          string  `json:"code"`
	OriginalPrice float64 `json:"originalPrice"`
}

type createReferralRequest struct {
	Discount   *int `json:"discount"`
	Commission *int `json:"commission"`
}

type deactivateReferralRequest struct {
	Code string `json:"code"`
}

func currentActor(c *fiber.Ctx) (int64, string, bool) {
	userID, idOK := c.Locals("user_id").(int64)
	role, roleOK := c.Locals("role").(string)
	return userID, role, idOK && roleOK && userID > 0
}

// MyReferrals returns the calling coach's active code, aggregate stats,
// and redemption history. A coach without an active code gets one
// lazily here; the aggregator itself stays a pure read.
func (h *ReferralHandler) MyReferrals(c *fiber.Ctx) error {
	coachID, role, ok := currentActor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if role != "coach" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	stats, err := h.service.GetCoachReferralStats(c.Context(), coachID)
	if err != nil {
		return mapReferralError(c, err)
	}

	if stats.ActiveCode == nil {
		coach, err := h.userRepo.GetByID(c.Context(), coachID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
			}
			return mapReferralError(c, err)
		}

		name := coach.Email
		if coach.FullName != nil && strings.TrimSpace(*coach.FullName) != "" {
			name = strings.TrimSpace(*coach.FullName)
		}

		created, err := h.service.CreateReferralCode(c.Context(), services.CreateReferralCodeInput{
			CoachID:    coachID,
			CoachName:  name,
			CoachEmail: coach.Email,
		})
		if err != nil {
			return mapReferralError(c, err)
		}
		stats.ActiveCode = created
	}

	return c.JSON(fiber.Map{
		"code": stats.ActiveCode.Code,
		"stats": fiber.Map{
			"totalClients":     stats.TotalClients,
			"totalCommissions": stats.TotalCommissions,
			"totalSavings":     stats.TotalSavings,
		},
		"referrals": stats.Referrals,
	})
}

// CoachReferrals exposes a coach's redemption history. Only the coach
// themself or an admin may read it; usage records carry client names
// and emails.
func (h *ReferralHandler) CoachReferrals(c *fiber.Ctx) error {
	actorID, role, ok := currentActor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	coachID, err := strconv.ParseInt(c.Params("coachId"), 10, 64)
	if err != nil || coachID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid coach id"})
	}

	if actorID != coachID && role != "admin" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	stats, err := h.service.GetCoachReferralStats(c.Context(), coachID)
	if err != nil {
		return mapReferralError(c, err)
	}

	page, limit := parsePagination(c)
	total := len(stats.Referrals)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return c.JSON(fiber.Map{
		"referrals":  stats.Referrals[start:end],
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

// Validate is the public pre-checkout check: does this code grant a
// discount, and whose is it.
func (h *ReferralHandler) Validate(c *fiber.Ctx) error {
	var req validateReferralRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"valid": false, "error": "Invalid request body"})
	}
	if strings.TrimSpace(req.Code) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"valid": false, "error": "code is required"})
	}

	referral, err := h.service.GetReferralByCode(c.Context(), req.Code)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCode) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"valid": false,
				"error": "Invalid or inactive referral code",
			})
		}
		return mapReferralError(c, err)
	}

	return c.JSON(fiber.Map{
		"valid":     true,
		"discount":  referral.Discount,
		"coachName": referral.CoachName,
	})
}

func (h *ReferralHandler) Apply(c *fiber.Ctx) error {
	clientID, role, ok := currentActor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if role != "user" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	var req applyReferralRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}
	if strings.TrimSpace(req.Code) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "code is required"})
	}
	if req.OriginalPrice <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "originalPrice must be greater than 0"})
	}

	result, err := h.service.ApplyReferralCode(c.Context(), services.ApplyReferralCodeInput{
		ClientID:      clientID,
		Code:          req.Code,
		OriginalPrice: req.OriginalPrice,
	})
	if err != nil {
		return mapReferralError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"discount":        result.Discount,
		"discountedPrice": result.DiscountedPrice,
		"amountSaved":     result.AmountSaved,
		"commission":      result.Commission,
		"referral":        result.Referral,
	})
}

func (h *ReferralHandler) Create(c *fiber.Ctx) error {
	coachID, role, ok := currentActor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if role != "coach" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	var req createReferralRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	coach, err := h.userRepo.GetByID(c.Context(), coachID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return mapReferralError(c, err)
	}

	name := coach.Email
	if coach.FullName != nil && strings.TrimSpace(*coach.FullName) != "" {
		name = strings.TrimSpace(*coach.FullName)
	}

	referral, err := h.service.CreateReferralCode(c.Context(), services.CreateReferralCodeInput{
		CoachID:    coachID,
		CoachName:  name,
		CoachEmail: coach.Email,
		Discount:   req.Discount,
		Commission: req.Commission,
	})
	if err != nil {
		return mapReferralError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"referral": fiber.Map{
			"code":       referral.Code,
			"discount":   referral.Discount,
			"commission": referral.Commission,
			"createdAt":  referral.CreatedAt,
		},
	})
}

func (h *ReferralHandler) Deactivate(c *fiber.Ctx) error {
	actorID, role, ok := currentActor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if role != "coach" && role != "admin" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	var req deactivateReferralRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}
	if strings.TrimSpace(req.Code) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "code is required"})
	}

	if err := h.service.DeactivateReferralCode(c.Context(), actorID, role, req.Code); err != nil {
		return mapReferralError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Referral code deactivated",
	})
}

func (h *ReferralHandler) GlobalStats(c *fiber.Ctx) error {
	_, role, ok := currentActor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if role != "coach" && role != "admin" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	stats, err := h.service.GetGlobalReferralStats(c.Context())
	if err != nil {
		return mapReferralError(c, err)
	}

	return c.JSON(fiber.Map{"stats": stats})
}

func (h *ReferralHandler) Initialize(c *fiber.Ctx) error {
	_, role, ok := currentActor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if role != "coach" && role != "admin" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	result, err := h.service.InitializeReferralSystem(c.Context())
	if err != nil {
		return mapReferralError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf(
			"Referral system initialized: %d coaches processed, %d codes created, %d already had one",
			result.CoachesProcessed, result.CodesCreated, result.CodesExisting,
		),
	})
}

func (h *ReferralHandler) Reconcile(c *fiber.Ctx) error {
	_, role, ok := currentActor(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if role != "admin" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	if err := h.service.ReconcileReferralStats(c.Context()); err != nil {
		return mapReferralError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Coach referral balances recomputed from usage history",
	})
}

func mapReferralError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidCode):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "Invalid or inactive referral code"})
	case errors.Is(err, services.ErrCodeAlreadyUsed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "error": "Referral code already used"})
	case errors.Is(err, services.ErrCodeNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "Referral code not found"})
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "User not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to process referral request"})
	}
}
