package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/models"
	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

type stubReferralService struct {
	createResult     *models.ReferralCode
	createErr        error
	getResult        *models.ReferralCode
	getErr           error
	applyResult      *models.ReferralApplication
	applyErr         error
	statsResult      *models.CoachReferralStats
	statsErr         error
	deactivateErr    error
	globalResult     *models.GlobalReferralStats
	globalErr        error
	initializeResult *services.InitializeResult
	initializeErr    error
	reconcileErr     error

	createCalls     int
	applyCalls      int
	reconcileCalls  int
	lastCreateInput services.CreateReferralCodeInput
	lastLookupCode  string
	lastApplyInput  services.ApplyReferralCodeInput
	lastStatsCoach  int64
	lastActorID     int64
	lastActorRole   string
	lastDeactivated string
}

func (s *stubReferralService) CreateReferralCode(_ context.Context, input services.CreateReferralCodeInput) (*models.ReferralCode, error) {
	s.createCalls++
	s.lastCreateInput = input
	return s.createResult, s.createErr
}

func (s *stubReferralService) GetReferralByCode(_ context.Context, code string) (*models.ReferralCode, error) {
	s.lastLookupCode = code
	return s.getResult, s.getErr
}

func (s *stubReferralService) ApplyReferralCode(_ context.Context, input services.ApplyReferralCodeInput) (*models.ReferralApplication, error) {
	s.applyCalls++
	s.lastApplyInput = input
	return s.applyResult, s.applyErr
}

func (s *stubReferralService) GetCoachReferralStats(_ context.Context, coachID int64) (*models.CoachReferralStats, error) {
	s.lastStatsCoach = coachID
	return s.statsResult, s.statsErr
}

func (s *stubReferralService) DeactivateReferralCode(_ context.Context, actorID int64, actorRole string, code string) error {
	s.lastActorID = actorID
	s.lastActorRole = actorRole
	s.lastDeactivated = code
	return s.deactivateErr
}

func (s *stubReferralService) GetGlobalReferralStats(_ context.Context) (*models.GlobalReferralStats, error) {
	return s.globalResult, s.globalErr
}

func (s *stubReferralService) InitializeReferralSystem(_ context.Context) (*services.InitializeResult, error) {
	return s.initializeResult, s.initializeErr
}

func (s *stubReferralService) ReconcileReferralStats(_ context.Context) error {
	s.reconcileCalls++
	return s.reconcileErr
}

type stubUserReader struct {
	user *models.User
	err  error
}

func (s *stubUserReader) GetByID(_ context.Context, _ int64) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user == nil {
		return nil, pgx.ErrNoRows
	}
	return s.user, nil
}

func newReferralTestApp(handler *ReferralHandler, userID int64, role string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID > 0 {
			c.Locals("user_id", userID)
			c.Locals("role", role)
		}
		return c.Next()
	})
	app.Get("/api/v1/referrals/my", handler.MyReferrals)
	app.Get("/api/v1/referrals/coach/:coachId", handler.CoachReferrals)
	app.Post("/api/v1/referrals/validate", handler.Validate)
	app.Post("/api/v1/referrals/apply", handler.Apply)
	app.Post("/api/v1/referrals/create", handler.Create)
	app.Post("/api/v1/referrals/deactivate", handler.Deactivate)
	app.Get("/api/v1/referrals/stats", handler.GlobalStats)
	app.Post("/api/v1/referrals/initialize", handler.Initialize)
	app.Post("/api/v1/referrals/reconcile", handler.Reconcile)
	return app
}

func jsonRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestMyReferralsReturnsStatsAndHistory(t *testing.T) {
	service := &stubReferralService{
		statsResult: &models.CoachReferralStats{
			TotalClients:     2,
			TotalCommissions: 39.9,
			TotalSavings:     79.8,
			ActiveCode:       &models.ReferralCode{Code: "SYNRGY-AB12", CoachID: 7, IsActive: true},
			Referrals: []models.ReferralUsage{
				{UserID: 42, AmountSaved: 20, CommissionEarned: 10},
				{UserID: 43, AmountSaved: 19.8, CommissionEarned: 9.9},
			},
		},
	}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 7, "coach")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v1/referrals/my", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Code  string `json:"code"`
		Stats struct {
			TotalClients     int     `json:"totalClients"`
			TotalCommissions float64 `json:"totalCommissions"`
			TotalSavings     float64 `json:"totalSavings"`
		} `json:"stats"`
		Referrals []models.ReferralUsage `json:"referrals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Code != "SYNRGY-AB12" {
		t.Fatalf("expected code SYNRGY-AB12, got %q", body.Code)
	}
	if body.Stats.TotalClients != 2 || body.Stats.TotalCommissions != 39.9 || body.Stats.TotalSavings != 79.8 {
		t.Fatalf("unexpected stats: %+v", body.Stats)
	}
	if len(body.Referrals) != 2 {
		t.Fatalf("expected 2 referrals, got %d", len(body.Referrals))
	}
	if service.createCalls != 0 {
		t.Fatalf("expected no lazy creation with an active code, got %d", service.createCalls)
	}
}

func TestMyReferralsCreatesCodeWhenMissing(t *testing.T) {
	name := "Dana Cole"
	service := &stubReferralService{
		statsResult: &models.CoachReferralStats{Referrals: []models.ReferralUsage{}},
		createResult: &models.ReferralCode{
			Code:     "SYNRGY-ZZ99",
			CoachID:  7,
			IsActive: true,
		},
	}
	users := &stubUserReader{
		user: &models.User{ID: 7, Email: "dana@example.com", Role: "coach", FullName: &name},
	}
	handler := NewReferralHandler(service, users)
	app := newReferralTestApp(handler, 7, "coach")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v1/referrals/my", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.createCalls != 1 {
		t.Fatalf("expected one lazy creation, got %d", service.createCalls)
	}
	if service.lastCreateInput.CoachID != 7 || service.lastCreateInput.CoachName != "Dana Cole" {
		t.Fatalf("unexpected create input: %+v", service.lastCreateInput)
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Code != "SYNRGY-ZZ99" {
		t.Fatalf("expected fresh code in response, got %q", body.Code)
	}
}

func TestMyReferralsForbiddenForClients(t *testing.T) {
	service := &stubReferralService{}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 42, "user")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v1/referrals/my", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestMyReferralsUnauthorizedWithoutActor(t *testing.T) {
	handler := NewReferralHandler(&stubReferralService{}, &stubUserReader{})
	app := newReferralTestApp(handler, 0, "")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v1/referrals/my", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCoachReferralsForbiddenForOtherCoaches(t *testing.T) {
	service := &stubReferralService{
		statsResult: &models.CoachReferralStats{Referrals: []models.ReferralUsage{}},
	}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 9, "coach")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v1/referrals/coach/7", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestCoachReferralsAllowsAdminAndPaginates(t *testing.T) {
	referrals := make([]models.ReferralUsage, 25)
	for i := range referrals {
		referrals[i] = models.ReferralUsage{UserID: int64(i + 1), UsedAt: time.Now()}
	}
	service := &stubReferralService{
		statsResult: &models.CoachReferralStats{Referrals: referrals},
	}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 1, "admin")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v1/referrals/coach/7?page=3&limit=10", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastStatsCoach != 7 {
		t.Fatalf("expected lookup for coach 7, got %d", service.lastStatsCoach)
	}

	var body struct {
		Referrals  []models.ReferralUsage `json:"referrals"`
		Pagination models.PaginationMeta  `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Referrals) != 5 {
		t.Fatalf("expected 5 referrals on page 3 of 25, got %d", len(body.Referrals))
	}
	if body.Referrals[0].UserID != 21 {
		t.Fatalf("expected page to start at user 21, got %d", body.Referrals[0].UserID)
	}
	if body.Pagination.Total != 25 || body.Pagination.TotalPages != 3 {
		t.Fatalf("unexpected pagination: %+v", body.Pagination)
	}
}

func TestCoachReferralsRejectsBadCoachID(t *testing.T) {
	handler := NewReferralHandler(&stubReferralService{}, &stubUserReader{})
	app := newReferralTestApp(handler, 1, "admin")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v1/referrals/coach/abc", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestValidateReturnsDiscountAndCoachName(t *testing.T) {
	service := &stubReferralService{
		getResult: &models.ReferralCode{
			Code:      "SYNRGY-AB12",
			CoachName: "Dana Cole",
			Discount:  20,
			IsActive:  true,
		},
	}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 0, "")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/validate", `{"code":"synrgy-ab12"}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastLookupCode != "synrgy-ab12" {
		t.Fatalf("expected code forwarded as sent, got %q", service.lastLookupCode)
	}

	var body struct {
		Valid     bool   `json:"valid"`
		Discount  int    `json:"discount"`
		CoachName string `json:"coachName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !body.Valid || body.Discount != 20 || body.CoachName != "Dana Cole" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestValidateUnknownCodeReturnsNotFound(t *testing.T) {
	service := &stubReferralService{getErr: services.ErrInvalidCode}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 0, "")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/validate", `{"code":"SYNRGY-XXXX"}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var body struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Valid || body.Error == "" {
		t.Fatalf("expected valid=false with an error message, got %+v", body)
	}
}

func TestValidateRequiresCode(t *testing.T) {
	service := &stubReferralService{}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 0, "")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/validate", `{"code":"  "}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if service.lastLookupCode != "" {
		t.Fatalf("expected no lookup for blank code, got %q", service.lastLookupCode)
	}
}

func TestApplyReturnsRedemptionBreakdown(t *testing.T) {
	service := &stubReferralService{
		applyResult: &models.ReferralApplication{
			Discount:        20,
			DiscountedPrice: 80,
			AmountSaved:     20,
			Commission:      10,
			Referral:        &models.ReferralCode{Code: "SYNRGY-AB12"},
		},
	}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 42, "user")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/apply", `{"code":"SYNRGY-AB12","originalPrice":100}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastApplyInput.ClientID != 42 || service.lastApplyInput.OriginalPrice != 100 {
		t.Fatalf("unexpected apply input: %+v", service.lastApplyInput)
	}

	var body struct {
		Success         bool    `json:"success"`
		Discount        int     `json:"discount"`
		DiscountedPrice float64 `json:"discountedPrice"`
		AmountSaved     float64 `json:"amountSaved"`
		Commission      float64 `json:"commission"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !body.Success || body.Discount != 20 || body.DiscountedPrice != 80 || body.AmountSaved != 20 || body.Commission != 10 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestApplyForbiddenForCoaches(t *testing.T) {
	service := &stubReferralService{}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 7, "coach")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/apply", `{"code":"SYNRGY-AB12","originalPrice":100}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if service.applyCalls != 0 {
		t.Fatalf("expected no redemption attempt, got %d", service.applyCalls)
	}
}

func TestApplyRejectsNonPositivePrice(t *testing.T) {
	service := &stubReferralService{}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 42, "user")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/apply", `{"code":"SYNRGY-AB12","originalPrice":0}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if service.applyCalls != 0 {
		t.Fatalf("expected no redemption attempt, got %d", service.applyCalls)
	}
}

func TestApplyUsedCodeReturnsConflict(t *testing.T) {
	service := &stubReferralService{applyErr: services.ErrCodeAlreadyUsed}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 42, "user")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/apply", `{"code":"SYNRGY-AB12","originalPrice":100}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCreatePassesOverridesThrough(t *testing.T) {
	service := &stubReferralService{
		createResult: &models.ReferralCode{
			Code:       "SYNRGY-AB12",
			Discount:   30,
			Commission: 15,
			IsActive:   true,
			CreatedAt:  time.Now(),
		},
	}
	users := &stubUserReader{
		user: &models.User{ID: 7, Email: "dana@example.com", Role: "coach"},
	}
	handler := NewReferralHandler(service, users)
	app := newReferralTestApp(handler, 7, "coach")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/create", `{"discount":30,"commission":15}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastCreateInput.Discount == nil || *service.lastCreateInput.Discount != 30 {
		t.Fatalf("expected discount override 30, got %+v", service.lastCreateInput.Discount)
	}
	if service.lastCreateInput.Commission == nil || *service.lastCreateInput.Commission != 15 {
		t.Fatalf("expected commission override 15, got %+v", service.lastCreateInput.Commission)
	}

	var body struct {
		Referral struct {
			Code       string `json:"code"`
			Discount   int    `json:"discount"`
			Commission int    `json:"commission"`
		} `json:"referral"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Referral.Code != "SYNRGY-AB12" || body.Referral.Discount != 30 || body.Referral.Commission != 15 {
		t.Fatalf("unexpected body: %+v", body.Referral)
	}
}

func TestCreateWithoutBodyUsesDefaults(t *testing.T) {
	service := &stubReferralService{
		createResult: &models.ReferralCode{Code: "SYNRGY-AB12", Discount: 20, Commission: 10, IsActive: true},
	}
	users := &stubUserReader{
		user: &models.User{ID: 7, Email: "dana@example.com", Role: "coach"},
	}
	handler := NewReferralHandler(service, users)
	app := newReferralTestApp(handler, 7, "coach")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/create", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastCreateInput.Discount != nil || service.lastCreateInput.Commission != nil {
		t.Fatalf("expected no overrides, got %+v", service.lastCreateInput)
	}
}

func TestDeactivateForwardsActorAndCode(t *testing.T) {
	service := &stubReferralService{}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 1, "admin")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/deactivate", `{"code":"SYNRGY-AB12"}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastActorID != 1 || service.lastActorRole != "admin" || service.lastDeactivated != "SYNRGY-AB12" {
		t.Fatalf("unexpected forwarding: actor %d role %q code %q", service.lastActorID, service.lastActorRole, service.lastDeactivated)
	}
}

func TestDeactivateUnknownCodeReturnsNotFound(t *testing.T) {
	service := &stubReferralService{deactivateErr: services.ErrCodeNotFound}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 7, "coach")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/deactivate", `{"code":"SYNRGY-XXXX"}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeactivateForeignCodeReturnsForbidden(t *testing.T) {
	service := &stubReferralService{deactivateErr: services.ErrForbidden}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 9, "coach")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/deactivate", `{"code":"SYNRGY-AB12"}`))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestGlobalStatsForbiddenForClients(t *testing.T) {
	handler := NewReferralHandler(&stubReferralService{}, &stubUserReader{})
	app := newReferralTestApp(handler, 42, "user")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v1/referrals/stats", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestGlobalStatsReturnsTotals(t *testing.T) {
	service := &stubReferralService{
		globalResult: &models.GlobalReferralStats{
			TotalCodes:       5,
			ActiveCodes:      3,
			TotalRedemptions: 12,
			TotalCommissions: 120.5,
			TotalSavings:     241,
		},
	}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 7, "coach")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v1/referrals/stats", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Stats models.GlobalReferralStats `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Stats.TotalCodes != 5 || body.Stats.ActiveCodes != 3 || body.Stats.TotalRedemptions != 12 {
		t.Fatalf("unexpected stats: %+v", body.Stats)
	}
}

func TestInitializeReportsCounts(t *testing.T) {
	service := &stubReferralService{
		initializeResult: &services.InitializeResult{
			CoachesProcessed: 3,
			CodesCreated:     2,
			CodesExisting:    1,
		},
	}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 1, "admin")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/initialize", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !strings.Contains(body.Message, "3 coaches processed") || !strings.Contains(body.Message, "2 codes created") {
		t.Fatalf("unexpected message: %q", body.Message)
	}
}

func TestReconcileAdminOnly(t *testing.T) {
	service := &stubReferralService{}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 7, "coach")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/reconcile", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if service.reconcileCalls != 0 {
		t.Fatalf("expected no reconcile run, got %d", service.reconcileCalls)
	}
}

func TestReconcileRunsForAdmin(t *testing.T) {
	service := &stubReferralService{}
	handler := NewReferralHandler(service, &stubUserReader{})
	app := newReferralTestApp(handler, 1, "admin")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/referrals/reconcile", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.reconcileCalls != 1 {
		t.Fatalf("expected one reconcile run, got %d", service.reconcileCalls)
	}
}

func TestMapReferralErrorDefaultsToInternalServerError(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return mapReferralError(c, errors.New("boom"))
	})

	resp, err := app.Test(jsonRequest(http.MethodGet, "/", ""))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
