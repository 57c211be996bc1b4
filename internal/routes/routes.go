package routes

import (
	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/config"
	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/handlers"
	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/middleware"
	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/repository"
	"github.com/ethanplnqrt/synrgy-coachpro-sub001/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool) {
	userRepo := repository.NewUserRepository(db)
	codeRepo := repository.NewReferralCodeRepository(db)
	usageRepo := repository.NewReferralUsageRepository(db)

	referralService := services.NewReferralService(db, codeRepo, usageRepo, userRepo, services.ReferralCodeDefaults{
		Prefix:     cfg.ReferralCodePrefix,
		Discount:   cfg.ReferralDefaultDiscount,
		Commission: cfg.ReferralDefaultCommission,
	})

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)
	referralHandler := handlers.NewReferralHandler(referralService, userRepo)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	// Code validation is public: prospects check a code before signup.
	api.Post("/v1/referrals/validate", referralHandler.Validate)

	referrals := api.Group("/v1/referrals", middleware.AuthRequired(cfg.JWTSecret))
	referrals.Get("/my", referralHandler.MyReferrals)
	referrals.Get("/coach/:coachId", referralHandler.CoachReferrals)
	referrals.Post("/apply", referralHandler.Apply)
	referrals.Post("/create", referralHandler.Create)
	referrals.Post("/deactivate", referralHandler.Deactivate)
	referrals.Get("/stats", referralHandler.GlobalStats)
	referrals.Post("/initialize", referralHandler.Initialize)
	referrals.Post("/reconcile", referralHandler.Reconcile)
}
