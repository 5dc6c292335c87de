package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"spot-discovery-system/handlers"
	"spot-discovery-system/middleware"
	"spot-discovery-system/models"
	"spot-discovery-system/services"
	"spot-discovery-system/utils"
	"spot-discovery-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 25 * 1024 * 1024, // 25MB, photos included
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Spot{},
		&models.XPTransaction{},
		&models.XPHistory{},
		&models.Sponsor{},
		&models.Reward{},
		&models.Redemption{},
		&models.BadgeDefinition{},
		&models.UserBadge{},
		&models.SpotReport{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	notifier := services.NewNotifierFromEnv()

	badgeService := services.NewBadgeService(db, notifier)
	if err := badgeService.SeedDefinitions(); err != nil {
		log.Fatal("failed to seed badge definitions:", err)
	}

	economyService := services.NewEconomyService(db, badgeService, notifier)
	trustService := services.NewTrustService(db)
	verificationService := services.NewVerificationService(db, trustService, economyService, notifier)
	redemptionService := services.NewRedemptionService(db, economyService, notifier)
	rewardService := services.NewRewardService(db)
	reportService := services.NewReportService(db, verificationService, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepWorker := workers.NewVerificationSweepWorker(db, verificationService, economyService)
	sweepWorker.Start(ctx)

	reportService.StartMaintenanceScheduler()

	handlers.SetupSpotRoutes(app, verificationService, economyService)
	handlers.SetupProgressionRoutes(app, economyService, badgeService)
	handlers.SetupRedemptionRoutes(app, redemptionService, rewardService)
	handlers.SetupReportRoutes(app, reportService)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Verification Sweep Worker running")
	log.Println("✅ Maintenance scheduler running (report rescan + reward expiry)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
