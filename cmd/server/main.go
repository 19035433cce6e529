package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"discourse/internal/config"
	"discourse/internal/database"
	"discourse/internal/handlers"
	"discourse/internal/jobs"
	"discourse/internal/llm"
	"discourse/internal/logging"
	"discourse/internal/middleware"
	"discourse/internal/prompts"
	"discourse/internal/services"
	"discourse/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging: JSON in production, text in dev
	logging.Init()

	log.Println("🚀 Starting discourse server...")

	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("❌ JWT_SECRET environment variable is required")
	}

	// MongoDB
	db, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Initialize(initCtx); err != nil {
		initCancel()
		log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
	}
	initCancel()

	// Auth
	jwtAuth, err := auth.NewLocalJWTAuth(cfg.JWTSecret, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)
	if err != nil {
		log.Fatalf("❌ Failed to initialize auth: %v", err)
	}

	// Prompt registry with optional hot-reloaded YAML overrides
	registry, err := prompts.NewRegistry(cfg.PromptsPath)
	if err != nil {
		log.Fatalf("❌ Failed to load prompts: %v", err)
	}
	if cfg.PromptsPath != "" {
		if err := registry.Watch(); err != nil {
			log.Printf("⚠️ Prompt hot reload disabled: %v", err)
		} else {
			log.Printf("✅ Watching %s for prompt overrides", cfg.PromptsPath)
		}
	}

	// LLM gateway
	llmClient := llm.NewClient(llm.Options{
		BaseURL:           cfg.LLMBaseURL,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.LLMModel,
		Timeout:           cfg.LLMTimeout,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	})

	// Optional Redis phase-event fanout
	events, err := services.NewPhaseEvents(cfg.RedisURL)
	if err != nil {
		log.Printf("⚠️ Redis unavailable, phase events disabled: %v", err)
		events = nil
	}

	// Services
	metrics := services.InitMetrics()
	profileService := services.NewProfileService(db)
	userService := services.NewUserService(db, profileService)
	templateService := services.NewTemplateService(db)
	languageService := services.NewLanguageService(llmClient, registry)
	groupService := services.NewGroupService(db, llmClient, registry, languageService, events)
	conversationService := services.NewConversationService(db, llmClient, registry, languageService)
	sessionService := services.NewSessionService(db, templateService, groupService, conversationService, events)
	turnService := services.NewTurnService(conversationService, llmClient, registry, languageService, metrics, cfg.LLMTemperature, cfg.LLMTopP)
	engagementService := services.NewEngagementService(db, llmClient, registry)
	reportService := services.NewReportService(engagementService, profileService)

	// Background jobs
	scheduler, err := jobs.NewScheduler(db, sessionService, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize scheduler: %v", err)
	}
	scheduler.Start()

	// Handlers
	secureCookie := cfg.Environment == "production"
	authHandler := handlers.NewAuthHandler(jwtAuth, userService, cfg.CookieName, cfg.CookieDomain, secureCookie)
	profileHandler := handlers.NewProfileHandler(profileService)
	templateHandler := handlers.NewTemplateHandler(templateService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	groupHandler := handlers.NewGroupHandler(groupService, sessionService)
	conversationHandler := handlers.NewConversationHandler(conversationService, turnService)
	reportHandler := handlers.NewReportHandler(engagementService, reportService)
	healthHandler := handlers.NewHealthHandler(db)

	app := fiber.New(fiber.Config{
		AppName:      "discourse",
		BodyLimit:    16 * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000,http://localhost:5173",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	prom := fiberprometheus.New("discourse")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)

	// Global rate limiter
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
	}))

	app.Get("/health", healthHandler.Check)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/refresh", authHandler.Refresh)
	authGroup.Post("/logout", authHandler.Logout)

	protected := api.Group("", middleware.AuthRequired(jwtAuth, cfg.CookieName))

	protected.Get("/profile", profileHandler.Me)
	protected.Put("/profile", profileHandler.Update)

	templates := protected.Group("/templates")
	templates.Get("/public", templateHandler.ListPublic)
	templates.Get("/:id", templateHandler.Get)
	teacherTemplates := templates.Group("", middleware.RequireTeacher())
	teacherTemplates.Post("/", templateHandler.Create)
	teacherTemplates.Get("/", templateHandler.List)
	teacherTemplates.Put("/:id", templateHandler.Update)
	teacherTemplates.Delete("/:id", templateHandler.Delete)
	teacherTemplates.Post("/:id/clone", templateHandler.Clone)
	teacherTemplates.Post("/:id/resources", templateHandler.UploadResource)

	sessions := protected.Group("/sessions")
	sessions.Get("/hosted", sessionHandler.ListHosted)
	sessions.Get("/joined", sessionHandler.ListJoined)
	sessions.Get("/:id", sessionHandler.Get)
	sessions.Post("/:id/join", sessionHandler.Join)
	sessions.Get("/:id/groups", groupHandler.ListBySession)
	sessions.Get("/:id/groups/mine", groupHandler.Mine)
	sessions.Get("/:id/conversation", conversationHandler.Mine)
	teacherSessions := sessions.Group("", middleware.RequireTeacher())
	teacherSessions.Post("/", sessionHandler.Create)
	teacherSessions.Put("/:id", sessionHandler.Update)
	teacherSessions.Delete("/:id", sessionHandler.Delete)
	teacherSessions.Post("/:id/phase", sessionHandler.Transition)
	teacherSessions.Post("/:id/groups", groupHandler.Create)
	teacherSessions.Get("/:id/conversations", conversationHandler.ListBySession)
	teacherSessions.Post("/:id/engagement", reportHandler.Compute)
	teacherSessions.Get("/:id/engagement", reportHandler.List)
	teacherSessions.Get("/:id/report", reportHandler.Download)

	groups := protected.Group("/groups")
	groups.Get("/:id", groupHandler.Get)
	groups.Post("/:id/join", groupHandler.Join)
	groups.Post("/:id/transcript", groupHandler.AppendTranscript)
	groups.Post("/:id/finalize", middleware.RequireTeacher(), groupHandler.Finalize)

	conversations := protected.Group("/conversations")
	conversations.Get("/:id", conversationHandler.Get)
	conversations.Post("/:id/summarize", conversationHandler.Summarize)
	// Chat gets its own tighter limiter: every turn costs four model calls.
	conversations.Post("/:id/chat", limiter.New(limiter.Config{
		Max:        20,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			id, _ := c.Locals("user_id").(string)
			return id
		},
	}), conversationHandler.Chat)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down...")
		if err := scheduler.Stop(); err != nil {
			log.Printf("⚠️ Scheduler shutdown: %v", err)
		}
		registry.Close()
		if err := events.Close(); err != nil {
			log.Printf("⚠️ Redis shutdown: %v", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("⚠️ Server shutdown: %v", err)
		}
		if err := db.Close(shutdownCtx); err != nil {
			log.Printf("⚠️ MongoDB shutdown: %v", err)
		}
	}()

	log.Printf("✅ Listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}
