package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/compliance-engine/configs"
	"github.com/enterprise/compliance-engine/internal/analytics"
	"github.com/enterprise/compliance-engine/internal/auth"
	"github.com/enterprise/compliance-engine/internal/cases"
	"github.com/enterprise/compliance-engine/internal/ingestion"
	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/monitoring"
	"github.com/enterprise/compliance-engine/internal/queue"
	"github.com/enterprise/compliance-engine/internal/repositories"
	"github.com/enterprise/compliance-engine/internal/risk"
	"github.com/enterprise/compliance-engine/internal/services"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Compliance Engine API Server")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	streamClient, err := queue.NewRedisStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)
	profileRepo := repositories.NewRiskProfileRepository(db)
	caseRepo := repositories.NewCaseRepository(db)
	screeningRepo := repositories.NewScreeningRepository(db)
	kycRepo := repositories.NewKYCRepository(db)

	// Seed the default rule set before accepting traffic
	if err := monitoring.SeedDefaultRules(context.Background(), ruleRepo, cfg.Compliance.HighRiskCountries); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed monitoring rules")
	}

	// Initialize services
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	authService := services.NewAuthService(userRepo, jwtManager)
	caseWriter := cases.NewWriter(caseRepo, screeningRepo)
	monitoringEngine := monitoring.NewEngine(userRepo, txRepo, ruleRepo, caseWriter)
	limitEnforcer := monitoring.NewLimitEnforcer(profileRepo, txRepo)
	ingestionService := ingestion.NewService(txRepo, limitEnforcer, monitoringEngine, streamClient)
	factorCalc := risk.NewFactorCalculator(cfg.Compliance.HighRiskCountries, cfg.Compliance.ElevatedRiskCountries)
	riskEngine := risk.NewEngine(userRepo, kycRepo, txRepo, profileRepo, factorCalc, cacheClient, cfg.Compliance.ProfileCacheTTL)
	analyticsService := analytics.NewAnalyticsService(txRepo, caseRepo, screeningRepo, profileRepo, db, cacheClient)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := NewRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	// Setup routes
	setupRoutes(router, jwtManager, authService, ingestionService, limitEnforcer, riskEngine, caseWriter, analyticsService, streamClient, caseRepo, ruleRepo)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	jwtManager *auth.JWTManager,
	authService *services.AuthService,
	ingestionService *ingestion.Service,
	limitEnforcer *monitoring.LimitEnforcer,
	riskEngine *risk.Engine,
	caseWriter *cases.Writer,
	analyticsService *analytics.AnalyticsService,
	streamClient *queue.RedisStreamClient,
	caseRepo *repositories.CaseRepository,
	ruleRepo *repositories.RuleRepository,
) {
	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Auth routes (public)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(authService))
		authRoutes.POST("/login", loginHandler(authService))
		authRoutes.POST("/refresh", auth.AuthMiddleware(jwtManager), refreshTokenHandler(authService))
	}

	// Protected routes
	protected := v1.Group("")
	protected.Use(auth.AuthMiddleware(jwtManager))

	// Transaction routes
	txRoutes := protected.Group("/transactions")
	{
		txRoutes.POST("", submitTransactionHandler(ingestionService))
		txRoutes.POST("/check-limits", checkLimitsHandler(limitEnforcer))
		txRoutes.GET("/flagged", getFlaggedTransactionsHandler(analyticsService))
		txRoutes.GET("/:id", getTransactionHandler(ingestionService))
		txRoutes.GET("/user/:user_id", getUserTransactionsHandler(ingestionService))
	}

	// Risk routes
	riskRoutes := protected.Group("/risk")
	{
		riskRoutes.GET("/users/:user_id/score", getRiskScoreHandler(riskEngine))
		riskRoutes.GET("/users/:user_id/profile", getRiskProfileHandler(riskEngine))
		riskRoutes.POST("/users/:user_id/review", auth.RoleMiddleware("admin", "analyst"), requestReviewHandler(streamClient))
		riskRoutes.GET("/distribution", getRiskDistributionHandler(analyticsService))
		riskRoutes.GET("/reviews/due", auth.RoleMiddleware("admin", "analyst"), getReviewsDueHandler(analyticsService))
	}

	// Case routes (compliance staff only)
	caseRoutes := protected.Group("/cases")
	caseRoutes.Use(auth.RoleMiddleware("admin", "analyst"))
	{
		caseRoutes.GET("", listCasesHandler(caseRepo))
		caseRoutes.GET("/:id", getCaseHandler(caseRepo))
		caseRoutes.GET("/:id/activities", getCaseActivitiesHandler(caseRepo))
		caseRoutes.POST("/:id/notes", addCaseNoteHandler(caseWriter))
		caseRoutes.POST("/:id/status", transitionCaseHandler(caseWriter))
		caseRoutes.POST("/:id/assign", assignCaseHandler(caseWriter))
	}

	// Screening routes
	screeningRoutes := protected.Group("/screening")
	screeningRoutes.Use(auth.RoleMiddleware("admin", "analyst"))
	{
		screeningRoutes.GET("/users/:user_id", getUserScreeningHandler(analyticsService))
	}

	// Rule administration (admin only)
	ruleRoutes := protected.Group("/rules")
	ruleRoutes.Use(auth.RoleMiddleware("admin"))
	{
		ruleRoutes.GET("", listRulesHandler(ruleRepo))
		ruleRoutes.POST("", createRuleHandler(ruleRepo))
		ruleRoutes.PATCH("/:code/active", setRuleActiveHandler(ruleRepo))
	}

	// Analytics routes
	analyticsRoutes := protected.Group("/analytics")
	{
		analyticsRoutes.GET("/summary", getComplianceSummaryHandler(analyticsService))
		analyticsRoutes.GET("/violations", getViolationsByRuleHandler(analyticsService))
		analyticsRoutes.GET("/cases", getCaseDistributionHandler(analyticsService))
	}

	// Metrics routes (admin only)
	metricsRoutes := protected.Group("/metrics")
	metricsRoutes.Use(auth.RoleMiddleware("admin", "analyst"))
	{
		metricsRoutes.GET("/system", getSystemMetricsHandler(analyticsService, streamClient))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple in-memory rate limiter using token bucket algorithm
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Clean up old visitors periodically
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := time.Now()

	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(v.lastSeen)
	refill := int(elapsed / (rl.window / time.Duration(rl.rate)))
	v.tokens += refill
	if v.tokens > rl.rate {
		v.tokens = rl.rate
	}
	v.lastSeen = now

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handlers

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if err == services.ErrWeakPassword || err == repositories.ErrUserAlreadyExists {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if err == services.ErrInvalidCredentials {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if len(token) > 7 {
			token = token[7:] // Remove "Bearer "
		}

		resp, err := authService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func submitTransactionHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestion.TransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := ingestionService.SubmitTransaction(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		status := http.StatusCreated
		if resp.Status == ingestion.StatusDenied {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, resp)
	}
}

func checkLimitsHandler(limitEnforcer *monitoring.LimitEnforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Amount string `json:"amount" binding:"required"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}

		amount := models.ParseAmount(req.Amount)
		if amount.IsZero() || amount.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
			return
		}

		decision, err := limitEnforcer.CheckTransactionAgainstLimits(c.Request.Context(), userID, amount)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, decision)
	}
}

func getTransactionHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		txID := c.Param("id")

		tx, err := ingestionService.GetTransaction(c.Request.Context(), txID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, tx)
	}
}

func getUserTransactionsHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		transactions, total, err := ingestionService.GetUserTransactions(c.Request.Context(), userID, page, pageSize)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"transactions": transactions,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getFlaggedTransactionsHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		resp, err := analyticsService.GetFlaggedTransactions(c.Request.Context(), page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func getRiskScoreHandler(riskEngine *risk.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.Param("user_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}

		score, err := riskEngine.CalculateUserRiskScore(c.Request.Context(), userID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrUserNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, score)
	}
}

func getRiskProfileHandler(riskEngine *risk.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.Param("user_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}

		profile, err := riskEngine.GetRiskProfile(c.Request.Context(), userID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrRiskProfileNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, profile)
	}
}

func requestReviewHandler(streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.Param("user_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}

		event := &models.ReviewEvent{
			UserID:     userID.String(),
			Reason:     models.ReviewReasonManual,
			AssessedBy: c.GetString(auth.UserEmailKey),
			Timestamp:  time.Now(),
		}

		msgID, err := streamClient.Publish(c.Request.Context(), event)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message":    "Review queued",
			"message_id": msgID,
		})
	}
}

func getRiskDistributionHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		distribution, err := analyticsService.GetRiskLevelDistribution(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"distribution": distribution})
	}
}

func getReviewsDueHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 50)

		profiles, err := analyticsService.GetUsersDueForReview(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"profiles": profiles})
	}
}

func listCasesHandler(caseRepo *repositories.CaseRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.Query("status")
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		caseList, total, err := caseRepo.List(c.Request.Context(), status, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"cases": caseList,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getCaseHandler(caseRepo *repositories.CaseRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		record, err := caseRepo.GetByID(c.Request.Context(), caseID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, record)
	}
}

func getCaseActivitiesHandler(caseRepo *repositories.CaseRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		activities, err := caseRepo.GetActivities(c.Request.Context(), caseID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"activities": activities})
	}
}

func addCaseNoteHandler(caseWriter *cases.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		var req struct {
			Note string `json:"note" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := caseWriter.AppendNote(c.Request.Context(), caseID, req.Note, actorID(c)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": "Note added"})
	}
}

func transitionCaseHandler(caseWriter *cases.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		record, err := caseWriter.Transition(c.Request.Context(), caseID, req.Status, actorID(c))
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, repositories.ErrCaseNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, record)
	}
}

func assignCaseHandler(caseWriter *cases.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}

		var req struct {
			AssigneeID string `json:"assignee_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		assignee, err := uuid.Parse(req.AssigneeID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assignee_id"})
			return
		}

		record, err := caseWriter.Assign(c.Request.Context(), caseID, assignee, actorID(c))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrCaseNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, record)
	}
}

func getUserScreeningHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		logs, total, err := analyticsService.GetUserScreeningHistory(c.Request.Context(), userID, page, pageSize)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"screening_logs": logs,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func listRulesHandler(ruleRepo *repositories.RuleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := ruleRepo.GetAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

func createRuleHandler(ruleRepo *repositories.RuleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Code       string          `json:"code" binding:"required"`
			Name       string          `json:"name" binding:"required"`
			RuleType   string          `json:"rule_type" binding:"required,oneof=threshold velocity geography pattern"`
			Conditions json.RawMessage `json:"conditions" binding:"required"`
			Action     string          `json:"action" binding:"required,oneof=alert flag block escalate"`
			Priority   int             `json:"priority" binding:"required,min=1,max=10"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Reject malformed conditions before they reach the evaluator
		if _, err := models.DecodeConditions(req.RuleType, req.Conditions); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rule := &models.MonitoringRule{
			Code:       req.Code,
			Name:       req.Name,
			RuleType:   req.RuleType,
			Conditions: req.Conditions,
			Action:     req.Action,
			Priority:   req.Priority,
			Active:     true,
		}

		if err := ruleRepo.Create(c.Request.Context(), rule); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrRuleAlreadyExists) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, rule)
	}
}

func setRuleActiveHandler(ruleRepo *repositories.RuleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("code")

		var req struct {
			Active *bool `json:"active" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := ruleRepo.SetActive(c.Request.Context(), code, *req.Active); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrRuleNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"code": code, "active": *req.Active})
	}
}

func getComplianceSummaryHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		dateStr := c.Query("date")
		var date time.Time
		var err error

		if dateStr != "" {
			date, err = time.Parse("2006-01-02", dateStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
				return
			}
		} else {
			date = time.Now()
		}

		summary, err := analyticsService.GetComplianceSummary(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

func getViolationsByRuleHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)

		violations, err := analyticsService.GetViolationsByRule(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"violations": violations})
	}
}

func getCaseDistributionHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		distribution, err := analyticsService.GetCaseDistribution(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, distribution)
	}
}

func getSystemMetricsHandler(analyticsService *analytics.AnalyticsService, streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics, err := analyticsService.GetSystemMetrics(c.Request.Context(), streamClient)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, metrics)
	}
}

// Helper functions

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}

// actorID extracts the authenticated user's ID from the request context.
func actorID(c *gin.Context) *uuid.UUID {
	val, ok := c.Get(auth.UserIDKey)
	if !ok {
		return nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}
