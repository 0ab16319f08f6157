package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/handler"
	"github.com/stemsi/intervu-backend/internal/middleware"
	"github.com/stemsi/intervu-backend/internal/response"
	"github.com/stemsi/intervu-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth       *handler.AuthHandler
	Session    *handler.SessionHandler
	Evaluation *handler.EvaluationHandler
	Question   *handler.QuestionHandler
	WS         *handler.WSHandler
	Monitor    *handler.MonitorHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	loginLimiter *middleware.RateLimiter,
	metricsHandler http.Handler,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", loginLimiter.Middleware(), handlers.Auth.Login)
		auth.GET("/me", middleware.RequireAuth(authService), middleware.CheckSingleDevice(authService), handlers.Auth.Me)
		auth.POST("/logout", middleware.RequireAuth(authService), middleware.CheckSingleDevice(authService), handlers.Auth.Logout)
	}

	// ─── 2. Candidate Group (JWT + Single Device) ──────────────────────
	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(
		middleware.RequireAuth(authService),
		middleware.RequireCandidate(),
		middleware.CheckSingleDevice(authService),
	)
	{
		candidateAPI.POST("/sessions", handlers.Session.CreateSession)
		candidateAPI.GET("/sessions/active", handlers.Session.GetActiveSession)
		candidateAPI.GET("/sessions/:id", handlers.Session.GetSession)
		candidateAPI.POST("/sessions/:id/start", handlers.Session.StartSession)
		candidateAPI.POST("/sessions/:id/answers", handlers.Session.SubmitAnswer)
		candidateAPI.POST("/sessions/:id/focus-lost", handlers.Session.ReportFocusLost)
		candidateAPI.POST("/sessions/:id/time", handlers.Session.ReportTime)
		candidateAPI.POST("/sessions/:id/complete", handlers.Session.CompleteSession)
	}

	// ─── 3. WebSocket Group (token via ?token=) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireAuth(authService),
		middleware.RequireCandidate(),
		middleware.CheckSingleDevice(authService),
	)
	{
		ws.GET("/candidate/sessions/:id/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Admin Group ────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAuth(authService), middleware.RequireAdmin())
	{
		adminAPI.POST("/sessions", handlers.Session.AdminCreateSession)
		adminAPI.GET("/sessions/:id", handlers.Session.GetSession)
		adminAPI.GET("/sessions/:id/evaluation", handlers.Evaluation.GetSessionEvaluation)
		adminAPI.POST("/sessions/:id/regrade", handlers.Evaluation.Regrade)
		adminAPI.GET("/evaluations", handlers.Evaluation.ListEvaluations)

		adminAPI.GET("/questions", handlers.Question.ListQuestions)
		adminAPI.POST("/questions", handlers.Question.CreateQuestion)

		adminAPI.GET("/monitor", handlers.Monitor.MonitorSSE)
		adminAPI.GET("/system", handlers.System.Status)
	}

	return router
}
