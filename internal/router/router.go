package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/handler"
	"github.com/stemsi/exstem-exam-engine/internal/middleware"
	"github.com/stemsi/exstem-exam-engine/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth       *handler.AuthHandler
	Attempt    *handler.AttemptHandler
	Instructor *handler.InstructorHandler
	Exam       *handler.ExamHandler
	WS         *handler.WSHandler
	Monitor    *handler.MonitorHandler
	System     *handler.SystemHandler
}

// Middlewares groups the stateful middlewares built at startup.
type Middlewares struct {
	RateLimiter *middleware.RateLimiter
	Auditor     *middleware.Auditor
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	mw *Middlewares,
	cfg *config.Config,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally. Streams are skipped by the middleware.
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	authAPI := router.Group("/api/v1/auth")
	authAPI.Use(middleware.RequireJWT(auth))
	{
		authAPI.GET("/me", handlers.Auth.Me)
	}

	// ─── 2. Attempt Group (JWT + Student, Rate Limited, Audited) ───────
	attempts := router.Group("/api/v1/attempts")
	attempts.Use(
		middleware.RequireJWT(auth),
		mw.Auditor.Middleware(),
		mw.RateLimiter.Middleware(),
		middleware.NoStore(),
	)
	{
		// Results are readable by the owner and by staff of the exam.
		attempts.GET("/:id/result", handlers.Attempt.GetResult)

		student := attempts.Group("")
		student.Use(middleware.RequireStudent())
		{
			student.POST("/start", handlers.Attempt.StartAttempt)
			student.GET("/current/:exam_id", handlers.Attempt.GetCurrentAttempt)
			student.PUT("/:id/answer", handlers.Attempt.SubmitAnswer)
			student.PUT("/:id/flag/:question_index", handlers.Attempt.ToggleFlag)
			student.POST("/:id/violations", handlers.Attempt.ReportViolation)
			student.POST("/:id/submit", handlers.Attempt.SubmitAttempt)
		}
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(auth), middleware.RequireStudent())
	{
		ws.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 4. Instructor Group (JWT + Staff) ─────────────────────────────
	instructor := router.Group("/api/v1/instructor")
	instructor.Use(
		middleware.RequireJWT(auth),
		middleware.RequireStaff(),
		mw.Auditor.Middleware(),
	)
	{
		// Question authoring
		instructor.POST("/questions", handlers.Exam.CreateQuestion)
		instructor.PUT("/questions/:id", handlers.Exam.UpdateQuestion)
		instructor.PATCH("/questions/:id/status", handlers.Exam.SetQuestionStatus)

		// Exam authoring
		instructor.POST("/exams", handlers.Exam.CreateExam)
		instructor.GET("/exams/:exam_id", handlers.Exam.GetExam)
		instructor.PUT("/exams/:exam_id/questions", handlers.Exam.SetExamQuestions)
		instructor.POST("/exams/:exam_id/publish", handlers.Exam.PublishExam)
		instructor.PATCH("/exams/:exam_id/status", handlers.Exam.SetExamStatus)

		// Attempt oversight
		instructor.GET("/exams/:exam_id/attempts", handlers.Instructor.ListAttempts)
		instructor.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)
		instructor.POST("/attempts/:id/force-submit", handlers.Instructor.ForceSubmit)
		instructor.PUT("/attempts/:id/review", handlers.Instructor.ReviewAttempt)
	}

	// ─── 5. Admin Group (JWT + Admin) ──────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireJWT(auth),
		middleware.RequireAdmin(),
		mw.Auditor.Middleware(),
	)
	{
		adminAPI.POST("/attempts/sweep-expired", handlers.Instructor.SweepExpired)
		adminAPI.GET("/system/status", handlers.System.Status)
	}

	return router
}
