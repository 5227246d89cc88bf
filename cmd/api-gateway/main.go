package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/substitute-api/api/swagger"
	"github.com/noah-isme/substitute-api/internal/app"
	"github.com/noah-isme/substitute-api/internal/handler"
	"github.com/noah-isme/substitute-api/internal/middleware"
	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/pkg/config"
	"github.com/noah-isme/substitute-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/substitute-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/substitute-api/pkg/middleware/requestid"
)

// @title Substitute Teacher API
// @version 1.0.0
// @description Automatic substitute matching with timeout escalation.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.NewContainer(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to build container", zap.Error(err))
	}
	defer container.Close()

	container.Start(ctx)
	container.Sweeper.Start(ctx, cfg.Matching.SweepInterval)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(container.Metrics, "/health", "/ready", "/metrics"))

	metricsHandler := handler.NewMetricsHandler(container.Metrics, container.ReadinessChecks())
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), container, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("server shutdown", zap.Error(err))
	}
	logr.Info("server stopped")
}

func registerRoutes(api *gin.RouterGroup, c *app.Container, cfg *config.Config) {
	requests := handler.NewRequestHandler(c.Requests)
	reschedules := handler.NewRescheduleHandler(c.Reschedules)
	teachers := handler.NewTeacherHandler(c.Teachers)
	reviews := handler.NewReviewHandler(c.Reviews)
	sweep := handler.NewSweepHandler(c.Sweeper)

	api.POST("/internal/sweep", middleware.CronSecret(cfg.Matching.CronSecret), sweep.Run)

	secured := api.Group("")
	secured.Use(middleware.JWT(c.Auth))

	schoolOrAdmin := middleware.RequireRoles(models.RoleSchool, models.RoleAdmin)
	teacherOnly := middleware.RequireRoles(models.RoleTeacher)
	parties := middleware.RequireRoles(models.RoleSchool, models.RoleTeacher)

	secured.POST("/requests/auto", schoolOrAdmin, requests.CreateAuto)
	secured.GET("/requests", requests.List)
	secured.GET("/requests/:id", requests.Get)
	secured.POST("/requests/:id/accept", teacherOnly, requests.Accept)
	secured.POST("/requests/:id/reject", teacherOnly, requests.Reject)
	secured.POST("/requests/:id/cancel", schoolOrAdmin, requests.Cancel)
	secured.POST("/requests/:id/reschedules", parties, reschedules.Propose)
	secured.GET("/requests/:id/reschedules", reschedules.List)
	secured.POST("/reschedules/:id/respond", middleware.RequireRoles(models.RoleSchool, models.RoleTeacher, models.RoleAdmin), reschedules.Respond)
	secured.POST("/requests/:id/review", middleware.RequireRoles(models.RoleSchool), reviews.Create)

	secured.GET("/teachers", teachers.List)
	secured.GET("/teachers/:id", teachers.Get)
	secured.PUT("/teachers/:id", middleware.RBAC(middleware.RoleSelf, string(models.RoleAdmin)), teachers.Update)
	secured.GET("/teachers/:id/reviews", reviews.ListForTeacher)
}
