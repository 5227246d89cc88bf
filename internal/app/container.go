package app

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/handler"
	"github.com/noah-isme/substitute-api/internal/repository"
	"github.com/noah-isme/substitute-api/internal/service"
	"github.com/noah-isme/substitute-api/pkg/cache"
	"github.com/noah-isme/substitute-api/pkg/calendar"
	"github.com/noah-isme/substitute-api/pkg/config"
	"github.com/noah-isme/substitute-api/pkg/database"
	"github.com/noah-isme/substitute-api/pkg/jobs"
	"github.com/noah-isme/substitute-api/pkg/mailer"
	"github.com/noah-isme/substitute-api/pkg/messaging"
)

// Container holds the wired services shared by the API server and the sweeper CLI.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *sqlx.DB
	Redis *redis.Client

	Metrics       *service.MetricsService
	Auth          *service.AuthService
	Engine        *service.MatchingService
	Requests      *service.TeachingRequestService
	Reschedules   *service.RescheduleService
	Teachers      *service.TeacherService
	Reviews       *service.ReviewService
	Notifications *service.NotificationService
	Calendar      *service.CalendarService
	Sweeper       *service.Sweeper

	queue     *jobs.Queue
	publisher messaging.Publisher
}

// NewContainer connects to storage and wires every service. Background
// workers are not running until Start is called.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, continuing without cache", zap.Error(err))
		redisClient = nil
	}

	c := &Container{Config: cfg, Logger: logger, DB: db, Redis: redisClient}
	c.Metrics = service.NewMetricsService()
	c.Auth = service.NewAuthService(cfg.Auth)
	validate := validator.New()

	requestRepo := repository.NewTeachingRequestRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	schoolRepo := repository.NewSchoolRepository(db)
	rescheduleRepo := repository.NewRescheduleRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logger)
	cacheSvc := service.NewCacheService(cacheRepo, c.Metrics, cfg.Cache.TeacherSearchTTL, logger, redisClient != nil)

	c.queue = jobs.NewQueue("notifications", jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logger,
	})
	c.publisher = newPublisher(cfg.Notifications, logger)
	c.Notifications = service.NewNotificationService(c.queue, c.publisher, newSender(cfg.Email, logger), teacherRepo, schoolRepo, c.Metrics, logger)

	var meetings service.MeetingScheduler
	if cfg.Calendar.Enabled {
		client := calendar.NewGoogleClient(ctx, calendar.GoogleConfig{
			ClientID:     cfg.Calendar.ClientID,
			ClientSecret: cfg.Calendar.ClientSecret,
			RefreshToken: cfg.Calendar.RefreshToken,
			CalendarID:   cfg.Calendar.CalendarID,
			BaseURL:      cfg.Calendar.BaseURL,
			TokenURL:     cfg.Calendar.TokenURL,
		})
		c.Calendar = service.NewCalendarService(c.queue, client, requestRepo, teacherRepo, schoolRepo, service.CalendarConfig{
			Timezone:         cfg.Calendar.Timezone,
			MeetingDuration:  cfg.Calendar.MeetingDuration,
			BreakerTimeout:   cfg.Calendar.BreakerTimeout,
			BreakerThreshold: cfg.Calendar.BreakerThreshold,
		}, c.Metrics, logger)
		meetings = c.Calendar
	}

	c.Engine = service.NewMatchingService(teacherRepo, requestRepo, service.MatchingConfig{
		TimeoutWindow:  cfg.Matching.TimeoutWindow,
		BatchSize:      cfg.Matching.BatchSize,
		CandidateLimit: cfg.Matching.CandidateLimit,
	}, validate, logger)
	c.Requests = service.NewTeachingRequestService(c.Engine, requestRepo, c.Notifications, meetings, c.Metrics, validate, logger)
	c.Reschedules = service.NewRescheduleService(requestRepo, rescheduleRepo, c.Notifications, validate, logger)
	c.Teachers = service.NewTeacherService(teacherRepo, cacheSvc, cfg.Cache.TeacherSearchTTL, validate, logger)
	c.Reviews = service.NewReviewService(requestRepo, reviewRepo, c.Teachers, validate, logger)

	lock := cache.NewLock(redisClient, service.SweepLockKey, cfg.Matching.SweepLockTTL)
	c.Sweeper = service.NewSweeper(c.Engine, lock, c.Notifications, c.Metrics, logger)

	return c, nil
}

func newPublisher(cfg config.NotificationConfig, logger *zap.Logger) messaging.Publisher {
	if !cfg.Enabled {
		return messaging.NewNoopPublisher(logger)
	}
	pub, err := messaging.NewRabbitMQPublisher(messaging.RabbitMQConfig{URL: cfg.AMQPURL, Exchange: cfg.Exchange, Logger: logger})
	if err != nil {
		logger.Warn("rabbitmq unavailable, events will only be logged", zap.Error(err))
		return messaging.NewNoopPublisher(logger)
	}
	return pub
}

func newSender(cfg config.EmailConfig, logger *zap.Logger) mailer.Sender {
	if cfg.APIKey == "" {
		return mailer.NewLogSender(logger)
	}
	return mailer.NewSendGridSender(mailer.SendGridConfig{
		APIKey:    cfg.APIKey,
		Host:      cfg.Host,
		FromName:  cfg.FromName,
		FromEmail: cfg.FromEmail,
	}, logger)
}

// Start launches the background job workers.
func (c *Container) Start(ctx context.Context) {
	c.queue.Start(ctx)
}

// ReadinessChecks lists the dependencies probed by /ready.
func (c *Container) ReadinessChecks() map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return database.Ready(ctx, c.DB) },
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close drains the job queue and releases connections.
func (c *Container) Close() {
	c.queue.Stop()
	if err := c.publisher.Close(); err != nil {
		c.Logger.Warn("close publisher", zap.Error(err))
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if err := c.DB.Close(); err != nil {
		c.Logger.Warn("close database", zap.Error(err))
	}
}
