package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"campusattend/internal/attendance"
	"campusattend/internal/config"
	"campusattend/internal/directory"
	"campusattend/internal/evidence"
	"campusattend/internal/httpapi"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/queue"
	"campusattend/internal/settings"
	"campusattend/internal/store"
	"campusattend/internal/sweeper"
)

func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logrus.WithError(err).Fatal("http server failed")
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.NewDB(connectCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logrus.WithField("addr", cfg.RedisAddr).Warn("redis not reachable; settings cache and throttling degraded")
	}

	set := settings.NewService(settings.NewPGRepository(db.Client), redisClient.Client, settings.Values{
		DistanceThreshold:  cfg.DefaultDistanceMeters,
		OTPValidityMinutes: cfg.DefaultOTPValidityMinutes,
	})
	att := attendance.NewService(attendance.NewRepository(db.Client), set, attendance.Options{
		CodeLength: cfg.CodeLength,
		SweepBatch: cfg.SweepBatch,
		Location:   cfg.Location(),
	})
	dir := directory.NewService(directory.NewRepository(db.Client), directory.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err := dir.EnsureAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
		return err
	}

	deps := httpapi.Deps{
		Attendance:           att,
		Directory:            dir,
		Settings:             set,
		SigningKey:           cfg.JWTSigningKey,
		Issuer:               cfg.JWTIssuer,
		Limiter:              httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Throttle:             httpmiddleware.NewRedisCounter(redisClient.Client, ""),
		RedeemAttemptsPerMin: cfg.RedeemAttemptsPerMin,
	}
	if cdn := evidence.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder); cdn != nil {
		deps.Evidence = cdn
		logrus.WithField("cloud", cfg.CloudinaryCloudName).Info("evidence uploads enabled")
	} else {
		logrus.Info("evidence uploads disabled (CLOUDINARY_* not set)")
	}

	// With the memory backend no worker can see our queue, so sweeps run here.
	if cfg.QueueBackend == "memory" {
		q := queue.NewInMemory(64)
		deps.Jobs = q
		runner := sweeper.NewRunner(att, 2*time.Minute)
		sched, err := runner.Schedule(cfg.SweepSchedule)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		go func() {
			if err := queue.Run(ctx, q, runner.Handlers()); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("in-process queue stopped")
			}
		}()
	} else {
		deps.Jobs = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.Logger("/healthz", "/metrics"))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", httpapi.Health(map[string]httpapi.Check{
		"db":    db.Healthy,
		"redis": redisClient.Healthy,
	}))

	httpapi.New(deps).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("port", cfg.HTTPPort).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logrus.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("server forced shutdown")
	}
	logrus.Info("server exited")
	return nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
