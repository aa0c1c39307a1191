package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"iam-gateway/config"
	adapterhandler "iam-gateway/internal/adapter/handler"
	"iam-gateway/internal/adapter/gateway"
	"iam-gateway/internal/domain"
	infracache "iam-gateway/internal/infrastructure/cache"
	"iam-gateway/internal/infrastructure/kv"
	"iam-gateway/internal/infrastructure/mirror"
	infrasession "iam-gateway/internal/infrastructure/session"
	infratoken "iam-gateway/internal/infrastructure/token"
	"iam-gateway/internal/usecase"
	appmiddleware "iam-gateway/middleware"
	"iam-gateway/utils/logger"
	"iam-gateway/utils/otel"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"
)

func runServe(ctx context.Context) error {
	// Initialize OpenTelemetry
	otelCfg := otel.ConfigFromEnv()
	if otelCfg.ServiceVersion == "" {
		otelCfg.ServiceVersion = version
	}
	otelShutdown, err := otel.InitProvider(ctx, otelCfg)
	if err != nil {
		slog.Warn("failed to initialize OpenTelemetry, continuing without tracing", "error", err)
		otelCfg.Enabled = false
	}

	log := logger.Init(otelCfg.Enabled)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.InfoContext(ctx, "configuration loaded",
		"iam_base_url", cfg.IAMBaseURL,
		"port", cfg.Port,
		"strategy", cfg.Strategy,
		"cache_driver", cfg.CacheDriver,
		"session_driver", cfg.SessionDriver,
		"cache_ttl", cfg.CacheTTL)

	checks := map[string]adapterhandler.HealthCheck{}

	// Infrastructure
	var redisClient *redis.Client
	if cfg.CacheDriver == config.DriverRedis || cfg.SessionDriver == config.DriverRedis {
		if redisClient, err = kv.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var identities domain.IdentityCache
	if cfg.CacheDriver == config.DriverRedis {
		identities = infracache.NewRedisStore(redisClient, log)
	} else {
		store, err := infracache.NewMemoryStore(cfg.CacheMaxEntries)
		if err != nil {
			return fmt.Errorf("failed to create verification cache: %w", err)
		}
		defer store.Close()
		identities = store
	}

	var sessions domain.SessionStore
	if cfg.SessionDriver == config.DriverRedis {
		sessions = infrasession.NewRedisStore(redisClient)
	} else {
		store := infrasession.NewMemoryStore()
		defer store.Close()
		sessions = store
	}

	iam, err := gateway.NewIAMGateway(cfg.IAMBaseURL, cfg.IAMTimeout, cfg.IAMVerifySSL, log)
	if err != nil {
		return fmt.Errorf("failed to create IAM gateway: %w", err)
	}

	var identityMirror domain.IdentityMirror
	if cfg.Strategy == domain.StrategyMirrored {
		pool, err := mirror.NewPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		pm := mirror.NewPostgresMirror(pool, log)
		defer pm.Close()
		if err := pm.EnsureSchema(ctx); err != nil {
			return err
		}
		identityMirror = pm
		checks["database"] = pm.HealthCheck
	}

	// Usecases
	resolver, err := usecase.NewResolver(iam, cfg.Strategy, identityMirror, log)
	if err != nil {
		return err
	}
	verifier := usecase.NewVerificationCache(identities, resolver, cfg.CacheTTL, cfg.CacheCoalesce, log)
	auth := usecase.NewAuthenticator(verifier, resolver, iam, usecase.AuthenticatorConfig{
		GuardName:   cfg.GuardName,
		TokenHeader: cfg.TokenHeader,
		TokenPrefix: cfg.TokenPrefix,
		CacheTTL:    cfg.CacheTTL,
	}, log)
	lifecycle := usecase.NewLifecycle(resolver, iam, verifier, log)

	var issuer domain.TokenIssuer
	if cfg.BackendTokenSecret != "" {
		issuer = infratoken.NewJWTIssuer(infratoken.JWTConfig{
			Secret:   cfg.BackendTokenSecret,
			Issuer:   cfg.BackendTokenIssuer,
			Audience: cfg.BackendTokenAudience,
			TTL:      cfg.BackendTokenTTL,
		})
	}

	var csrfGenerator domain.CSRFTokenGenerator
	var csrfHandler *adapterhandler.CSRFHandler
	if cfg.CSRFSecret != "" {
		gen := infratoken.NewHMACCSRFGenerator(cfg.CSRFSecret)
		csrfGenerator = gen
		csrfHandler = adapterhandler.NewCSRFHandler(gen)
	}

	// Setup Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(appmiddleware.SecurityHeaders(cfg.SessionSecureCookie))
	e.Use(appmiddleware.RequestID())

	if otelCfg.Enabled {
		e.Use(otelecho.Middleware(otelCfg.ServiceName))
		e.Use(appmiddleware.OTelStatus())
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/health" || p == "/metrics"
		},
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			rctx := c.Request().Context()
			if v.Error == nil {
				slog.InfoContext(rctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				slog.ErrorContext(rctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))

	e.Use(middleware.Recover())

	e.Use(appmiddleware.StartSession(appmiddleware.SessionConfig{
		Store:            sessions,
		CookieName:       cfg.SessionCookieName,
		Lifetime:         cfg.SessionLifetime,
		RememberLifetime: cfg.SessionRememberLifetime,
		Secure:           cfg.SessionSecureCookie,
		Domain:           cfg.SessionDomain,
		Logger:           log,
	}))
	e.Use(appmiddleware.AttachGuard(auth))
	if csrfGenerator != nil {
		e.Use(appmiddleware.CSRF(csrfGenerator, cfg.TokenHeader))
	}

	// Rate limiters per endpoint group
	loginRL := appmiddleware.NewRateLimiter(ctx, "login", appmiddleware.PerMinute(10), 5)
	otpRL := appmiddleware.NewRateLimiter(ctx, "otp", appmiddleware.PerMinute(5), 3)
	checkRL := appmiddleware.NewRateLimiter(ctx, "check", appmiddleware.PerMinute(100), 10)
	internalRL := appmiddleware.NewRateLimiter(ctx, "internal", appmiddleware.PerMinute(60), 10)

	adapterhandler.Register(e, adapterhandler.Handlers{
		Auth: adapterhandler.NewAuthHandler(lifecycle, csrfGenerator, adapterhandler.AuthConfig{
			HomeURL:  cfg.HomeURL,
			LoginURL: cfg.LoginURL,
		}, log),
		Validate: adapterhandler.NewValidateHandler(issuer),
		CSRF:     csrfHandler,
		Health:   adapterhandler.NewHealthHandler(checks),
		Internal: adapterhandler.NewInternalHandler(verifier),
	}, adapterhandler.RouteMiddleware{
		Authenticated: appmiddleware.SessionAuth(appmiddleware.AuthConfig{
			Authenticator: auth,
			LoginURL:      cfg.LoginURL,
			Logger:        log,
		}),
		Guest:         appmiddleware.GuestOnly(cfg.HomeURL),
		InternalAuth:  appmiddleware.InternalAuth(cfg.AuthSharedSecret),
		LoginLimit:    loginRL.Middleware(),
		OTPLimit:      otpRL.Middleware(),
		CheckLimit:    checkRL.Middleware(),
		InternalLimit: internalRL.Middleware(),
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Start server with errgroup for graceful shutdown
	address := fmt.Sprintf(":%s", cfg.Port)
	slog.InfoContext(ctx, "starting iam-gateway server", "address", address, "version", version)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server exited properly")
	return nil
}
