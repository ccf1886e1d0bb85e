// Jami - Muebles Jamar chat server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/jami-assistant/internal/agent"
	"github.com/ashureev/jami-assistant/internal/api"
	"github.com/ashureev/jami-assistant/internal/chat"
	"github.com/ashureev/jami-assistant/internal/config"
	"github.com/ashureev/jami-assistant/internal/identity"
	"github.com/ashureev/jami-assistant/internal/memory"
	"github.com/ashureev/jami-assistant/internal/middleware"
	"github.com/ashureev/jami-assistant/internal/params"
	"github.com/ashureev/jami-assistant/internal/retention"
	"github.com/ashureev/jami-assistant/internal/session"
	"github.com/ashureev/jami-assistant/internal/store"
	"github.com/ashureev/jami-assistant/internal/toolgateway"
	"github.com/ashureev/jami-assistant/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "region", cfg.Region, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		slog.Error("Failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	paramStore := params.NewStore(ssm.NewFromConfig(awsCfg), logger)
	tokens := params.NewTokenIssuer(cognitoidentityprovider.NewFromConfig(awsCfg),
		cfg.Gateway.ServiceUser, cfg.Gateway.ServicePassword)
	tools := toolgateway.NewProvider(paramStore, tokens, toolgateway.ParamNames{
		GatewayURL:  cfg.Gateway.ParamName("gateway_url"),
		OAuthClient: cfg.Gateway.ParamName("cognito_client_id"),
		OAuthPool:   cfg.Gateway.ParamName("cognito_pool_id"),
	}, nil, logger)

	memories := memory.NewAgentCore(
		bedrockagentcore.NewFromConfig(awsCfg),
		bedrockagentcorecontrol.NewFromConfig(awsCfg),
		logger,
	)

	factory := agent.NewFactory(bedrockruntime.NewFromConfig(awsCfg), memories, agent.Config{
		ModelID:     cfg.Model.ID,
		Temperature: cfg.Model.Temperature,
		MaxRounds:   cfg.Model.MaxRounds,
	}, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := chat.MustNewMetrics(reg)

	sessions := session.NewRegistry(cfg.Session.Capacity, cfg.Session.TTL, logger)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "jami",
		Subsystem: "session",
		Name:      "active",
		Help:      "Browser sessions held in the registry.",
	}, func() float64 { return float64(sessions.Len()) }))

	svc := chat.NewService(factory, tools, memories, repo, metrics, chat.ServiceConfig{
		MemoryName: cfg.Memory.Name,
		Region:     cfg.Region,
	}, logger)

	chatHandler := chat.NewHandler(svc,
		chat.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		metrics,
		web.PageHandler(),
		chat.HandlerConfig{
			MaxRequestBodySize: cfg.MaxRequestBodySize,
			IsDevelopment:      cfg.IsDevelopment(),
			AllowedOrigin:      cfg.FrontendURL,
		},
		logger,
	)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	r.Method(http.MethodGet, "/health", api.NewHealthHandler(repo, tools))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Handle("/static/*", web.StaticHandler("/static/"))

	// Chat routes resolve the browser session and actor first.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(sessions, repo, cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
	})

	// Create server.
	// SSE turns can run for a long time, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPCHealthPort != "" {
		grpcServer := grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, api.NewGRPCHealth(repo))
		g.Go(func() error {
			lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
			if err != nil {
				return err
			}
			slog.Info("gRPC health listening", "addr", lis.Addr().String())
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		return retention.NewWorker(repo, cfg.ActorRetention, retention.DefaultInterval, logger).Run(gctx)
	})

	// Warm the memory resource so the first turn does not pay for creation.
	g.Go(func() error {
		if err := svc.WarmUp(gctx); err != nil {
			slog.Warn("Memory not ready at startup, will retry on first turn", "error", err)
		}
		return nil
	})

	// Wait for shutdown signal or a failed component.
	g.Go(func() error {
		<-gctx.Done()
		stop()

		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
