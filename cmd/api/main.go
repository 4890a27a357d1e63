package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/auth"
	"github.com/PaulBabatuyi/investchat/internal/chat"
	"github.com/PaulBabatuyi/investchat/internal/config"
	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/data/memstore"
	"github.com/PaulBabatuyi/investchat/internal/db"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
	"github.com/PaulBabatuyi/investchat/internal/logging"
	"github.com/PaulBabatuyi/investchat/internal/media"
	"github.com/PaulBabatuyi/investchat/internal/middleware"
	"github.com/PaulBabatuyi/investchat/internal/presence"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// stores bundles the collaborators the chat core runs on.
type stores struct {
	users interface {
		chat.Directory
		credentialStore
	}
	direct chat.DirectStore
	groups chat.GroupStore
	sets   presence.SetStore
	close  func(context.Context) error
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Store.Backend == "memory" {
		logger.Warn("using in-memory store; data is lost on exit")
		ms := memstore.New()
		return &stores{
			users:  ms,
			direct: ms,
			groups: ms.Groups(),
			sets:   presence.NewMemorySets(),
			close:  func(context.Context) error { return nil },
		}, nil
	}

	// Initialize database
	dbClient, err := db.New(ctx, cfg.Store.MongoURI, cfg.Store.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to DB: %w", err)
	}
	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		_ = dbClient.Close(ctx)
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return &stores{
		users:  data.NewUsersStore(dbClient.Collection(db.Users), dbClient.Sequence(db.Users)),
		direct: data.NewMessagesStore(dbClient),
		groups: data.NewGroupsStore(dbClient),
		sets:   data.NewPresenceSets(dbClient),
		close:  dbClient.Close,
	}, nil
}

func newJWTManager(cfg config.JWT) *auth.JWTManager {
	// If JWT_KEYS is supplied tokens can be rotated; otherwise fall back to
	// the single JWT_SECRET.
	if len(cfg.Keys) > 0 {
		return auth.NewJWTManagerFromKeys(cfg.Keys, cfg.ActiveKid, cfg.TTL)
	}
	return auth.NewJWTManager(cfg.Secret, cfg.TTL)
}

func newMediaResolver(ctx context.Context, cfg config.Media, logger *zap.Logger) media.Resolver {
	site := media.SiteResolver{SiteURL: cfg.SiteURL, MediaURL: cfg.MediaURL}
	if cfg.S3Bucket == "" {
		return site
	}
	s3r, err := media.NewS3Resolver(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.PresignTTL, site, logger)
	if err != nil {
		logger.Warn("S3 media resolver unavailable, serving site URLs", zap.Error(err))
		return site
	}
	return s3r
}

func main() {
	// Read configuration from defaults, optional file and environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exit", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.close(context.Background())
	}()

	jwtMgr := newJWTManager(cfg.JWT)

	// Limiter stores: login per IP, connection opens per IP, inbound frames
	// per user.
	loginLimiter := middleware.NewLimiterStore(cfg.Limits.LoginRPM, 3, time.Minute)
	defer loginLimiter.Stop()
	connectLimiter := middleware.NewLimiterStore(cfg.Limits.ConnectRPM, 10, time.Minute)
	defer connectLimiter.Stop()
	frameLimiter := middleware.NewLimiterStoreWithRate(rate.Limit(cfg.Limits.FramesPerSec), cfg.Limits.FrameBurst, time.Minute)
	defer frameLimiter.Stop()

	router := fanout.NewRouter(logger.Named("fanout"))
	tracker := presence.NewTracker(st.sets, st.users, logger.Named("presence"))
	svc := chat.NewService(st.users, st.direct, st.groups, router, tracker, logger.Named("chat"), chat.Options{
		DefaultTimeZone: cfg.Chat.DefaultTimeZone,
		JoinPolicy:      chat.PolicyByName(cfg.Chat.JoinPolicy),
		Media:           newMediaResolver(ctx, cfg.Media, logger),
		FrameLimiter:    frameLimiter,
	})
	srv := newServer(svc, st.users, jwtMgr, loginLimiter, connectLimiter, cfg.Server.AllowedOrigins, logger)

	// assemble server opts; TLS first when certs are configured
	var serverOpts []grpc.ServerOption
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(authUnaryInterceptor(jwtMgr)),
		grpc.ChainStreamInterceptor(
			middleware.RateLimitStreamInterceptor(connectLimiter, map[string]bool{connectMethod: true}),
			authStreamInterceptor(jwtMgr),
		),
	)
	grpcServer := grpc.NewServer(serverOpts...)
	healthSrv := registerService(grpcServer, srv)

	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr), zap.Bool("tls", cfg.TLS.CertFile != ""))
		var err error
		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			err = httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	// Chat streams live until clients hang up, so graceful stop is bounded.
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	return nil
}
