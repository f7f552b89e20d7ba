package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"stratflow/internal/audit"
	"stratflow/internal/auth"
	"stratflow/internal/cache"
	"stratflow/internal/client/jsonapi"
	"stratflow/internal/config"
	cronrunner "stratflow/internal/cron"
	"stratflow/internal/db"
	"stratflow/internal/handler"
	"stratflow/internal/ledger"
	"stratflow/internal/logger"
	"stratflow/internal/oracle"
	"stratflow/internal/protocol"
	gormrepository "stratflow/internal/repository/gorm"
	"stratflow/internal/service"
	"stratflow/internal/verifier"

	_ "stratflow/docs"
)

func main() {
	cfgPath := os.Getenv("SF_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("SF_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB, logger)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if cfg.DB.AutoMigrate {
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(ctx); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	cacheStore, cachePinger := initCache(cfg.Cache, logger)

	oracleClient := jsonapi.New(&http.Client{Timeout: cfg.Oracle.Timeout}, jsonOptions(cfg.Oracle.ServiceConfig))
	priceOracle := oracle.NewHermes(oracleClient, oracle.Options{
		Feeds:            cfg.Oracle.Feeds,
		Cache:            cacheStore,
		LatestTTL:        cfg.Oracle.LatestTTL,
		TolerancePercent: cfg.Protocol.TolerancePercent,
	}, logger)

	verifierClient := jsonapi.New(&http.Client{Timeout: cfg.Verifier.Timeout}, jsonOptions(cfg.Verifier.ServiceConfig))
	model := verifier.NewHTTPModel(verifierClient)
	gate := verifier.NewGate(model, priceOracle, cacheStore, cfg.Protocol.MinConfidence, logger)
	gate.OracleEnabled = func(ctx context.Context) bool {
		return settingsSvc.IsEnabled(ctx, service.FeatureOracleChecks, true)
	}
	resolver := verifier.NewResolver(model, cacheStore, logger)
	if cfg.Verifier.CacheTTL > 0 {
		gate.CacheTTL = cfg.Verifier.CacheTTL
		resolver.CacheTTL = cfg.Verifier.CacheTTL
	}

	settlement := &service.SettlementService{
		Repo:          store,
		Ledger:        initLedger(cfg.Ledger, store, logger),
		Gate:          gate,
		Resolver:      resolver,
		Logger:        logger,
		Window:        protocol.NewDisputeWindow(cfg.Protocol.DisputeWindowSeconds),
		StreamSeconds: cfg.Protocol.StreamSeconds,
		MinConfidence: cfg.Protocol.MinConfidence,
		TolerancePct:  cfg.Protocol.TolerancePercent,
	}

	cronRunner := cronrunner.New(logger, ctx, time.Minute)
	if cfg.Cron.Enabled {
		worker := &service.SettlementWorker{
			Service: settlement,
			Flags:   settingsSvc,
			Logger:  logger,
			Batch:   cfg.Cron.BatchSize,
		}
		if _, err := cronRunner.Add("settlement", cfg.Cron.Settlement, worker.RunOnce); err != nil {
			logger.Fatal("cron register settlement sweep failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Auth.Disabled && !strings.EqualFold(cfg.App.Env, "dev") {
		logger.Fatal("auth.disabled is only allowed in dev")
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(auth.Middleware(auth.JWT{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: cfg.Auth.TokenTTL,
	}, cfg.Auth.Disabled))
	engine.Use(audit.WriteMiddleware(initAuditSink(ctx, cfg.Audit, store, logger), logger))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Cache: cachePinger}
	healthHandler.Register(engine)
	handler.RegisterDocs(engine)

	settlementHandler := &handler.SettlementHandler{
		Service:       settlement,
		Flags:         settingsSvc,
		Logger:        logger,
		WatchInterval: cfg.Server.WatchInterval.Milliseconds(),
	}
	settlementHandler.Register(engine)
	oracleHandler := &handler.OracleHandler{Oracle: priceOracle, Logger: logger}
	oracleHandler.Register(engine)
	settingsCipher, err := service.NewSettingsCipher(cfg.Settings.EncryptionKey, cfg.Settings.PreviousKey)
	if err != nil {
		logger.Fatal("settings cipher init failed", zap.Error(err))
	}
	settingsHandler := &handler.SystemSettingsHandler{Repo: store, Settings: settingsSvc, Cipher: settingsCipher, Logger: logger}
	settingsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			zap.String("addr", cfg.Server.HTTPAddr),
			zap.Int64("dispute_window_seconds", settlement.Constants().DisputeWindowSeconds),
			zap.String("ledger", cfg.Ledger.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func jsonOptions(sc config.ServiceConfig) jsonapi.Options {
	return jsonapi.Options{
		Host:          sc.BaseURL,
		APIKey:        sc.APIKey,
		Timeout:       sc.Timeout,
		RatePerSecond: sc.RatePerSecond,
		Burst:         sc.Burst,
	}
}

func initCache(cfg config.CacheConfig, logger *zap.Logger) (cache.Store, handler.Pinger) {
	if !strings.EqualFold(strings.TrimSpace(cfg.Backend), "redis") {
		return cache.NewMemoryStore(), nil
	}
	rs := cache.NewRedisStore(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, cfg.Prefix)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		logger.Warn("redis ping failed (cache reads will miss)", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("redis cache ready", zap.String("addr", cfg.Addr))
	}
	return rs, rs
}

func initLedger(cfg config.LedgerConfig, store *gormrepository.Store, logger *zap.Logger) ledger.Ledger {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), "custody") {
		if strings.TrimSpace(cfg.Custody.BaseURL) == "" {
			logger.Fatal("ledger.custody.base_url is required for the custody backend")
		}
		client := jsonapi.New(&http.Client{Timeout: cfg.Custody.Timeout}, jsonOptions(cfg.Custody))
		return ledger.NewCustody(client, logger)
	}
	return ledger.NewJournal(store, logger)
}

func initAuditSink(ctx context.Context, cfg config.AuditConfig, store *gormrepository.Store, logger *zap.Logger) audit.Sink {
	if !cfg.Enabled {
		return nil
	}
	var sinks audit.Multi
	if cfg.Local {
		sinks = append(sinks, &audit.StoreSink{Store: store})
	}
	base := strings.TrimSpace(cfg.BaseURL)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if base != "" && apiKey != "" {
		gw := &audit.GatewayClient{BaseURL: base, APIKey: apiKey, Agent: cfg.Agent}
		loginCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := gw.Login(loginCtx); err != nil {
			logger.Warn("audit gateway login failed (gateway audit disabled)", zap.Error(err))
		} else {
			logger.Info("audit gateway login ok")
			sinks = append(sinks, gw)
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,Idempotency-Key")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
