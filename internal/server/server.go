package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/leanworks/sigmachat/config"
	"github.com/leanworks/sigmachat/internal/kb"
	"github.com/leanworks/sigmachat/internal/quota"
	"github.com/leanworks/sigmachat/internal/rag"
	"github.com/leanworks/sigmachat/internal/store"
	"github.com/leanworks/sigmachat/provider"
	"github.com/leanworks/sigmachat/repository/redis_repository"
)

func Run(cfg *appconfig.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	_ = Migrate("file://migrations", dsn, "up", 0)
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	tracker := quota.NewTracker(st, cfg.Quota.FreeTierDailyLimit)
	retriever := rag.NewRetriever(llm, st, cfg.RAG.TopK, cfg.RAG.SearchTimeout)
	composer := rag.NewComposer(llm, cfg.RAG.ContextTokenBudget)
	orch := rag.NewOrchestrator(tracker, retriever, composer, st, cfg.RAG.TopK)

	library, err := kb.New(cfg.Docs.KnowledgeBaseDir)
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	index, err := kb.NewSearchIndex(library)
	if err != nil {
		return fmt.Errorf("knowledge base index: %w", err)
	}
	log.Printf("knowledge base ready (%d documents indexed)", index.Count())

	// document cache is optional; the browser works without redis
	var docCache *redis_repository.DocumentCache
	if cfg.Storage.Redis.Host != "" {
		rdb, err := redis_repository.Conn(ctx, cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
			cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
		if err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		docCache = redis_repository.NewDocumentCache(rdb, cfg.Storage.Redis.CacheTTL)
	} else {
		log.Printf("redis not configured, document cache disabled")
	}

	secret := cfg.General.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (general.jwt_secret)")
	}
	auth, err := initAuth(ctx, st, []byte(secret))
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	ch := &ChatHandler{Store: st, Orch: orch, Quota: tracker}
	ch.Register(api.Group(""), auth.Secret)

	dh := &DocsHandler{Library: library, Index: index, Cache: docCache, Logger: baseLogger}
	dh.Register(api.Group("/docs"), auth.Secret)

	sh := &SubscriptionHandler{Store: st}
	sh.Register(api.Group("/subscription"), auth.Secret)

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
