// Command tripdesigner runs the Trip Designer session engine behind its
// HTTP/SSE API, with a periodic sweep of idle sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tripdesigner/agent/pkg/agentloop"
	"github.com/tripdesigner/agent/pkg/api"
	"github.com/tripdesigner/agent/pkg/config"
	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/kb"
	"github.com/tripdesigner/agent/pkg/logger"
	"github.com/tripdesigner/agent/pkg/providers"
	"github.com/tripdesigner/agent/pkg/session"
	"github.com/tripdesigner/agent/pkg/tools"
)

// sweepCron drives the idle-session cleanup; every 15 minutes is frequent
// enough for a 24h idle horizon.
const sweepCron = "*/15 * * * *"

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tripdesigner: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tripdesigner: %v\n", err)
		os.Exit(1)
	}

	var kbStore *kb.Store
	if cfg.KnowledgeBase.Backend != "none" && cfg.KnowledgeBase.Backend != "" {
		kbStore, err = kb.NewStore(cfg.KnowledgeBase.Path, cfg.KnowledgeBase.RelevanceThreshold, nil)
		if err != nil {
			logger.WarnCF("main", "knowledge base disabled",
				map[string]interface{}{"error": err.Error()})
			kbStore = nil
		}
	}

	var itineraries itinerary.Store
	if cfg.Storage.SQLitePath != "" {
		sqliteStore, err := itinerary.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tripdesigner: open itinerary store: %v\n", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		itineraries = sqliteStore
	} else {
		itineraries = itinerary.NewMemoryStore()
	}

	sessionDB := ""
	if cfg.Storage.SQLitePath != "" {
		sessionDB = cfg.Storage.SQLitePath
	}
	sessions := session.NewSessionManager(sessionDB)
	defer sessions.Close()

	registry, cache := tools.BuildRegistry(itineraries, kbStore)
	loop := agentloop.NewLoop(provider, sessions, registry, cache, itineraries, kbStore, cfg.Agent)
	server := api.NewServer(loop, sessions, itineraries)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runSweeper(ctx, sessions, time.Duration(cfg.Agent.IdleTimeoutSeconds)*time.Second)

	httpServer := &http.Server{Addr: *addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.InfoCF("main", "tripdesigner listening", map[string]interface{}{
		"addr":  *addr,
		"model": cfg.Agent.Model,
		"kb":    cfg.KnowledgeBase.Backend,
	})
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "tripdesigner: %v\n", err)
		os.Exit(1)
	}
}

// runSweeper deletes sessions idle past the horizon whenever the cron
// expression comes due, checking once a minute.
func runSweeper(ctx context.Context, sessions *session.SessionManager, idleHorizon time.Duration) {
	g := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := g.IsDue(sweepCron, time.Now())
			if err != nil || !due {
				continue
			}
			sessions.SweepIdle(ctx, idleHorizon)
		}
	}
}
