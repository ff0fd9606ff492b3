package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	orchestratorx "taskpilot/agent/orchestrator"
	storex "taskpilot/agent/store"
	toolx "taskpilot/agent/tool"
	configx "taskpilot/pkg/config"
	_ "taskpilot/pkg/logger/autoload"
	openrouterx "taskpilot/pkg/openrouter"
	postgresx "taskpilot/pkg/postgres"
	serverx "taskpilot/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgresCfg := configx.MustNew[postgresx.Config]("POSTGRES")
	db, err := postgresx.Connect(ctx, *postgresCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	defer db.Close()

	if err := storex.CreateSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("create schema")
	}

	tasks := storex.NewTasks(db)
	conversations := storex.NewConversations(db)

	registry, err := toolx.NewRegistry(tasks)
	if err != nil {
		log.Fatal().Err(err).Msg("build tool registry")
	}

	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	chatModel, err := openRouterCfg.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("build chat model")
	}

	// Probe credentials up front so a bad key surfaces at boot, not on the
	// first user message. A transient upstream failure only warns.
	if err := openrouterx.VerifyModel(ctx, openrouterx.NewClient(*openRouterCfg), *openRouterCfg); err != nil {
		log.Warn().Err(err).Str("model", openRouterCfg.Model).Msg("model verification failed")
	}

	agentCfg := configx.MustNew[orchestratorx.Config]("AGENT")
	agent, err := orchestratorx.New(conversations, registry, chatModel, *agentCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build orchestrator")
	}

	serverCfg := configx.MustNew[serverx.Config]("SERVER")
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           serverx.New(*serverCfg, agent),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverCfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
}
