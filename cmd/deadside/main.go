// deadside-tracker - Deadside killfeed ingestion and stats server
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/emerald/deadside-tracker/internal/api"
	"github.com/emerald/deadside-tracker/internal/config"
	"github.com/emerald/deadside-tracker/internal/discord"
	"github.com/emerald/deadside-tracker/internal/ingest"
	"github.com/emerald/deadside-tracker/internal/leaderboard"
	"github.com/emerald/deadside-tracker/internal/remote"
	"github.com/emerald/deadside-tracker/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/deadside-tracker/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("deadside-tracker %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: deadside-tracker <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Start the ingestion and stats server")
	fmt.Println("  version    Show version")
	fmt.Println("  help       Show this help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/deadside-tracker/config.yml)")
	fmt.Println("  --debug            Enable debug logging")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  DISCORD_BOT_TOKEN  Bot token for leaderboard posting (optional)")
}

// cmdServe runs the full pipeline: connect, ingest, serve, schedule
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	// Optional .env for local development; credentials stay out of config
	godotenv.Load()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			logger.Fatal().Str("path", defaultConfigPath).
				Msg("no config file found, use --config")
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	for _, r := range cfg.Rejected {
		logger.Error().Str("server", r.ID).Str("reason", r.Reason).
			Msg("server entry rejected, ingestion disabled for it")
	}

	logger.Info().Str("version", version).Int("servers", len(cfg.Servers)).
		Msg("deadside-tracker starting")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()
	logger.Info().Str("path", cfg.Database.Path).Msg("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect phase: bring up the pool and the ingestion pipelines.
	pool := remote.NewPool(cfg.Pool, remote.DialSFTP, logger)
	manager := ingest.NewManager(cfg, store, pool, logger)
	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start ingest manager")
	}

	// Post-connect phase: the schema gate waits out its settle delay, then
	// registers commands only if the schema actually changed. Steady state
	// does not depend on it.
	token := os.Getenv("DISCORD_BOT_TOKEN")
	discordEnabled := token != "" && cfg.Discord.ApplicationID != ""
	if discordEnabled {
		rest := discord.NewRESTClient(cfg.Discord.APIBase, cfg.Discord.ApplicationID, token)
		gate := discord.NewGate(rest, store, cfg.Discord.PostConnectDelay, logger)
		go func() {
			if _, err := gate.MaybeSync(ctx, discord.DefaultCommands()); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("command schema sync failed")
			}
		}()

		if cfg.Leaderboard.ChannelRef != "" {
			scopes := []string{"all"}
			for _, srv := range cfg.Servers {
				scopes = append(scopes, srv.ID)
			}
			scheduler := leaderboard.New(leaderboard.Config{
				Interval:    cfg.Leaderboard.Interval,
				ChannelRef:  cfg.Leaderboard.ChannelRef,
				MinKillsKDR: cfg.Leaderboard.MinKillsKDR,
				Views:       cfg.Leaderboard.Views,
				Scopes:      scopes,
			}, store, store, rest, logger)
			go scheduler.Run(ctx)
		}
	} else {
		logger.Info().Msg("discord not configured, leaderboard posting disabled")
	}

	router := api.NewRouter(store, manager, cfg.Leaderboard.MinKillsKDR, logger)
	router.StartWebSocketHub()

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.ListenAddr, cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		logger.Fatal().Err(err).Msg("http server error")
	}

	// Shutdown phase: stop accepting, cancel pipelines, drain, close pool.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	cancel()
	manager.Stop()
	pool.Shutdown()
	logger.Info().Msg("shutdown complete")
}
