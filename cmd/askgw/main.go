// Command askgw runs the /ask gateway: it connects to Discord, answers
// slash commands and ambient messages through the generative provider,
// records every request in the usage ledger and, optionally, serves the ops
// HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-ask-gateway/internal/config"
	"github.com/tbourn/go-ask-gateway/internal/discord"
	httpapi "github.com/tbourn/go-ask-gateway/internal/http"
	"github.com/tbourn/go-ask-gateway/internal/i18n"
	"github.com/tbourn/go-ask-gateway/internal/observability"
	"github.com/tbourn/go-ask-gateway/internal/provider"
	"github.com/tbourn/go-ask-gateway/internal/repo"
	"github.com/tbourn/go-ask-gateway/internal/services"
	"github.com/tbourn/go-ask-gateway/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// readyTimeout bounds the wait for the gateway READY event before command
// registration gives up.
const readyTimeout = 30 * time.Second

type options struct {
	envFile          string
	registerCommands bool
	migrateOnly      bool
	showVersion      bool
	grace            time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	flags := pflag.NewFlagSet("askgw", pflag.ContinueOnError)
	flags.StringVar(&o.envFile, "env-file", "", "load environment variables from this file (default .env when present)")
	flags.BoolVar(&o.registerCommands, "register-commands", false, "overwrite the application commands after connecting")
	flags.BoolVar(&o.migrateOnly, "migrate-only", false, "migrate the usage ledger schema and exit")
	flags.BoolVar(&o.showVersion, "version", false, "print the version and exit")
	flags.DurationVar(&o.grace, "shutdown-grace", 30*time.Second, "time in-flight requests get to finish on shutdown")
	if err := flags.Parse(args); err != nil {
		return o, err
	}
	if o.grace <= 0 {
		return o, errors.New("--shutdown-grace must be positive")
	}
	return o, nil
}

// loadEnv loads path into the environment without overriding variables
// already set. An absent default .env is not an error.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "askgw %s\n", version)
		return nil
	}
	if err := loadEnv(opts.envFile); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	sysutil.SetupLogger(nil, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer closeDB(db)
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	log.Info().Str("driver", cfg.DB.Driver).Msg("usage ledger ready")
	if opts.migrateOnly {
		return nil
	}

	catalog, err := i18n.Load(cfg.LocalesPath)
	if err != nil {
		return fmt.Errorf("locales: %w", err)
	}

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}
	platform := discord.NewPlatform(session)
	quota := &services.QuotaLimiter{DB: db, Limits: cfg.Quota}
	ask := &services.AskService{
		Ledger:       &services.UsageLedger{DB: db},
		Quota:        quota,
		Burst:        services.NewBurstGuard(cfg.Burst.RPS, cfg.Burst.Size),
		Provider:     provider.New(cfg.Provider),
		Platform:     platform,
		Catalog:      catalog,
		HistoryLimit: cfg.Discord.HistoryLimit,
	}
	router := discord.NewRouter(session, platform, ask, cfg.Discord.TypingInterval)

	ready := make(chan string, 1)
	session.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		id := ""
		if r.User != nil {
			id = r.User.ID
		}
		if r.Application != nil && r.Application.ID != "" {
			id = r.Application.ID
		}
		ready <- id
	})
	if err := discord.Connect(session, router); err != nil {
		return err
	}
	log.Info().
		Str("version", version).
		Str("model", cfg.Provider.Model).
		Int("quota_hourly", cfg.Quota.Hourly).
		Int("quota_daily", cfg.Quota.Daily).
		Bool("burst_guard", ask.Burst.Enabled()).
		Msg("gateway connected")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return discord.Serve(gctx, session, router, opts.grace)
	})

	if opts.registerCommands {
		g.Go(func() error {
			return registerWhenReady(gctx, session, ready, cfg.Discord.GuildID)
		})
	}

	if cfg.OpsEnabled {
		srv := httpapi.NewServer(cfg, httpapi.NewEngine(db, quota, cfg))
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("ops server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	log.Info().Msg("gateway stopped")
	return err
}

// registerWhenReady waits for READY, which carries the application id, then
// overwrites the commands. A failure is logged; the gateway keeps serving.
func registerWhenReady(ctx context.Context, s *discordgo.Session, ready <-chan string, guildID string) error {
	var appID string
	select {
	case appID = <-ready:
	case <-time.After(readyTimeout):
		log.Error().Dur("timeout", readyTimeout).Msg("no READY event, commands not registered")
		return nil
	case <-ctx.Done():
		return nil
	}
	if err := discord.RegisterCommands(ctx, s, appID, guildID); err != nil {
		log.Error().Err(err).Msg("command registration failed")
	}
	return nil
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("closing ledger failed")
	}
}
