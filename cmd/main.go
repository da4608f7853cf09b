package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docketra/internal/config"
	"docketra/internal/google"
	"docketra/internal/mailsync"
	"docketra/internal/models"
	"docketra/internal/providers"
	"docketra/internal/report"
	"docketra/internal/runlog"
	"docketra/internal/server"
	"docketra/internal/store"
	"docketra/internal/syncer"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const runLogTTL = 30 * 24 * time.Hour

func main() {
	app := &cli.App{
		Name:  "docketra",
		Usage: "Keep a practice's calendar and mail in sync with Google, iCloud or IMAP.",
		Commands: []*cli.Command{
			serveCommand(),
			authCommand(),
			syncCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// services holds what every command builds from the configuration.
type services struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	redis    *redis.Client
	runs     runlog.Log
	reporter *report.Sentry
	flush    func()
}

func setup(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)

	db, err := store.Open(logger, store.Options{
		DSN:          cfg.DatabaseURL,
		MaxIdleConns: cfg.DBMaxIdleConns,
		MaxOpenConns: cfg.DBMaxOpenConns,
	})
	if err != nil {
		return nil, err
	}

	flush, err := report.Init(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		logger.Warn("Error reporting disabled", "error", err)
	}

	rt := &services{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		runs:     runlog.NewMemoryLog(),
		reporter: report.NewSentry(logger, nil),
		flush:    flush,
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		logger.Info("Connected to Redis", "addr", cfg.Redis.Address)
		rt.redis = client
		rt.runs = runlog.NewRedisLog(client, runLogTTL)
	}
	return rt, nil
}

func (rt *services) close() {
	rt.flush()
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if sqlDB, err := rt.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API.",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			var limiterStorage fiber.Storage
			if rt.redis != nil {
				limiterStorage = server.NewRedisStorage(rt.redis)
			}

			app := server.New(server.Deps{
				Logger:    rt.logger,
				Events:    store.NewEventStore(rt.db),
				Emails:    store.NewEmailStore(rt.db),
				Providers: providers.New(rt.logger, rt.cfg, store.NewTokenStore(rt.db)),
				Runs:      rt.runs,
				Reporter:  rt.reporter,
			}, server.Config{
				RateLimitSync:  rt.cfg.RateLimitSync,
				EmailSyncMax:   rt.cfg.Mail.SyncMax,
				Window:         rt.cfg.SyncWindow,
				LimiterStorage: limiterStorage,
			})

			go func() {
				<-ctx.Done()
				rt.logger.Info("Shutting down server")
				if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
					rt.logger.Error("Server shutdown failed", "error", err)
				}
			}()

			rt.logger.Info("Starting server", "port", rt.cfg.ServerPort, "environment", rt.cfg.Environment)
			return app.Listen(":" + rt.cfg.ServerPort)
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize a user's Google account and store the token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "User id the token belongs to."},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c.Context)
			if err != nil {
				return err
			}
			defer rt.close()
			rt.logger.Info("Starting Google authentication flow.", "user", c.String("user"))

			tokens := store.NewTokenStore(rt.db)
			factory := providers.New(rt.logger, rt.cfg, tokens)
			oauthCfg, err := factory.OAuthConfig()
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthCfg, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}
			if err := tokens.Save(c.Context, c.String("user"), google.ProviderName, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			rt.logger.Info("Successfully authenticated and saved token.", "user", c.String("user"))

			if rt.cfg.CalendarProvider == config.CalendarGoogle {
				if err := factory.VerifyCalendar(c.Context, c.String("user")); err != nil {
					return fmt.Errorf("token saved, but GOOGLE_CALENDAR_ID is not usable: %w", err)
				}
				rt.logger.Info("Calendar is reachable.", "calendarID", rt.cfg.Google.CalendarID)
			}
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run calendar (and optionally mail) synchronization for one user.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "User id to sync."},
			&cli.BoolFlag{Name: "mail", Usage: "Also pull recent mail."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds."},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if c.Bool("dry-run") {
				rt.logger.Info("Performing a dry run. No changes will be made.")
			}

			owner := c.String("user")
			job := &syncJob{
				logger:    rt.logger,
				providers: providers.New(rt.logger, rt.cfg, store.NewTokenStore(rt.db)),
				events:    store.NewEventStore(rt.db),
				emails:    store.NewEmailStore(rt.db),
				runs:      rt.runs,
				reporter:  rt.reporter,
				window:    rt.cfg.SyncWindow,
				mailMax:   rt.cfg.Mail.SyncMax,
			}

			cycle := func() error {
				if err := job.calendar(ctx, owner, c.Bool("dry-run")); err != nil {
					return err
				}
				if c.Bool("mail") && !c.Bool("dry-run") {
					return job.mail(ctx, owner)
				}
				return nil
			}

			if !c.IsSet("watch") {
				rt.logger.Info("Running a single sync cycle.")
				return cycle()
			}

			interval := time.Duration(c.Int("watch")) * time.Second
			rt.logger.Info("Starting watcher.", "interval", interval)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := cycle(); err != nil {
					rt.logger.Error("Sync cycle failed", "error", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
}

// syncJob runs one user's scheduled sync steps and records each run.
type syncJob struct {
	logger    *slog.Logger
	providers server.Providers
	events    syncer.EventStore
	emails    mailsync.EmailStore
	runs      runlog.Log
	reporter  syncer.FailureReporter
	window    func(time.Time) models.Window
	mailMax   int64
}

func (j *syncJob) calendar(ctx context.Context, owner string, dryRun bool) error {
	entry := runlog.Entry{Owner: owner, Kind: runlog.KindCalendar, StartedAt: time.Now().UTC(), DryRun: dryRun}

	remote, err := j.providers.Calendar(ctx, owner)
	if err != nil {
		j.reporter.ReportFailure(ctx, "calendar_client", map[string]string{"owner": owner}, err)
		entry.Failed = 1
		j.record(ctx, entry)
		return fmt.Errorf("failed to create calendar client: %w", err)
	}
	res, err := syncer.NewSyncer(j.logger, j.events, remote,
		syncer.WithDryRun(dryRun),
		syncer.WithReporter(j.reporter),
	).Reconcile(ctx, owner, j.window(time.Now()))
	if err != nil {
		return err
	}

	entry.Pushed, entry.Pulled, entry.Failed = res.Pushed, res.Pulled, res.Failed
	j.record(ctx, entry)
	return nil
}

func (j *syncJob) mail(ctx context.Context, owner string) error {
	entry := runlog.Entry{Owner: owner, Kind: runlog.KindMail, StartedAt: time.Now().UTC()}

	mailbox, err := j.providers.Mailbox(ctx, owner)
	if err != nil {
		j.reporter.ReportFailure(ctx, "mailbox_client", map[string]string{"owner": owner}, err)
		entry.Failed = 1
		j.record(ctx, entry)
		return fmt.Errorf("failed to create mailbox client: %w", err)
	}
	res := mailsync.NewSyncer(j.logger, j.emails, mailbox, mailsync.WithReporter(j.reporter)).Sync(ctx, owner, j.mailMax)

	entry.Synced, entry.Total = res.Synced, res.Total
	j.record(ctx, entry)
	return nil
}

func (j *syncJob) record(ctx context.Context, entry runlog.Entry) {
	entry.FinishedAt = time.Now().UTC()
	if err := j.runs.Record(ctx, entry); err != nil {
		j.logger.Warn("Could not record sync run", "error", err)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
