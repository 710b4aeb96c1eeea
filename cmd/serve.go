package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sackio/unibrowse-sub002/internal/browser"
	"github.com/sackio/unibrowse-sub002/internal/config"
	"github.com/sackio/unibrowse-sub002/internal/interaction"
	"github.com/sackio/unibrowse-sub002/internal/macro"
	"github.com/sackio/unibrowse-sub002/internal/observability"
	"github.com/sackio/unibrowse-sub002/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket RPC server",
		Long: `Starts the server that tool clients connect to on /ws and the browser
extension connects to on /extension. Macros are persisted to Postgres when
database.url is set; interactions are journaled to SQLite when
interactions.journal_path is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, observability.GetLogger())
		},
	}
	cmd.Flags().String("host", "", "listen host (overrides server.host)")
	cmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	cmd.Flags().String("executor", "", "macro executor: extension, cdp or none")
	cmd.Flags().String("journal", "", "SQLite interaction journal path")
	return cmd
}

// runServe assembles the components described by cfg and serves until ctx
// is cancelled.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	macros, closeMacros, err := openMacroStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMacros()

	interactions, closeInteractions, err := openInteractionLog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeInteractions()

	if rc := cfg.Interactions().Retention; rc.Enabled() {
		retention := interaction.NewRetention(interactions, rc.Schedule, rc.MaxAge, logger)
		if err := retention.Start(); err != nil {
			return err
		}
		defer retention.Stop()
	}

	var extension *browser.ExtensionExecutor
	switch cfg.Browser().Executor {
	case config.ExecutorExtension:
		extension = browser.NewExtensionExecutor(logger)
		macros.SetExecutor(extension)
	case config.ExecutorCDP:
		cdp, err := browser.NewCDPExecutor(ctx, cfg.Browser(), logger)
		if err != nil {
			return err
		}
		defer cdp.Close()
		macros.SetExecutor(cdp)
	case config.ExecutorNone:
		logger.Warn("No macro executor configured; execute calls will fail.")
	}

	logger.Info("Starting unibrowse.",
		zap.String("version", Version),
		zap.String("addr", cfg.Server().Addr()),
		zap.String("executor", cfg.Browser().Executor),
	)
	return server.New(cfg, macros, interactions, extension, logger).Run(ctx)
}

func openMacroStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*macro.Store, func(), error) {
	url := cfg.Database().URL
	if url == "" {
		logger.Info("No database configured; macros are kept in memory.")
		return macro.NewStore(logger), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	repo, err := macro.NewPostgresRepository(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	store := macro.NewStore(logger, macro.WithRepository(repo))
	if err := store.Load(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func openInteractionLog(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*interaction.Log, func(), error) {
	ic := cfg.Interactions()
	opts := []interaction.Option{interaction.WithCapacity(ic.MaxEvents)}
	closeFn := func() {}

	if ic.JournalPath != "" {
		journal, err := interaction.OpenJournal(ic.JournalPath)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, interaction.WithJournal(journal))
		closeFn = func() {
			if err := journal.Close(); err != nil {
				logger.Warn("Failed to close interaction journal.", zap.Error(err))
			}
		}
	}

	l := interaction.NewLog(logger, opts...)
	if err := l.Open(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return l, closeFn, nil
}
