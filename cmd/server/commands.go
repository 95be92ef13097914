package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/despensa/till/api"
	"github.com/despensa/till/config"
	"github.com/despensa/till/ledger"
	"github.com/despensa/till/logging"
	"github.com/despensa/till/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

// errDrift makes `till check` exit non-zero without printing usage.
var errDrift = errors.New("balance drift detected")

var rootCmd = &cobra.Command{
	Use:           "till",
	Short:         "Cash drawer and store-credit ledger for a small shop",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (\":memory:\" for a throwaway database)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json or console")

	serveCmd.Flags().String("addr", "", "HTTP listen address, e.g. :8080")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errDrift) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// =============================================================================
// SHARED SETUP
// =============================================================================

type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store *sqlite.Store
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close database", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// setup loads configuration, applies flag overrides, builds the logger and
// opens the store.
func setup(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	if err := ensureDir(cfg.Database.Path); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Error("open database", zap.String("path", cfg.Database.Path), zap.Error(err))
		return nil, err
	}
	return &app{cfg: cfg, log: log, store: store}, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"db", &cfg.Database.Path},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
		{"addr", &cfg.HTTP.Addr},
	}
	for _, o := range overrides {
		f := cmd.Flags().Lookup(o.flag)
		if f == nil || !f.Changed {
			continue
		}
		*o.dst = f.Value.String()
	}
	return cfg.Validate()
}

func ensureDir(dbPath string) error {
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}

func (a *app) engine(opts ...ledger.Option) *ledger.Engine {
	base := []ledger.Option{
		ledger.WithClock(ledger.SystemClock{Location: a.cfg.Location()}),
		ledger.WithPhoneRegion(a.cfg.Shop.PhoneRegion),
	}
	return ledger.NewEngine(a.store, append(base, opts...)...)
}

// =============================================================================
// SERVE
// =============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API, the Server-Sent Events change feed and the periodic
balance consistency check. This is the default when no command is given.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, log := a.cfg, a.log

	hub := api.NewEventHub(log.Named("sse"))
	metrics := api.NewMetrics()
	metrics.WatchHub(hub)
	engine := a.engine(ledger.WithNotifier(hub))

	handler := api.NewHandler(engine, log.Named("api"))
	handler.Hub = hub
	handler.Metrics = metrics
	handler.Location = cfg.Location()
	handler.HistoryLimit = cfg.Shop.HistoryLimit
	handler.Ping = a.store.Ping

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateLimit:   cfg.HTTP.RateLimit,
		Development: cfg.Log.Format == "console",
		Scenarios:   cfg.HTTP.DemoScenarios,
	})

	// SSE streams never go idle, so they are told to end on shutdown.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelStreams)

	scheduler := api.NewConsistencyScheduler(engine, metrics, log)
	scheduler.CheckInterval = cfg.Consistency.Interval

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("db", cfg.Database.Path),
			zap.String("timezone", cfg.Location().String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}

// =============================================================================
// MIGRATE
// =============================================================================

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and print the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		version, dirty, err := a.store.SchemaVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t) at %s\n", version, dirty, a.cfg.Database.Path)
		return nil
	},
}

// =============================================================================
// CHECK / REPAIR
// =============================================================================

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare cached balances with the debt log",
	Long: `Compare every customer's cached balance with the sum of their debt log
and print the customers that differ. Exits with status 1 when any drift is
found. The run is recorded and shows up in GET /api/admin/consistency.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.engine().CheckConsistency(cmd.Context())
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), report)
		if !report.Consistent() {
			return errDrift
		}
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Recompute drifted balances from the debt log",
	Long: `Reset every drifted balance to the sum of the customer's debt log in a
single transaction. The debt log is never changed. Stop the server first:
the repair should not race live writes from another process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.engine().RepairBalances(cmd.Context())
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), report)
		if !report.Consistent() {
			a.log.Info("balances repaired", zap.Int("customers", len(report.Drifts)))
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d balance(s)\n", len(report.Drifts))
		}
		return nil
	},
}

// =============================================================================
// SEED
// =============================================================================

var seedCmd = &cobra.Command{
	Use:   "seed [scenario]",
	Short: "Load a demo scenario into an empty database",
	Long: `Load a demo scenario into an empty database. Without an argument the
available scenarios are listed. Refuses to touch a ledger that already has
customers or movements.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDESCRIPTION")
			for _, s := range api.Scenarios {
				fmt.Fprintf(tw, "%s\t%s\n", s.ID, s.Description)
			}
			return tw.Flush()
		}

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := api.SeedScenario(cmd.Context(), a.engine(), args[0]); err != nil {
			return err
		}
		a.log.Info("scenario loaded", zap.String("scenario", args[0]), zap.String("db", a.cfg.Database.Path))
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %s into %s\n", args[0], a.cfg.Database.Path)
		return nil
	},
}

func printReport(out io.Writer, report ledger.ConsistencyReport) {
	fmt.Fprintf(out, "checked %d customer(s), %d drifted\n", report.Run.Customers, len(report.Drifts))
	if report.Consistent() {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCACHED\tLOG SUM\tDIFF")
	for _, d := range report.Drifts {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", d.CustomerID, d.Name, d.Cached, d.LogSum, d.Cached-d.LogSum)
	}
	tw.Flush()
}
