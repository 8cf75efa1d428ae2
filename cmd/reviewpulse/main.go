package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/reviewpulse/internal/config"
	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/observability"
	"github.com/TobiSchelling/reviewpulse/internal/pipeline"
	"github.com/TobiSchelling/reviewpulse/internal/scheduler"
	"github.com/TobiSchelling/reviewpulse/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "reviewpulse",
	Short:        "App store review topics and summaries",
	Long:         "reviewpulse collects App Store and Google Play reviews, groups them into topics, and writes AI summaries per app.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			observability.Setup("dev", "info")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		config.LoadEnv(path)
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		observability.Setup(cfg.Logging.Env, level)

		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("reviewpulse", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/reviewpulse/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to list your apps and the Google Play proxy, then put GEMINI_API_KEY in a .env file next to it.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n\n", database.GetToday())
		fmt.Printf("Apps: %d\n", stats.Apps)
		fmt.Printf("Reviews: %d\n", stats.Reviews)
		printStoreTotals(stats.ReviewsByStore)
		fmt.Printf("Summaries: %d\n", stats.Summaries)

		today, err := db.ListSummaries(database.GetToday())
		if err != nil {
			return fmt.Errorf("listing summaries: %w", err)
		}
		if len(today) > 0 {
			fmt.Println("\nToday's summaries:")
			for _, s := range today {
				fmt.Printf("  [%s] app %d: %d reviews (%s)\n", s.Store, s.AppID, s.ReviewCount, s.Window)
			}
		}

		if r := stats.LastRun; r != nil {
			fmt.Println("\nLast run:")
			fmt.Printf("  %s (%s) at %s\n", r.Kind, r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04"))
			fmt.Printf("  Apps: %d processed, %d failed\n", r.AppsProcessed, r.AppsFailed)
			switch r.Kind {
			case database.RunIngest:
				fmt.Printf("  Reviews: %d new, %d updated\n", r.ReviewsNew, r.ReviewsUpdated)
			case database.RunAnalyze:
				fmt.Printf("  Summaries written: %d\n", r.SummariesWritten)
			}
		}
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch reviews for every registered app and store them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
			rep, err := p.Ingest(ctx)
			if rep != nil {
				printIngest(rep)
			}
			return err
		})
	},
}

var analyzeWindow string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Cluster stored reviews into topics and write summaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
			rep, err := p.Analyze(ctx, analyzeWindow)
			if rep != nil {
				printAnalysis(rep)
			}
			return err
		})
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeWindow, "window", "w", "", "Analysis window (recent, quarterly; default from config)")
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run ingest followed by analyze",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
			rep, err := p.Refresh(ctx)
			if rep != nil && rep.Ingest != nil {
				printIngest(rep.Ingest)
			}
			if rep != nil && rep.Analysis != nil {
				printAnalysis(rep.Analysis)
			}
			return err
		})
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and, if enabled, the schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
			port := cfg.Server.Port
			if cmd.Flags().Changed("port") {
				port = servePort
			}
			srv := server.New(p.DB(), p, server.Options{
				EnvChecks: []string{cfg.Enrichment.APIKeyEnv, cfg.Enrichment.OpenAIKeyEnv},
			})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Serve(ctx, srv, port) })

			if cfg.Schedule.Enabled {
				sched, err := scheduler.New(cfg.Schedule.Timezone)
				if err != nil {
					return err
				}
				if err := sched.Add("ingest", cfg.Schedule.Ingest, func(ctx context.Context) error {
					_, err := p.Ingest(ctx)
					return err
				}); err != nil {
					return err
				}
				if err := sched.Add("analyze", cfg.Schedule.Analyze, func(ctx context.Context) error {
					_, err := p.Analyze(ctx, "")
					return err
				}); err != nil {
					return err
				}
				for _, name := range []string{"ingest", "analyze"} {
					if next, ok := sched.Next(name); ok {
						log.Info().Str("job", name).Time("next", next).Msg("scheduled")
					}
				}
				g.Go(func() error { return sched.Run(ctx) })
			}

			fmt.Printf("Starting server at http://localhost:%d\n", port)
			fmt.Println("Press Ctrl+C to stop")
			return g.Wait()
		})
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func withPipeline(ctx context.Context, fn func(context.Context, *pipeline.Pipeline) error) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	p := pipeline.New(ctx, cfg, db)
	defer p.Close()
	return fn(ctx, p)
}

func printIngest(rep *pipeline.IngestReport) {
	fmt.Println("\nIngestion complete:")
	for _, a := range rep.Apps {
		if a.Err != "" {
			fmt.Printf("  [%s] %s: failed: %s\n", a.Store, a.ExternalID, a.Err)
			continue
		}
		fmt.Printf("  [%s] %s: %d fetched, %d new, %d updated, %d rejected\n",
			a.Store, a.ExternalID, a.Fetched, a.New, a.Updated, a.Fetched-a.Usable)
	}
	fmt.Printf("  New: %d, updated: %d, failed apps: %d\n", rep.New, rep.Updated, rep.Failed)
	printStoreTotals(rep.Totals)
}

func printAnalysis(rep *pipeline.AnalysisReport) {
	fmt.Printf("\nAnalysis complete (%s, %s):\n", rep.Window, database.FormatDateKey(rep.DateKey))
	for _, a := range rep.Apps {
		switch {
		case a.Err != "":
			fmt.Printf("  [%s] app %d: failed: %s\n", a.Store, a.AppID, a.Err)
		case a.Skipped:
			fmt.Printf("  [%s] app %d: no reviews in window\n", a.Store, a.AppID)
		default:
			fmt.Printf("  [%s] app %d: %d reviews, %d topics\n", a.Store, a.AppID, a.Reviews, a.Clusters)
		}
	}
	fmt.Printf("  Summaries written: %d, failed apps: %d\n", rep.Summaries, rep.Failed)
}

func printStoreTotals(totals map[string]int) {
	stores := make([]string, 0, len(totals))
	for s := range totals {
		stores = append(stores, s)
	}
	sort.Strings(stores)
	for _, s := range stores {
		fmt.Printf("  %s: %d\n", s, totals[s])
	}
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.DBPath())
}
