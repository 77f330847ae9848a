// Package cmd is the scanner's cobra command tree: a root command plus
// one subcommand per operator-facing entrypoint, config loaded once via
// internal/config.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"scanner/internal/aiclassify"
	"scanner/internal/cleanup"
	"scanner/internal/config"
	"scanner/internal/crawl"
	"scanner/internal/detect"
	"scanner/internal/devstore"
	"scanner/internal/download"
	"scanner/internal/evidence"
	"scanner/internal/faceprovider"
	"scanner/internal/ingest"
	"scanner/internal/logger"
	"scanner/internal/match"
	"scanner/internal/objectstorage"
	"scanner/internal/ratelimit"
	"scanner/internal/reverseimage"
	"scanner/internal/scan"
	"scanner/internal/scheduler"
	"scanner/internal/store"
	"scanner/internal/vectorstore"
)

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Likeness-discovery pipeline orchestrator",
	Long: `scanner crawls third-party image hosts, detects faces, computes
embeddings, and matches them against a registry of consenting
individuals, surfacing unauthorized likeness use.`,
}

// Execute runs the root command. Called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd, migrateCmd, crawlCmd, scanCmd, cleanupCmd, chunkWorkerCmd)
}

// env wires every collaborator a subcommand might need. Built once per
// invocation from internal/config so a bad .env fails fast before any
// work starts.
type env struct {
	cfg      *config.Config
	store    store.Store
	guards   *ratelimit.Registry
	faces    detect.Provider
	objects  *objectstorage.Client
	download *download.Client
	dev      *devstore.DevStore
}

func buildEnv(ctx context.Context) (*env, error) {
	cfg := config.Get()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	guards := ratelimit.NewRegistry(nil)
	faces := faceprovider.New(cfg.Providers.FaceModelURL, guards.Guard("face-model"))
	if err := faces.InitModel(""); err != nil {
		logger.ErrorEvent("face_model_init_failed", err).Send()
	}

	var dev *devstore.DevStore
	if cfg.Database.DevSQLitePath != "" {
		dev, err = devstore.Open(cfg.Database.DevSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open devstore: %w", err)
		}
	}

	return &env{
		cfg:      cfg,
		store:    st,
		guards:   guards,
		faces:    faces,
		objects:  objectstorage.New(cfg.Storage.Endpoint, cfg.Storage.ServiceToken),
		download: download.NewClient(download.NewSemaphore(cfg.Crawl.DownloadConcurrency), guards),
		dev:      dev,
	}, nil
}

// openStore connects once and wires the pgvector-backed VectorIndex onto
// the same pooled *sql.DB rather than opening a second connection pool.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	pg, err := store.Open(cfg.Database.URL, cfg.Database.MaxConnections, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pg.SetVectorIndex(vectorstore.New(pg.DB()))
	if err := pg.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pg, nil
}

func (e *env) close() {
	if e.dev != nil {
		_ = e.dev.Close()
	}
	_ = e.store.Close()
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the shared database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		logger.Init(cfg.App.LogLevel)
		pg, err := store.Open(cfg.Database.URL, cfg.Database.MaxConnections, nil)
		if err != nil {
			return err
		}
		defer pg.Close()
		return store.Migrate(cmd.Context(), pg.DB())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler's main tick loop until terminated",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := buildEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		// Run installs its own signal-driven shutdown context.
		sched := buildScheduler(e)
		return sched.Run(ctx)
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [platform]",
	Short: "Run one platform crawl tick outside the main loop (admin-triggered single-stage run)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := buildEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		platform := args[0]
		jobID := platform + "-" + time.Now().UTC().Format("20060102T150405")
		if e.dev != nil {
			_ = e.dev.RecordJobStart(jobID, "platform_crawl", platform)
		}

		runner := buildCrawlRunner(e)
		runErr := runner.RunOne(ctx, platform)

		if e.dev != nil {
			errMsg := ""
			if runErr != nil {
				errMsg = runErr.Error()
			}
			_ = e.dev.RecordJobFinish(jobID, 0, 0, errMsg)
		}
		return runErr
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [contributor-id]",
	Short: "Run one contributor reverse-image scan outside the main loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := buildEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		contributorID := args[0]
		jobID := contributorID + "-" + time.Now().UTC().Format("20060102T150405")
		if e.dev != nil {
			_ = e.dev.RecordJobStart(jobID, "contributor_scan", contributorID)
		}

		worker := scan.NewWorker(e.store, e.objects, e.download, buildReverseClient(e), e.faces, e.cfg.Matching.TopK)
		if e.dev != nil {
			worker.Dedup = e.dev
		}
		runErr := worker.RunOne(ctx, contributorID)
		if e.dev != nil {
			_ = e.dev.Prune(24 * time.Hour)
		}

		if e.dev != nil {
			errMsg := ""
			if runErr != nil {
				errMsg = runErr.Error()
			}
			_ = e.dev.RecordJobFinish(jobID, 0, 0, errMsg)
		}
		return runErr
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one retention pass outside the main loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := buildEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		return cleanup.NewWorker(e.store, e.cfg.App.TempDir).Run(ctx)
	},
}

// chunkWorkerCmd is the hidden subcommand the deferred-detection
// dispatcher re-execs itself as, one process per chunk. It is
// never invoked directly by an operator.
var chunkWorkerCmd = &cobra.Command{
	Use:    detect.ChunkWorkerArg + " [input] [output]",
	Hidden: true,
	Args:   cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		guards := ratelimit.NewRegistry(nil)
		provider := faceprovider.New(cfg.Providers.FaceModelURL, guards.Guard("face-model"))
		objects := objectstorage.New(cfg.Storage.Endpoint, cfg.Storage.ServiceToken)
		return detect.RunChunkWorkerMain(cmd.Context(), args[0], args[1], provider, objects, cfg.Detection.MaxLongEdge)
	},
}

func buildReverseClient(e *env) *reverseimage.Client {
	return reverseimage.New(e.cfg.Providers.ReverseImageURL, e.cfg.Providers.ReverseImageAPIKey, e.guards.Guard("reverse-image"))
}

func buildCrawlRunner(e *env) *crawl.Runner {
	civitai := crawl.NewCivitAI(e.cfg.Providers.CivitAIBaseURL, e.cfg.Providers.CivitAIAPIKey, e.guards.Guard("civitai"))
	board := crawl.NewGenericBoard(e.cfg.Providers.GenericBoardURL, e.guards.Guard("genericboard"), e.download)

	depth := map[string]crawl.DepthPolicy{
		"civitai": {
			Default: e.cfg.Crawl.DefaultMaxPages,
			ByTier: map[crawl.DamageTier]int{
				crawl.DamageHigh:   e.cfg.Crawl.HighDamagePages,
				crawl.DamageMedium: e.cfg.Crawl.MediumDamagePages,
				crawl.DamageLow:    e.cfg.Crawl.LowDamagePages,
			},
		},
		"genericboard": {Default: e.cfg.Crawl.DefaultMaxPages},
	}

	return crawl.NewRunner(e.store, []crawl.Provider{civitai, board}, depth, e.cfg.Crawl.BatchSize,
		detect.InlineAdapter{Provider: e.faces})
}

func buildScheduler(e *env) *scheduler.Scheduler {
	cfg := e.cfg

	ingestW := ingest.NewWorker(e.store, e.objects, e.download, e.faces, cfg.Detection.MaxLongEdge)
	scanW := scan.NewWorker(e.store, e.objects, e.download, buildReverseClient(e), e.faces, cfg.Matching.TopK)
	if e.dev != nil {
		scanW.Dedup = e.dev
	}
	crawlR := buildCrawlRunner(e)

	execPath, err := os.Executable()
	if err != nil {
		execPath = os.Args[0]
	}
	detectD := detect.NewDispatcher(e.store, cfg.Detection.ChunkSize, cfg.Detection.MaxChunks,
		time.Duration(cfg.Detection.TimeoutSecond)*time.Second, cfg.App.TempDir, execPath, cfg.Detection.MaxLongEdge)

	aiClient := aiclassify.New(cfg.Providers.AIClassifyURL, cfg.Providers.AIClassifyAPIKey, e.guards.Guard("ai-classify"))
	capturer := &evidence.Capturer{Objects: e.objects}
	matchE := match.NewEngine(e.store, cfg.Matching.TopK, aiClient, capturer, e.objects)

	cleanupW := cleanup.NewWorker(e.store, cfg.App.TempDir)

	sched := scheduler.New(e.store, ingestW, scanW, crawlR, detectD, matchE, cleanupW)
	sched.TickInterval = cfg.Scheduler.TickInterval()
	sched.ScanBatchSize = cfg.Scheduler.ScanBatchSize
	sched.StaleJobMaxAge = cfg.Scheduler.StaleJobMaxAge()
	return sched
}
