package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cratemap/cratemap/pkg/archive"
	"github.com/cratemap/cratemap/pkg/cache"
	"github.com/cratemap/cratemap/pkg/config"
	"github.com/cratemap/cratemap/pkg/errors"
	"github.com/cratemap/cratemap/pkg/pipeline"
	"github.com/cratemap/cratemap/pkg/registry"
	"github.com/cratemap/cratemap/pkg/store"
)

// exitCodeCap keeps failed-job exit codes inside the range shells treat as
// ordinary failures (128+ means killed by signal).
const exitCodeCap = 125

// runFlags are the analysis flags shared by analyze and ecosystem. Values
// override the config file only when the flag was set on the command line.
type runFlags struct {
	configPath  string
	concurrency int
	retryCap    int
	mirror      string
	storeURI    string
	storeUser   string
	storePass   string
	force       bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to a TOML config file")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "number of packages analyzed in parallel")
	cmd.Flags().IntVar(&f.retryCap, "retry-cap", 0, "retry attempts for fetching and ingestion")
	cmd.Flags().StringVar(&f.mirror, "mirror", "", "registry mirror base URL")
	cmd.Flags().StringVar(&f.storeURI, "store-uri", "", "graph store bolt URI")
	cmd.Flags().StringVar(&f.storeUser, "store-user", "", "graph store username")
	cmd.Flags().StringVar(&f.storePass, "store-pass", "", "graph store password")
	cmd.Flags().BoolVar(&f.force, "force", false, "re-analyze package versions already in the store")
}

// loadConfig reads the config file (or defaults) and overlays any flags the
// user set explicitly.
func (f *runFlags) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}

	set := cmd.Flags().Changed
	if set("concurrency") {
		cfg.Analysis.Concurrency = f.concurrency
	}
	if set("retry-cap") {
		cfg.Analysis.RetryCap = f.retryCap
	}
	if set("mirror") {
		cfg.Registry.Mirror = f.mirror
	}
	if set("store-uri") {
		cfg.Store.URI = f.storeURI
	}
	if set("store-user") {
		cfg.Store.User = f.storeUser
	}
	if set("store-pass") {
		cfg.Store.Password = f.storePass
	}
	return cfg, nil
}

// runtime bundles the wired components of one analysis run.
type runtime struct {
	runner  *pipeline.Runner
	store   store.Store
	backend cache.Cache
	workDir string // removed on close when it was a temp dir
	tempDir bool
}

func (rt *runtime) close(ctx context.Context) {
	if rt.backend != nil {
		_ = rt.backend.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close(ctx)
	}
	if rt.tempDir {
		_ = os.RemoveAll(rt.workDir)
	}
}

// newRuntime wires cache backend, registry client, archive fetcher, graph
// store and scheduler from the effective configuration.
func newRuntime(ctx context.Context, cfg config.Config, force bool) (*runtime, error) {
	logger := loggerFromContext(ctx)
	rt := &runtime{}

	backend, err := newCacheBackend(ctx, cfg.Registry)
	if err != nil {
		return nil, err
	}
	rt.backend = backend

	client := registry.New(cfg.Registry.Mirror, backend, cfg.Registry.CacheTTL.Std())

	rt.workDir = cfg.Analysis.WorkDir
	if rt.workDir == "" {
		dir, err := os.MkdirTemp("", "cratemap-*")
		if err != nil {
			rt.close(ctx)
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "create work dir")
		}
		rt.workDir = dir
		rt.tempDir = true
	}
	fetcher := archive.NewFetcher(client, rt.workDir, cfg.Analysis.MaxExtractBytes)

	st, err := store.NewNeo4j(cfg.Store.URI, cfg.Store.User, cfg.Store.Password)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}
	rt.store = st

	rt.runner = pipeline.New(client, fetcher, st, logger, pipeline.Options{
		Concurrency:       cfg.Analysis.Concurrency,
		RetryCap:          cfg.Analysis.RetryCap,
		BufferSize:        cfg.Analysis.BufferSize,
		SkipPrefixes:      cfg.Analysis.SkipPrefixes,
		IncludePrerelease: cfg.Analysis.IncludePrerelease,
		Force:             force,
	})
	return rt, nil
}

// newCacheBackend selects Redis when configured, otherwise the on-disk
// cache under the configured (or default) directory.
func newCacheBackend(ctx context.Context, reg config.Registry) (cache.Cache, error) {
	if reg.RedisAddr != "" {
		return cache.NewRedisCache(ctx, reg.RedisAddr, "cratemap:registry:")
	}
	dir := reg.CacheDir
	if dir == "" {
		d, err := cache.DefaultDir()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfig, err, "locate cache dir")
		}
		dir = d
	}
	return cache.NewFileCache(dir)
}

// runAnalysis executes the pipeline for the given specs and reports the
// outcome. The returned error is nil only when every job ingested or was
// skipped as already present.
func runAnalysis(cmd *cobra.Command, flags *runFlags, specs []pipeline.Spec) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	cfg, err := flags.loadConfig(cmd)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfg, flags.force)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	tracker := newProgress(logger)
	report, err := rt.runner.Run(ctx, specs)
	if err != nil {
		return err
	}
	tracker.done("run finished")

	printSummary(report)

	if _, failed, _ := report.Counts(); failed > 0 {
		code := failed
		if code > exitCodeCap {
			code = exitCodeCap
		}
		return &ExitError{Code: code}
	}
	return nil
}

// parseSpecs validates name[@constraint] arguments into pipeline specs.
func parseSpecs(args []string) ([]pipeline.Spec, error) {
	specs := make([]pipeline.Spec, 0, len(args))
	for _, arg := range args {
		name, constraint, err := errors.ValidateSpec(arg)
		if err != nil {
			return nil, err
		}
		specs = append(specs, pipeline.Spec{Name: name, Constraint: constraint})
	}
	return specs, nil
}

// defaultCachePath resolves the cache directory the file backend would use
// for the given configuration.
func defaultCachePath(cfg config.Config) (string, error) {
	if cfg.Registry.CacheDir != "" {
		return filepath.Clean(cfg.Registry.CacheDir), nil
	}
	return cache.DefaultDir()
}
