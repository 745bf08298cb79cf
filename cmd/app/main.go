package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/ocrmd/internal/config"
	"github.com/local/ocrmd/internal/fetch"
	"github.com/local/ocrmd/internal/filetype"
	"github.com/local/ocrmd/internal/limiter"
	logpkg "github.com/local/ocrmd/internal/logger"
	"github.com/local/ocrmd/internal/metrics"
	"github.com/local/ocrmd/internal/ocr"
	"github.com/local/ocrmd/internal/pipeline"
	"github.com/local/ocrmd/internal/statuscheck"
	"github.com/local/ocrmd/internal/storage"
	"github.com/local/ocrmd/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := cfgpkg.Load()

	inputDir := flag.String("input", cfg.Input.Dir, "directory with PDFs and images to process")
	outputDir := flag.String("output", cfg.Output.Dir, "directory (or S3 prefix) for artifacts")
	engine := flag.String("engine", cfg.OCR.Engine, "OCR engine: mistral, replay or tesseract")
	checkOnly := flag.Bool("check", false, "check configured dependencies and exit")
	flag.Parse()
	cfg.Input.Dir = *inputDir
	cfg.Output.Dir = *outputDir
	cfg.OCR.Engine = *engine

	if err := logpkg.Init(logpkg.FromConfig("ocrmd", cfg.Logging, cfg.Axiom)); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
	}
	defer logpkg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs, err := newFilesystem(ctx, cfg.Output)
	if err != nil {
		log.Error().Err(err).Msg("failed to init output filesystem")
		fmt.Printf("Output unavailable: %v\n", err)
		return 1
	}
	status, redisPinger, closeStatus := newStatusStore(ctx, cfg.Status)
	defer closeStatus()
	checker := newChecker(cfg, fs, redisPinger)

	if *checkOnly {
		return printChecks(ctx, checker)
	}

	if cfg.Metrics.Addr != "" {
		srv := startMetrics(cfg.Metrics.Addr, checker)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	files, err := filetype.Discover(cfg.Input.Dir)
	if err != nil {
		fmt.Printf("Cannot read input directory %s: %v\n", cfg.Input.Dir, err)
		return 1
	}
	if len(files) == 0 {
		fmt.Printf("No PDF or image files found in %s\n", cfg.Input.Dir)
		return 1
	}

	backend, err := ocr.New(cfg.OCR)
	if err != nil {
		log.Error().Err(err).Str("engine", cfg.OCR.Engine).Msg("failed to init OCR backend")
		fmt.Printf("OCR backend unavailable: %v\n", err)
		return 1
	}
	if backend.Name() == "mistral" {
		lim := newLimiter(ctx, cfg)
		defer lim.Close()
		backend = ocr.NewLimited(backend, lim)
	}

	p := pipeline.New(pipeline.Dependencies{
		Backend: backend,
		FS:      fs,
		Fetcher: fetch.NewHTTPFetcher(fetch.Options{Timeout: cfg.Fetch.Timeout, MaxBytes: cfg.Fetch.MaxBytes}),
		Status:  status,
	})

	fmt.Printf("Found %d file(s) to process\n", len(files))
	b := &batch{
		pipeline:    p,
		out:         os.Stdout,
		concurrency: cfg.Worker.Concurrency,
		docTimeout:  cfg.Worker.DocumentTimeout,
	}
	sum := b.Run(ctx, files)

	fmt.Println()
	fmt.Println("Processing complete!")
	fmt.Printf("Successfully processed: %d\n", sum.Succeeded)
	fmt.Printf("Failed: %d\n", sum.Failed)
	log.Info().Int("succeeded", sum.Succeeded).Int("failed", sum.Failed).Str("engine", backend.Name()).Msg("batch finished")

	if sum.Failed > 0 {
		return 1
	}
	return 0
}

func startMetrics(addr string, checker *statuscheck.Checker) *http.Server {
	metrics.Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		sum := checker.Summary(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !sum.OK() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(sum)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	return srv
}

func newFilesystem(ctx context.Context, oc cfgpkg.OutputConfig) (storage.Filesystem, error) {
	switch oc.Backend {
	case "", "local":
		if err := os.MkdirAll(oc.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		return storage.NewLocalFS(oc.Dir), nil
	case "s3":
		prefix := oc.S3Prefix
		if prefix == "" {
			prefix = oc.Dir
		}
		return storage.NewS3FS(ctx, storage.S3Options{
			Bucket:          oc.S3Bucket,
			Prefix:          prefix,
			Region:          oc.S3Region,
			Endpoint:        oc.S3Endpoint,
			AccessKeyID:     oc.S3AccessKey,
			SecretAccessKey: oc.S3SecretKey,
			Password:        oc.Password,
		})
	default:
		return nil, fmt.Errorf("unknown output backend %q", oc.Backend)
	}
}

// newStatusStore falls back to log narration when Redis is unreachable.
func newStatusStore(ctx context.Context, sc cfgpkg.StatusConfig) (store.StatusStore, statuscheck.Pinger, func()) {
	if sc.Backend != "redis" {
		return store.LogStatus{}, nil, func() {}
	}
	rs, err := store.NewRedisStatus(ctx, sc.RedisURL, sc.TTL)
	if err != nil {
		log.Warn().Err(err).Msg("redis status store unavailable; logging status only")
		return store.LogStatus{}, nil, func() {}
	}
	return store.Multi{store.LogStatus{}, rs}, rs, func() { _ = rs.Close() }
}

// newLimiter falls back to in-process cooldowns when Redis is unreachable.
func newLimiter(ctx context.Context, cfg cfgpkg.Config) *limiter.Adaptive {
	opts := limiter.Options{
		MaxInflight: cfg.Limiter.MaxInflight,
		BaseBackoff: cfg.Limiter.BaseCooldown,
		MaxBackoff:  cfg.Limiter.MaxCooldown,
	}
	if cfg.Limiter.Shared {
		lim, err := limiter.NewRedis(ctx, cfg.Status.RedisURL, opts)
		if err == nil {
			return lim
		}
		log.Warn().Err(err).Msg("shared OCR cooldowns unavailable; using in-process limiter")
	}
	return limiter.New(opts)
}

func newChecker(cfg cfgpkg.Config, fs storage.Filesystem, redis statuscheck.Pinger) *statuscheck.Checker {
	opts := statuscheck.Options{Redis: redis}
	switch v := fs.(type) {
	case *storage.S3FS:
		opts.S3 = v
	case *storage.LocalFS:
		opts.OutputDir = v.Root()
	}
	switch cfg.OCR.Engine {
	case "", "mistral":
		opts.MistralURL = cfg.OCR.BaseURL
		opts.MistralKey = cfg.OCR.APIKey
	case "tesseract":
		opts.Binaries = []string{"tesseract"}
	}
	return statuscheck.New(opts)
}

func printChecks(ctx context.Context, checker *statuscheck.Checker) int {
	sum := checker.Summary(ctx)
	for _, name := range sum.Names() {
		st := sum[name]
		mark := "OK  "
		if !st.OK {
			mark = "FAIL"
		}
		fmt.Printf("%s %-10s %s\n", mark, name, st.Message)
	}
	if !sum.OK() {
		return 1
	}
	return 0
}
