// Command namdsim drives one nAMD anti-VEGF treatment simulation run from
// a protocol, cost/resource, and recruitment specification document (spec.md
// §6), writing the Result Writer's three datasets to an output directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/namd-sim/engine/internal/calendar"
	"github.com/namd-sim/engine/internal/config"
	"github.com/namd-sim/engine/internal/discontinuation"
	"github.com/namd-sim/engine/internal/protocol"
	"github.com/namd-sim/engine/internal/randstream"
	"github.com/namd-sim/engine/internal/recruitment"
	"github.com/namd-sim/engine/internal/resources"
	"github.com/namd-sim/engine/internal/results"
	"github.com/namd-sim/engine/internal/runner"
	"github.com/namd-sim/engine/internal/telemetry/logging"
	"github.com/namd-sim/engine/internal/telemetry/metrics"
	"github.com/namd-sim/engine/internal/telemetry/tracing"
	"github.com/namd-sim/engine/internal/visit"
)

func main() {
	var (
		protocolPath     string
		costPath         string
		recruitmentPath  string
		outputDir        string
		seedOverride     int64
		chunkSize        int
		checkpointPath   string
		checkpointPeriod time.Duration
		resume           bool
		watch            bool
		parallel         bool
		workers          int
		hotCapacity      int
		metricsAddr      string
		showVersion      bool
	)
	flag.StringVar(&protocolPath, "protocol", "", "Path to the protocol specification YAML document")
	flag.StringVar(&costPath, "costs", "", "Path to the cost/resource specification YAML document")
	flag.StringVar(&recruitmentPath, "recruitment", "", "Path to the recruitment specification YAML document")
	flag.StringVar(&outputDir, "output", "output", "Directory the run's datasets are written into")
	flag.Int64Var(&seedOverride, "seed", 0, "Override the recruitment document's seed (0 keeps the document's own seed)")
	flag.IntVar(&chunkSize, "chunk-size", results.DefaultChunkSize, "Per-visit dataset flush chunk size")
	flag.StringVar(&checkpointPath, "checkpoint", "", "Path to the checkpoint log (empty uses checkpoint.log in the output directory; the log is always written)")
	flag.DurationVar(&checkpointPeriod, "checkpoint-interval", 500*time.Millisecond, "Interval between checkpoint log flushes")
	flag.BoolVar(&resume, "resume", false, "Resume from an existing checkpoint log, skipping already-processed days")
	flag.BoolVar(&watch, "watch", false, "Watch the protocol file for edits and re-validate instead of running a simulation")
	flag.BoolVar(&parallel, "parallel", false, "Enable the parallel patient-execution worker pool")
	flag.IntVar(&workers, "workers", 4, "Worker count when -parallel is set")
	flag.IntVar(&hotCapacity, "hot-capacity", 10_000, "Bounded hot working-set size for the patient store")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("namdsim: nAMD anti-VEGF treatment simulation engine")
		return
	}

	if protocolPath == "" {
		log.Fatal("missing required -protocol flag")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; requesting cancellation")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	if watch {
		runWatch(ctx, protocolPath)
		return
	}

	if costPath == "" || recruitmentPath == "" {
		log.Fatal("missing required -costs/-recruitment flags")
	}

	protocolSpecs, checksum, err := config.LoadProtocol(protocolPath)
	if err != nil {
		log.Fatalf("load protocol: %v", err)
	}
	costSpec, err := config.LoadCost(costPath)
	if err != nil {
		log.Fatalf("load costs: %v", err)
	}
	recruitDoc, err := config.LoadRecruitment(recruitmentPath)
	if err != nil {
		log.Fatalf("load recruitment: %v", err)
	}
	recruitSpec, err := recruitDoc.ToSpec(protocolSpecs)
	if err != nil {
		log.Fatalf("build recruitment spec: %v", err)
	}

	seed := recruitDoc.Seed
	if seedOverride != 0 {
		seed = uint64(seedOverride)
	}

	durationDays := calendar.DurationDays(recruitSpec.DurationYears)
	cal := calendar.New(recruitSpec.StartDate)
	streams := randstream.New(seed)

	recruitCtl := recruitment.New(recruitSpec, cal, streams)
	protoEngine := protocol.New(protocolSpecs.Protocol)
	discMgr := discontinuation.New(protocolSpecs.Discontinuation)
	resourceTracker := resources.NewTracker(costSpec)

	executor := &visit.Executor{
		Calendar:            cal,
		Disease:             &protocolSpecs.Disease,
		Vision:              &protocolSpecs.Vision,
		Protocol:            protoEngine,
		Discontinuation:     discMgr,
		Resources:           resourceTracker,
		TreatmentWindowDays: protocolSpecs.Disease.TreatmentEffectWindowDays,
		MinIntervalDays:     protocolSpecs.Protocol.MinIntervalDays,
	}

	logger := logging.New(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	tracer := tracing.New("namdsim")
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	var recorder *metrics.Recorder
	if metricsAddr != "" {
		recorder = metrics.NewRecorder()
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		go func() {
			log.Printf("metrics listening on %s", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	if checkpointPath == "" {
		checkpointPath = filepath.Join(outputDir, "checkpoint.log")
	}

	run := runner.New(runner.Config{
		Seed:                seed,
		Calendar:            cal,
		Streams:             streams,
		Recruitment:         recruitCtl,
		Executor:            executor,
		DurationDays:        durationDays,
		LoadingIntervalDays: protocolSpecs.Protocol.LoadingIntervalDays,
		OutputDir:           outputDir,
		ChunkSize:           chunkSize,
		CheckpointPath:      checkpointPath,
		CheckpointPeriod:    checkpointPeriod,
		Parallel:            parallel,
		Workers:             workers,
		HotCapacity:         hotCapacity,
		Logger:              logger,
		Metrics:             recorder,
		Tracer:              tracer,
		ProtocolName:        protocolSpecs.Protocol.Name,
		ProtocolVersion:     protocolSpecs.Protocol.Version,
		ProtocolChecksum:    checksum,
	})

	status, err := run.Run(ctx, func(dayOffset, totalDays, patientsActive int) {
		if dayOffset%28 == 0 {
			log.Printf("day %d/%d, %d patients active", dayOffset, totalDays, patientsActive)
		}
	}, resume)
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}
	log.Printf("run finished with status=%s", status)
	if status != runner.StatusSuccess {
		os.Exit(1)
	}
}

// runWatch re-validates the protocol file on every edit until interrupted,
// for iterative protocol authoring outside a running simulation (spec.md §6
// configuration validation). It never starts or mutates a simulation run.
func runWatch(ctx context.Context, protocolPath string) {
	w, err := config.NewWatcher(protocolPath)
	if err != nil {
		log.Fatalf("create protocol watcher: %v", err)
	}
	defer w.Close()

	results, err := w.Watch(ctx)
	if err != nil {
		log.Fatalf("watch protocol file: %v", err)
	}
	log.Printf("watching %s for changes (ctrl-c to stop)", protocolPath)
	for r := range results {
		if r.Err != nil {
			log.Printf("%s: validation failed: %v", r.CheckedAt.Format(time.RFC3339), r.Err)
			continue
		}
		log.Printf("%s: protocol document valid", r.CheckedAt.Format(time.RFC3339))
	}
}
