// Package runner implements the Runner/Orchestrator of spec.md §4.12
// (C12): a cooperative event-queue loop keyed by (date, patient_id), with
// an optional parallel-worker mode, per-run checkpointing, cancellation,
// and progress callbacks.
//
// Grounded on the teacher's engine/internal/pipeline.Pipeline: a
// context/cancel pair, a sync.WaitGroup-bounded worker pool, a
// mutex-guarded metrics struct, and a single-writer results channel —
// here the multi-stage discovery/extraction/processing/output pipeline
// collapses to one stage (visit execution) because a patient's trajectory
// has no cross-patient data dependency to pipeline across.
package runner

import (
	"container/heap"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/namd-sim/engine/internal/calendar"
	"github.com/namd-sim/engine/internal/discontinuation"
	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/patient"
	"github.com/namd-sim/engine/internal/randstream"
	"github.com/namd-sim/engine/internal/recruitment"
	"github.com/namd-sim/engine/internal/results"
	"github.com/namd-sim/engine/internal/simerrors"
	"github.com/namd-sim/engine/internal/telemetry/logging"
	"github.com/namd-sim/engine/internal/telemetry/metrics"
	"github.com/namd-sim/engine/internal/telemetry/tracing"
	"github.com/namd-sim/engine/internal/visit"
)

// Status is the run's terminal exit status, per spec.md §6 ("success,
// partial, failed").
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// ProgressCallback is invoked at bounded frequency (at most once per
// processed day) and must not mutate simulation state (spec.md §5).
type ProgressCallback func(dayOffset, totalDays int, patientsActive int)

// Config bundles every collaborator and parameter the Runner needs to
// drive one simulation run. Every component is constructed and validated
// by the caller (spec.md §6's "configuration validation" happens before
// Run is invoked); the Runner treats all of it as immutable for the
// run's duration (spec.md §5 "Configuration tables ... are immutable
// after load").
type Config struct {
	Seed uint64

	Calendar    *calendar.Calendar
	Streams     *randstream.Streams
	Recruitment *recruitment.Controller
	Executor    *visit.Executor

	DurationDays        int
	LoadingIntervalDays int

	OutputDir        string
	ChunkSize        int
	CheckpointPath   string
	CheckpointPeriod time.Duration

	// Parallel enables the optional worker-pool mode of spec.md §4.12/§5.
	// Outputs must remain bit-identical to the sequential run for the
	// same seed, since per-patient RNG substreams never depend on
	// dispatch order.
	Parallel bool
	Workers  int

	HotCapacity int

	Logger  logging.Logger
	Metrics *metrics.Recorder
	Tracer  *tracing.Tracer

	// ProtocolName/Version/Checksum populate the run metadata dataset.
	ProtocolName     string
	ProtocolVersion  string
	ProtocolChecksum string
}

// Runner drives the simulation described by Config to completion.
type Runner struct {
	cfg   Config
	cp    *checkpointer
	store *patientStore
}

// New constructs a Runner from cfg.
func New(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		cp:    newCheckpointer(cfg.CheckpointPath, cfg.CheckpointPeriod),
		store: newPatientStore(cfg.HotCapacity),
	}
}

// event is one (date, patient_id) entry in the Runner's event queue,
// ordered first by day and, within a day, by patient ID for a
// deterministic tie-break across patients (spec.md §5's "ties broken by
// a documented rule" governs within-patient ordering; this governs
// across-patient pop order so a sequential run is itself reproducible).
type event struct {
	day       int
	patientID string
	kind      eventKind
}

type eventKind int

const (
	kindInitial eventKind = iota
	kindVisit
	kindMonitoring
)

type eventQueue []event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].day != q[j].day {
		return q[i].day < q[j].day
	}
	return q[i].patientID < q[j].patientID
}
func (q eventQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)        { *q = append(*q, x.(event)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// Run executes the full simulation: generates the enrolled cohort,
// drives every patient's events to completion or the run's end day, and
// finalizes the three Result Writer datasets. ctx cancellation is the
// cancellation token of spec.md §6; on cancel the run flushes buffered
// results and returns StatusPartial instead of an error.
func (r *Runner) Run(ctx context.Context, progress ProgressCallback, resume bool) (Status, error) {
	defer func() {
		r.cp.close()
	}()

	resumePoints := map[string]int{}
	if resume {
		var err error
		resumePoints, err = loadCheckpoints(r.cfg.CheckpointPath)
		if err != nil {
			return StatusFailed, simerrors.IO(err)
		}
	}

	writer, err := results.New(r.cfg.OutputDir, r.cfg.ChunkSize, func(dataset string, rows int) {
		if r.cfg.Logger != nil {
			r.cfg.Logger.InfoCtx(ctx, "dataset chunk flushed", "dataset", dataset, "rows", rows)
		}
	})
	if err != nil {
		return StatusFailed, simerrors.IO(err)
	}

	runID := uuid.NewString()
	ctx, rootSpan := r.startRunSpan(ctx, runID)
	defer r.endSpan(rootSpan)

	queue := &eventQueue{}
	heap.Init(queue)

	enrollments := r.cfg.Recruitment.GenerateEnrollments()
	for _, en := range enrollments {
		p := r.cfg.Recruitment.NewPatient(en.Date)
		r.store.add(p)
		heap.Push(queue, event{day: r.cfg.Calendar.DayOffset(en.Date), patientID: p.ID(), kind: kindInitial})
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.PatientsEnrolled.Add(float64(len(enrollments)))
	}
	if r.cfg.Logger != nil {
		r.cfg.Logger.InfoCtx(ctx, "run starting", "run_id", runID, "patients", len(enrollments), "seed", r.cfg.Seed)
	}

	status := StatusSuccess
	var lastDay int

	for queue.Len() > 0 {
		select {
		case <-ctx.Done():
			status = StatusPartial
			goto finalize
		default:
		}

		day := (*queue)[0].day
		lastDay = day
		if day > r.cfg.DurationDays {
			break
		}

		// Pop every event due on this day before advancing.
		var batch []event
		for queue.Len() > 0 && (*queue)[0].day <= day {
			batch = append(batch, heap.Pop(queue).(event))
		}

		if r.cfg.Parallel {
			r.dispatchParallel(ctx, batch, queue, resumePoints, writer)
		} else {
			for _, e := range batch {
				r.dispatchOne(ctx, e, queue, resumePoints, writer)
			}
		}

		active := 0
		for _, p := range r.store.list() {
			if p.IsDead() {
				continue
			}
			if _, ok := p.NextVisitDate(); ok {
				active++
			} else if _, ok := discontinuation.NextMonitoringDate(p); ok {
				active++
			}
		}
		if progress != nil {
			progress(day, r.cfg.DurationDays, active)
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.ActivePatients.Set(float64(active))
		}
	}

finalize:
	summaries, _ := r.summarize()
	meta := results.RunMetadata{
		Seed:             r.cfg.Seed,
		ProtocolName:     r.cfg.ProtocolName,
		ProtocolVersion:  r.cfg.ProtocolVersion,
		ProtocolChecksum: r.cfg.ProtocolChecksum,
		EngineType:       "namd-sim",
		DurationDays:     r.cfg.DurationDays,
		StartDate:        r.cfg.Calendar.Start(),
		Status:           string(status),
	}
	if err := writer.Finalize(summaries, meta); err != nil {
		writer.Abandon()
		r.writeDiagnostics(newDiagnostics(StatusFailed, err, lastDay, r.store.len()))
		return StatusFailed, simerrors.IO(err)
	}
	if status != StatusSuccess {
		r.writeDiagnostics(newDiagnostics(status, nil, lastDay, r.store.len()))
	}
	if r.cfg.Logger != nil {
		r.cfg.Logger.InfoCtx(ctx, "run complete", "run_id", runID, "status", status, "last_day", lastDay)
	}
	return status, nil
}

// writeDiagnostics persists the diagnostics record of spec.md §7 alongside
// the columnar outputs when a run does not complete cleanly. Failure to
// write it is logged, not escalated: the run's own status already
// reflects the underlying outcome.
func (r *Runner) writeDiagnostics(rec DiagnosticsRecord) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(r.cfg.OutputDir, "diagnostics.json")
	if err := os.WriteFile(path, data, 0o644); err != nil && r.cfg.Logger != nil {
		r.cfg.Logger.ErrorCtx(context.Background(), "failed to write diagnostics record", "error", err)
	}
}

func (r *Runner) dispatchOne(ctx context.Context, e event, queue *eventQueue, resumePoints map[string]int, writer *results.Writer) {
	p, ok := r.store.get(e.patientID)
	if !ok {
		return
	}
	if skip, ok := resumePoints[e.patientID]; ok && e.day <= skip {
		return
	}
	r.store.touch(e.patientID)

	if r.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = r.cfg.Tracer.StartVisit(ctx, e.patientID, e.day)
		defer span.End()
	}

	date := r.cfg.Calendar.DateAt(e.day)

	switch e.kind {
	case kindInitial:
		v, err := r.cfg.Executor.RunInitial(p, date, r.cfg.LoadingIntervalDays)
		if err != nil {
			r.logFailure(ctx, err)
			return
		}
		_ = writer.WriteVisit(p.ID(), v)
		r.scheduleFollowUp(p, queue)
	case kindMonitoring:
		r.cfg.Executor.RunMonitoring(p, date)
		r.scheduleFollowUp(p, queue)
	default:
		streams := r.cfg.Streams
		diseaseRNG := streams.ForPatient(randstream.DiseaseTransitions, p.ID())
		visionRNG := streams.ForPatient(randstream.VisionNoise, p.ID())
		hemoRNG := streams.ForPatient(randstream.Hemorrhage, p.ID())
		discRNG := streams.ForPatient(randstream.DiscontinuationEval, p.ID())
		v, err := r.cfg.Executor.Run(p, date, diseaseRNG, visionRNG, hemoRNG, discRNG)
		if err != nil {
			r.logFailure(ctx, err)
			return
		}
		if err := writer.WriteVisit(p.ID(), v); err != nil {
			r.logFailure(ctx, err)
			return
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.VisitsProcessed.WithLabelValues(string(v.VisitType)).Inc()
			r.cfg.Metrics.CostAccrued.Add(v.CostTotal)
			if v.VisitType == domain.VisitDiscontinuation && p.Discontinuation() != nil {
				r.cfg.Metrics.Discontinuations.WithLabelValues(string(p.Discontinuation().Category)).Inc()
			}
		}
		r.scheduleFollowUp(p, queue)
	}
	r.cp.record(e.patientID, e.day)
}

// scheduleFollowUp pushes the next event for p, choosing between a
// monitoring visit (while discontinued with an unexhausted schedule) and
// a regular protocol-decided visit.
func (r *Runner) scheduleFollowUp(p *patient.Patient, queue *eventQueue) {
	if p.IsDead() {
		return
	}
	if p.IsDiscontinued() {
		if next, ok := discontinuation.NextMonitoringDate(p); ok {
			heap.Push(queue, event{day: r.cfg.Calendar.DayOffset(next), patientID: p.ID(), kind: kindMonitoring})
		}
		return
	}
	if next, ok := p.NextVisitDate(); ok {
		heap.Push(queue, event{day: r.cfg.Calendar.DayOffset(next), patientID: p.ID(), kind: kindVisit})
	}
}

// dispatchParallel runs one batch's events across a fixed worker pool,
// each goroutine owning a disjoint slice of the batch; per-patient
// substreams make the outcome independent of dispatch order (spec.md §5).
func (r *Runner) dispatchParallel(ctx context.Context, batch []event, queue *eventQueue, resumePoints map[string]int, writer *results.Writer) {
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(batch) {
		workers = len(batch)
	}
	if workers == 0 {
		return
	}

	jobs := make(chan event, len(batch))
	for _, e := range batch {
		jobs <- e
	}
	close(jobs)

	type pushRequest struct {
		evs []event
	}
	pushes := make(chan pushRequest, workers)

	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			var local eventQueue
			for e := range jobs {
				r.dispatchOneCollectingFollowUp(ctx, e, resumePoints, writer, &local)
			}
			pushes <- pushRequest{evs: []event(local)}
		}()
	}
	go func() {
		for i := 0; i < workers; i++ {
			req := <-pushes
			for _, e := range req.evs {
				heap.Push(queue, e)
			}
		}
		close(done)
	}()
	<-done
}

// dispatchOneCollectingFollowUp runs one event like dispatchOne but
// appends the follow-up event to local instead of pushing directly onto
// the shared queue, which is not safe for concurrent use.
func (r *Runner) dispatchOneCollectingFollowUp(ctx context.Context, e event, resumePoints map[string]int, writer *results.Writer, local *eventQueue) {
	p, ok := r.store.get(e.patientID)
	if !ok {
		return
	}
	if skip, ok := resumePoints[e.patientID]; ok && e.day <= skip {
		return
	}
	r.store.touch(e.patientID)

	date := r.cfg.Calendar.DateAt(e.day)

	switch e.kind {
	case kindInitial:
		v, err := r.cfg.Executor.RunInitial(p, date, r.cfg.LoadingIntervalDays)
		if err != nil {
			r.logFailure(ctx, err)
			return
		}
		_ = writer.WriteVisit(p.ID(), v)
	case kindMonitoring:
		r.cfg.Executor.RunMonitoring(p, date)
	default:
		streams := r.cfg.Streams
		diseaseRNG := streams.ForPatient(randstream.DiseaseTransitions, p.ID())
		visionRNG := streams.ForPatient(randstream.VisionNoise, p.ID())
		hemoRNG := streams.ForPatient(randstream.Hemorrhage, p.ID())
		discRNG := streams.ForPatient(randstream.DiscontinuationEval, p.ID())
		v, err := r.cfg.Executor.Run(p, date, diseaseRNG, visionRNG, hemoRNG, discRNG)
		if err != nil {
			r.logFailure(ctx, err)
			return
		}
		_ = writer.WriteVisit(p.ID(), v)
	}
	r.cp.record(e.patientID, e.day)
	r.scheduleFollowUp(p, local)
}

func (r *Runner) summarize() ([]results.PatientSummary, float64) {
	var total float64
	patients := r.store.list()
	out := make([]results.PatientSummary, 0, len(patients))
	for _, p := range patients {
		var lastDate time.Time
		if v, ok := p.LastVisit(); ok {
			lastDate = v.Date
		}
		injections := 0
		for _, v := range p.Visits() {
			if v.InjectionGiven {
				injections++
			}
		}
		category := ""
		if rec := p.Discontinuation(); rec != nil {
			category = string(rec.Category)
		}
		cost := sumCost(p)
		total += cost
		out = append(out, results.PatientSummary{
			PatientID:              p.ID(),
			EnrollmentDate:         p.Enrollment(),
			LastVisitDate:          lastDate,
			TotalVisits:            p.VisitCount(),
			TotalInjections:        injections,
			TotalCost:              cost,
			FinalVision:            p.CurrentVision(),
			FinalState:             p.DiseaseState(),
			DiscontinuationCategory: category,
		})
	}
	return out, total
}

func sumCost(p *patient.Patient) float64 {
	total := 0.0
	for _, v := range p.Visits() {
		total += v.CostTotal
	}
	return total
}

func (r *Runner) startRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	if r.cfg.Tracer == nil {
		return ctx, nil
	}
	return r.cfg.Tracer.StartRun(ctx, runID, r.cfg.Seed)
}

func (r *Runner) endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

func (r *Runner) logFailure(ctx context.Context, err error) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.ErrorCtx(ctx, "visit execution failed", "error", err)
	}
}

// DiagnosticsRecord is the small JSON document spec.md §7 requires
// alongside a failed run's columnar outputs.
type DiagnosticsRecord struct {
	Status       Status    `json:"status"`
	FailureError string    `json:"failure_error,omitempty"`
	LastDay      int       `json:"last_day"`
	PatientCount int       `json:"patient_count"`
	GeneratedAt  time.Time `json:"generated_at"`
}

func newDiagnostics(status Status, err error, lastDay, patientCount int) DiagnosticsRecord {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return DiagnosticsRecord{
		Status:       status,
		FailureError: msg,
		LastDay:      lastDay,
		PatientCount: patientCount,
		GeneratedAt:  time.Now().UTC(),
	}
}
