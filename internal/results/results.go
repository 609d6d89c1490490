// Package results implements the Result Writer of spec.md §4.11 (C11):
// three columnar datasets (per-visit, per-patient, run metadata) written
// in chunks with progress callbacks, each finalized atomically via a
// staging file.
//
// Grounded on the teacher's output sinks (engine/internal/output/stdout,
// engine/output/composite_sink.go): a small Write/Flush/Close surface
// behind a mutex, generalized here from a single JSON-line stream to
// a chunked per-visit CSV dataset, a per-patient CSV dataset and a JSON
// metadata document.
package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/namd-sim/engine/internal/domain"
)

// DefaultChunkSize is the configurable chunk-size default of spec.md §4.11.
const DefaultChunkSize = 5000

// ProgressFunc is invoked after each flushed chunk; it must not mutate
// simulation state (spec.md §5 "Callbacks must not mutate simulation
// state").
type ProgressFunc func(datasets string, rowsWritten int)

// PatientSummary is one row of the per-patient summary dataset.
type PatientSummary struct {
	PatientID              string
	EnrollmentDate         time.Time
	LastVisitDate          time.Time
	TotalVisits            int
	TotalInjections        int
	TotalCost              float64
	FinalVision            int
	FinalState             domain.DiseaseState
	DiscontinuationCategory string // empty when never discontinued
}

// RunMetadata is the run metadata dataset of spec.md §4.11.
type RunMetadata struct {
	SchemaVersion       int       `json:"schema_version"`
	Seed                uint64    `json:"seed"`
	ProtocolName        string    `json:"protocol_name"`
	ProtocolVersion     string    `json:"protocol_version"`
	ProtocolChecksum    string    `json:"protocol_checksum"`
	EngineType          string    `json:"engine_type"`
	NPatients           int       `json:"n_patients,omitempty"`
	RecruitmentMode     string    `json:"recruitment_mode,omitempty"`
	DurationDays        int       `json:"duration_days"`
	StartDate           time.Time `json:"start_date"`
	ConfigSnapshot      map[string]any `json:"configuration_snapshot,omitempty"`
	Status              string    `json:"status"` // success, partial, failed
	FailureCategory     string    `json:"failure_category,omitempty"`
	CompletedAt         time.Time `json:"completed_at"`
}

// SchemaVersion is the current version of the output schema's shape, per
// spec.md §6 ("Schema is versioned; on write a schema_version field is
// included").
const SchemaVersion = 1

// Writer accumulates visit and per-patient rows and finalizes three
// datasets into outputDir on Finalize. Writes are staged to *.tmp files and
// renamed into place only on success, matching spec.md §4.11's "atomic"
// requirement.
type Writer struct {
	outputDir string
	chunkSize int
	onProgress ProgressFunc

	mu          sync.Mutex
	visitStage  *os.File
	visitCSV    *csv.Writer
	visitRows   int
	visitHeader bool
}

// New opens (creating outputDir if needed) a Writer that stages its
// per-visit dataset incrementally; per-patient summaries and metadata are
// passed to Finalize and written once there, since they are one row
// per patient/run rather than one row per visit.
func New(outputDir string, chunkSize int, onProgress ProgressFunc) (*Writer, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(filepath.Join(outputDir, "visits.csv.tmp"))
	if err != nil {
		return nil, fmt.Errorf("create visit staging file: %w", err)
	}
	w := &Writer{
		outputDir:  outputDir,
		chunkSize:  chunkSize,
		onProgress: onProgress,
		visitStage: f,
		visitCSV:   csv.NewWriter(f),
	}
	return w, nil
}

var visitColumns = []string{
	"patient_id", "date", "time_days", "visit_type", "disease_state_after",
	"vision_after", "injection_given", "interval_days_to_next", "cost_total",
	"resource_roles",
}

// WriteVisit appends one per-visit row, flushing to the staging file every
// chunkSize rows and invoking the progress callback on each flush.
func (w *Writer) WriteVisit(patientID string, v domain.Visit) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.visitHeader {
		if err := w.visitCSV.Write(visitColumns); err != nil {
			return fmt.Errorf("write visit header: %w", err)
		}
		w.visitHeader = true
	}

	interval := ""
	if v.IntervalDaysToNext != nil {
		interval = strconv.Itoa(*v.IntervalDaysToNext)
	}
	row := []string{
		patientID,
		v.Date.Format("2006-01-02"),
		strconv.Itoa(v.TimeDays),
		string(v.VisitType),
		v.DiseaseStateAfter.String(),
		strconv.Itoa(v.VisionAfter),
		strconv.FormatBool(v.InjectionGiven),
		interval,
		strconv.FormatFloat(v.CostTotal, 'f', 2, 64),
		formatRoles(v.ResourceComponents),
	}
	if err := w.visitCSV.Write(row); err != nil {
		return fmt.Errorf("write visit row: %w", err)
	}
	w.visitRows++
	if w.visitRows%w.chunkSize == 0 {
		w.visitCSV.Flush()
		if err := w.visitCSV.Error(); err != nil {
			return fmt.Errorf("flush visit chunk: %w", err)
		}
		if w.onProgress != nil {
			w.onProgress("visits", w.visitRows)
		}
	}
	return nil
}

func formatRoles(roles []domain.ResourceComponent) string {
	out := ""
	for i, rc := range roles {
		if i > 0 {
			out += ";"
		}
		out += fmt.Sprintf("%s=%d", rc.Role, rc.Count)
	}
	return out
}

var patientColumns = []string{
	"patient_id", "enrollment_date", "last_visit_date", "total_visits",
	"total_injections", "total_cost", "final_vision", "final_state",
	"discontinuation_category",
}

// Finalize writes the per-patient summary and run metadata datasets and
// atomically renames every staged dataset into its final name. Finalize
// is called exactly once, after the last visit row has been written;
// calling WriteVisit afterward is a programming error.
func (w *Writer) Finalize(summaries []PatientSummary, meta RunMetadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.visitCSV.Flush()
	if err := w.visitCSV.Error(); err != nil {
		return fmt.Errorf("final visit flush: %w", err)
	}
	if err := w.visitStage.Close(); err != nil {
		return fmt.Errorf("close visit staging file: %w", err)
	}
	if err := finalizeRename(w.outputDir, "visits.csv"); err != nil {
		return err
	}
	if w.onProgress != nil {
		w.onProgress("visits", w.visitRows)
	}

	if err := writePatientSummaries(w.outputDir, summaries); err != nil {
		return err
	}
	if w.onProgress != nil {
		w.onProgress("patients", len(summaries))
	}

	meta.SchemaVersion = SchemaVersion
	meta.CompletedAt = time.Now().UTC()
	if err := writeMetadata(w.outputDir, meta); err != nil {
		return err
	}
	if w.onProgress != nil {
		w.onProgress("metadata", 1)
	}
	return nil
}

func writePatientSummaries(outputDir string, summaries []PatientSummary) error {
	path := filepath.Join(outputDir, "patients.csv.tmp")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create patient staging file: %w", err)
	}
	defer f.Close()
	cw := csv.NewWriter(f)
	if err := cw.Write(patientColumns); err != nil {
		return fmt.Errorf("write patient header: %w", err)
	}
	for _, s := range summaries {
		row := []string{
			s.PatientID,
			s.EnrollmentDate.Format("2006-01-02"),
			s.LastVisitDate.Format("2006-01-02"),
			strconv.Itoa(s.TotalVisits),
			strconv.Itoa(s.TotalInjections),
			strconv.FormatFloat(s.TotalCost, 'f', 2, 64),
			strconv.Itoa(s.FinalVision),
			s.FinalState.String(),
			s.DiscontinuationCategory,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write patient row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush patient dataset: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close patient staging file: %w", err)
	}
	return finalizeRename(outputDir, "patients.csv")
}

func writeMetadata(outputDir string, meta RunMetadata) error {
	path := filepath.Join(outputDir, "metadata.json.tmp")
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata staging file: %w", err)
	}
	return finalizeRename(outputDir, "metadata.json")
}

// finalizeRename renames name+".tmp" to name, the atomic step spec.md
// §4.11 requires ("a staging file is finalized only after successful
// completion").
func finalizeRename(outputDir, name string) error {
	staged := filepath.Join(outputDir, name+".tmp")
	final := filepath.Join(outputDir, name)
	if err := os.Rename(staged, final); err != nil {
		return fmt.Errorf("finalize %s: %w", name, err)
	}
	return nil
}

// Abandon discards the in-progress staging files without finalizing them,
// used on a failed run so no partial dataset is ever mistaken for a
// complete one (spec.md §7 "failed" exit status).
func (w *Writer) Abandon() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.visitStage.Close()
	_ = os.Remove(filepath.Join(w.outputDir, "visits.csv.tmp"))
	_ = os.Remove(filepath.Join(w.outputDir, "patients.csv.tmp"))
	_ = os.Remove(filepath.Join(w.outputDir, "metadata.json.tmp"))
}
