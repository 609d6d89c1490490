package runner

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namd-sim/engine/internal/calendar"
	"github.com/namd-sim/engine/internal/discontinuation"
	"github.com/namd-sim/engine/internal/disease"
	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/protocol"
	"github.com/namd-sim/engine/internal/randstream"
	"github.com/namd-sim/engine/internal/recruitment"
	"github.com/namd-sim/engine/internal/resources"
	"github.com/namd-sim/engine/internal/results"
	"github.com/namd-sim/engine/internal/vision"
	"github.com/namd-sim/engine/internal/visit"
)

func identityMatrix() disease.Matrix {
	var m disease.Matrix
	for i := range m {
		m[i][i] = 1
	}
	return m
}

func testResourcesSpec() resources.Spec {
	types := []domain.VisitType{
		domain.VisitInitialAssessment,
		domain.VisitLoadingInjection,
		domain.VisitDecisionOnlyPostLoading,
		domain.VisitInjectionOnly,
		domain.VisitDecisionWithInjection,
		domain.VisitDiscontinuation,
	}
	components := map[domain.VisitType][]string{}
	requirements := map[domain.VisitType]resources.VisitRequirement{}
	for _, vt := range types {
		components[vt] = []string{"consult"}
		requirements[vt] = resources.VisitRequirement{Roles: []domain.ResourceComponent{{Role: "nurse", Count: 1}}}
	}
	return resources.Spec{
		Currency:            "GBP",
		DrugCosts:           map[string]float64{"aflibercept": 500},
		ComponentCosts:      map[string]float64{"consult": 60},
		VisitTypeComponents: components,
		ResourceRoles:       map[string]int{"nurse": 100},
		VisitRequirements:   requirements,
		DrugKey:             "aflibercept",
	}
}

func buildConfig(t *testing.T, outputDir string, seed uint64, parallel bool) Config {
	t.Helper()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	cal := calendar.New(start)
	streams := randstream.New(seed)

	recruit := recruitment.New(recruitment.Spec{
		Mode:                  recruitment.FixedTotal,
		NPatients:             5,
		EnrollmentWindowDays:  10,
		Shape:                 recruitment.Uniform,
		StartDate:             start,
		BaselineVisionMean:    70,
		BaselineVisionStd:     0,
		ResponseProbabilities: [3]float64{0, 1, 0},
	}, cal, streams)

	protoEng := protocol.New(protocol.Spec{
		Type:                protocol.TreatAndExtend,
		MinIntervalDays:     28,
		MaxIntervalDays:     112,
		ExtensionDays:       14,
		ShorteningDays:      14,
		LoadingDoses:        3,
		LoadingIntervalDays: 28,
	})

	executor := &visit.Executor{
		Calendar: cal,
		Disease: &disease.Model{
			Transitions:                identityMatrix(),
			TreatmentEffectMultipliers: identityMatrix(),
			TreatmentEffectWindowDays:  60,
		},
		Vision: &vision.Model{
			ResponseMultiplier: [3]float64{1, 1, 1},
		},
		Protocol:            protoEng,
		Discontinuation:     discontinuation.New(discontinuation.Profile{}),
		Resources:           resources.NewTracker(testResourcesSpec()),
		TreatmentWindowDays: 60,
		MinIntervalDays:     28,
	}

	return Config{
		Seed:                seed,
		Calendar:            cal,
		Streams:             streams,
		Recruitment:         recruit,
		Executor:            executor,
		DurationDays:        200,
		LoadingIntervalDays: 28,
		OutputDir:           outputDir,
		ChunkSize:           results.DefaultChunkSize,
		HotCapacity:         100,
		Parallel:            parallel,
		Workers:             4,
		ProtocolName:        "test-protocol",
		ProtocolVersion:     "1.0",
	}
}

func TestRunSequentialProducesThreeDatasets(t *testing.T) {
	dir := t.TempDir()
	cfg := buildConfig(t, dir, 1, false)
	r := New(cfg)

	status, err := r.Run(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	for _, name := range []string{"visits.csv", "patients.csv", "metadata.json"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr)
	}

	f, err := os.Open(filepath.Join(dir, "visits.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Greater(t, len(rows), 1, "at least the header plus one visit row")
}

func TestRunCancellationYieldsPartialStatusAndDiagnostics(t *testing.T) {
	dir := t.TempDir()
	cfg := buildConfig(t, dir, 2, false)
	r := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := r.Run(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, status)

	_, statErr := os.Stat(filepath.Join(dir, "diagnostics.json"))
	assert.NoError(t, statErr)
}

func TestRunParallelMatchesSequentialPatientCount(t *testing.T) {
	seqDir, parDir := t.TempDir(), t.TempDir()

	seqStatus, err := New(buildConfig(t, seqDir, 7, false)).Run(context.Background(), nil, false)
	require.NoError(t, err)
	parStatus, err := New(buildConfig(t, parDir, 7, true)).Run(context.Background(), nil, false)
	require.NoError(t, err)

	assert.Equal(t, seqStatus, parStatus)

	seqRows := readCSVRows(t, filepath.Join(seqDir, "patients.csv"))
	parRows := readCSVRows(t, filepath.Join(parDir, "patients.csv"))
	assert.Equal(t, len(seqRows), len(parRows), "same patient count regardless of dispatch mode")
}

func readCSVRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
