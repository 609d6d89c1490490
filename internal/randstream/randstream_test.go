package randstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamsDeterministic(t *testing.T) {
	a := New(123)
	b := New(123)

	sa := a.For(DiseaseTransitions)
	sb := b.For(DiseaseTransitions)
	for i := 0; i < 20; i++ {
		assert.Equal(t, sa.Float64(), sb.Float64())
	}
}

func TestConcernsAreIndependent(t *testing.T) {
	st := New(7)
	disease := st.For(DiseaseTransitions)
	vision := st.For(VisionNoise)

	var diseaseDraws, visionDraws []float64
	for i := 0; i < 10; i++ {
		diseaseDraws = append(diseaseDraws, disease.Float64())
		visionDraws = append(visionDraws, vision.Float64())
	}
	assert.NotEqual(t, diseaseDraws, visionDraws)
}

func TestForPatientIsStablePerPatientID(t *testing.T) {
	st := New(55)
	a1 := st.ForPatient(DiseaseTransitions, "patient-1")
	a2 := st.ForPatient(DiseaseTransitions, "patient-1")
	require.Same(t, a1, a2)

	b := st.ForPatient(DiseaseTransitions, "patient-2")
	assert.NotEqual(t, a1.Float64(), b.Float64())
}

func TestForPatientDoesNotDependOnDrawOrder(t *testing.T) {
	seed := uint64(9)
	st1 := New(seed)
	first := st1.ForPatient(DiseaseTransitions, "p1").Float64()
	_ = st1.ForPatient(DiseaseTransitions, "p2").Float64()

	st2 := New(seed)
	_ = st2.ForPatient(DiseaseTransitions, "p2").Float64()
	firstAgain := st2.ForPatient(DiseaseTransitions, "p1").Float64()

	assert.Equal(t, first, firstAgain)
}

func TestBernoulliBoundaries(t *testing.T) {
	s := New(1).For(Hemorrhage)
	assert.False(t, s.Bernoulli(0))
	assert.True(t, s.Bernoulli(1))
}

func TestCategoricalRespectsWeights(t *testing.T) {
	s := New(2).For(ResponseTypeDraw)
	counts := make([]int, 3)
	for i := 0; i < 2000; i++ {
		idx := s.Categorical([]float64{1, 0, 0})
		counts[idx]++
	}
	assert.Equal(t, 2000, counts[0])
	assert.Equal(t, 0, counts[1])
	assert.Equal(t, 0, counts[2])
}

func TestLettersRoundsAndClamps(t *testing.T) {
	assert.Equal(t, 0, Letters(-5))
	assert.Equal(t, 100, Letters(150))
	assert.Equal(t, 42, Letters(41.6))
}
