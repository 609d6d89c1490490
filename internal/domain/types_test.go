package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDiseaseStateString(t *testing.T) {
	assert.Equal(t, "NAIVE", Naive.String())
	assert.Equal(t, "HIGHLY_ACTIVE", HighlyActive.String())
	assert.Equal(t, "UNKNOWN", DiseaseState(99).String())
}

func TestResponseTypeString(t *testing.T) {
	assert.Equal(t, "poor", ResponsePoor.String())
	assert.Equal(t, "good", ResponseGood.String())
}

func TestDiscontinuationRecordTerminal(t *testing.T) {
	mortality := &DiscontinuationRecord{Category: CategoryMortality}
	assert.True(t, mortality.Terminal())

	poorResponse := &DiscontinuationRecord{Category: CategoryPoorResponse}
	assert.False(t, poorResponse.Terminal())

	var nilRecord *DiscontinuationRecord
	assert.False(t, nilRecord.Terminal())
}

func TestDiscontinuationRecordExhaustedMonitoring(t *testing.T) {
	rec := &DiscontinuationRecord{
		MonitoringDates: []time.Time{time.Now(), time.Now().AddDate(0, 0, 28)},
	}
	assert.False(t, rec.ExhaustedMonitoring())

	rec.NextMonitorIndex = 2
	assert.True(t, rec.ExhaustedMonitoring())

	var nilRecord *DiscontinuationRecord
	assert.False(t, nilRecord.ExhaustedMonitoring())
}
