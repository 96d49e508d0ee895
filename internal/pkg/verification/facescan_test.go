package verification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/internal/pkg/agecheck"
)

func newFaceScanFixture(t *testing.T) (*FaceScanAdapter, *MemorySampleStore, *models.VerificationRecord) {
	t.Helper()
	records := newMemRecordRepo()
	store := NewMemorySampleStore()
	adapter := NewFaceScanAdapter(records, store, DefaultFaceScanConfig(), agecheck.DefaultConfig())
	shop := &models.Shop{ID: 1, UUID: "shop-1", CompanyID: 1, Status: models.ShopStatusActive}

	start, err := adapter.Initiate(context.Background(), shop, StartInput{})
	require.NoError(t, err)
	require.Equal(t, int64(5), start.Record.Price)
	return adapter, store, start.Record
}

func feedSamples(t *testing.T, adapter *FaceScanAdapter, record *models.VerificationRecord, age float64, n int) *ResolveResult {
	t.Helper()
	var last *ResolveResult
	for i := 0; i < n; i++ {
		result, err := adapter.Resolve(context.Background(), record, Evidence{
			Sample: &FaceSample{Age: age, Confidence: 0.95, InFrame: true},
		})
		require.NoError(t, err)
		last = result
	}
	return last
}

func TestFaceScanAccumulatesUntilSeriesComplete(t *testing.T) {
	adapter, _, record := newFaceScanFixture(t)

	result := feedSamples(t, adapter, record, 30, 29)
	assert.False(t, result.Done)
	assert.Equal(t, 29, result.SamplesCollected)

	result = feedSamples(t, adapter, record, 30, 1)
	assert.True(t, result.Done)
	assert.Equal(t, 30, result.SamplesCollected)
	assert.Equal(t, agecheck.VerdictApproved, result.Verdict)
	assert.Equal(t, models.ResultSuccess, result.Record.Result)
	require.NotNil(t, result.Age)
	assert.Equal(t, 30, *result.Age)
}

func TestFaceScanHighSpreadFailsOutright(t *testing.T) {
	adapter, _, record := newFaceScanFixture(t)

	// Two clusters far apart: the detector is probably looking at two
	// different people. No partial credit.
	feedSamples(t, adapter, record, 20, 25)
	result := feedSamples(t, adapter, record, 45, 5)

	assert.True(t, result.Done)
	assert.Equal(t, models.ResultFailure, result.Record.Result)
	assert.Contains(t, result.Record.Detail, "too ambiguous")
}

func TestFaceScanBandedAgeIsUncertain(t *testing.T) {
	adapter, _, record := newFaceScanFixture(t)

	result := feedSamples(t, adapter, record, 22, 30)
	assert.True(t, result.Done)
	assert.Equal(t, agecheck.VerdictUncertain, result.Verdict)
	assert.Equal(t, models.ResultUncertain, result.Record.Result)
}

func TestFaceScanRejectsMinorEstimate(t *testing.T) {
	adapter, _, record := newFaceScanFixture(t)

	result := feedSamples(t, adapter, record, 15, 30)
	assert.True(t, result.Done)
	assert.Equal(t, agecheck.VerdictRejected, result.Verdict)
	assert.Equal(t, models.ResultFailure, result.Record.Result)
}

func TestFaceScanDiscardsUnusableSamples(t *testing.T) {
	adapter, _, record := newFaceScanFixture(t)

	lowConfidence, err := adapter.Resolve(context.Background(), record, Evidence{
		Sample: &FaceSample{Age: 30, Confidence: 0.4, InFrame: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, lowConfidence.SamplesCollected)

	outOfFrame, err := adapter.Resolve(context.Background(), record, Evidence{
		Sample: &FaceSample{Age: 30, Confidence: 0.95, InFrame: false},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, outOfFrame.SamplesCollected)
}

func TestFaceScanRequiresSample(t *testing.T) {
	adapter, _, record := newFaceScanFixture(t)

	_, err := adapter.Resolve(context.Background(), record, Evidence{})
	assert.ErrorIs(t, err, ErrEvidenceInvalid)
}

func TestFaceScanCancelDropsBufferOnly(t *testing.T) {
	adapter, store, record := newFaceScanFixture(t)

	feedSamples(t, adapter, record, 30, 3)
	require.NoError(t, adapter.Cancel(record))

	samples, err := store.Load(record.UUID)
	require.NoError(t, err)
	assert.Empty(t, samples)
	// The record was never completed; nothing terminal happened.
	assert.Equal(t, models.RecordStatusPending, record.Status)

	// A later attempt starts a fresh series.
	result := feedSamples(t, adapter, record, 30, 1)
	assert.Equal(t, 1, result.SamplesCollected)
}

func TestFaceScanTerminalRecordIsNoOp(t *testing.T) {
	adapter, _, record := newFaceScanFixture(t)

	final := feedSamples(t, adapter, record, 30, 30)
	require.True(t, final.Done)

	again, err := adapter.Resolve(context.Background(), final.Record, Evidence{
		Sample: &FaceSample{Age: 30, Confidence: 0.95, InFrame: true},
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyTerminal)
}
