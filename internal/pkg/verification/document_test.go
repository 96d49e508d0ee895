package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/internal/pkg/agecheck"
)

var ocrNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestExtractBirthDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		wantDate  time.Time
		wantAlt   bool
		wantFound bool
	}{
		{
			name:      "explicit date",
			text:      "MUSTERMANN MAX geb. 15.03.1990 BERLIN",
			wantDate:  time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC),
			wantFound: true,
		},
		{
			name:      "national id code",
			text:      "RC 900315/1234",
			wantDate:  time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC),
			wantFound: true,
		},
		{
			name:      "national id alternate month encoding",
			text:      "RC 905315/1234",
			wantDate:  time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC),
			wantAlt:   true,
			wantFound: true,
		},
		{
			name:      "national id with spaced slash",
			text:      "905315 / 1234",
			wantDate:  time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC),
			wantAlt:   true,
			wantFound: true,
		},
		{
			name:      "two digit year pivots to current century",
			text:      "150101/123",
			wantDate:  time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			wantFound: true,
		},
		{
			name:      "explicit date wins over code",
			text:      "geb. 15.03.1990 RC 010101/123",
			wantDate:  time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC),
			wantFound: true,
		},
		{
			name: "no date at all",
			text: "MUSTERMANN MAX BERLIN",
		},
		{
			name: "calendar overflow rejected",
			text: "31.02.1990",
		},
		{
			name: "code with invalid month rejected",
			text: "991399/123",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			match, found := ExtractBirthDate(tt.text, ocrNow)
			require.Equal(t, tt.wantFound, found)
			if !found {
				return
			}
			assert.True(t, match.Date.Equal(tt.wantDate), "got %s", match.Date)
			assert.Equal(t, tt.wantAlt, match.AlternateEncoding)
		})
	}
}

func newOCRFixture(extractor *fakeExtractor) (*OCRAdapter, *models.Shop) {
	records := newMemRecordRepo()
	adapter := NewOCRAdapter(records, extractor, agecheck.DefaultConfig())
	adapter.now = func() time.Time { return ocrNow }
	shop := &models.Shop{ID: 1, UUID: "shop-1", CompanyID: 1, Status: models.ShopStatusActive}
	return adapter, shop
}

func TestOCRResolveApprovesAdult(t *testing.T) {
	adapter, shop := newOCRFixture(&fakeExtractor{text: "PERSONALAUSWEIS geb. 15.03.1990"})

	start, err := adapter.Initiate(context.Background(), shop, StartInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), start.Record.Price)

	result, err := adapter.Resolve(context.Background(), start.Record, Evidence{DocumentImage: []byte("img")})
	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.Equal(t, agecheck.VerdictApproved, result.Verdict)
	require.NotNil(t, result.Age)
	assert.Equal(t, 36, *result.Age)
	assert.Equal(t, models.ResultSuccess, result.Record.Result)
}

func TestOCRResolveRejectsMinorViaNationalID(t *testing.T) {
	adapter, shop := newOCRFixture(&fakeExtractor{text: "RC 105101/123"})

	start, err := adapter.Initiate(context.Background(), shop, StartInput{})
	require.NoError(t, err)

	result, err := adapter.Resolve(context.Background(), start.Record, Evidence{DocumentImage: []byte("img")})
	require.NoError(t, err)
	assert.Equal(t, agecheck.VerdictRejected, result.Verdict)
	assert.Equal(t, models.ResultFailure, result.Record.Result)
}

func TestOCRResolveNoBirthDateFails(t *testing.T) {
	adapter, shop := newOCRFixture(&fakeExtractor{text: "blurry unreadable scan"})

	start, err := adapter.Initiate(context.Background(), shop, StartInput{})
	require.NoError(t, err)

	result, err := adapter.Resolve(context.Background(), start.Record, Evidence{DocumentImage: []byte("img")})
	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.Equal(t, models.RecordStatusCompleted, result.Record.Status)
	assert.Equal(t, models.ResultFailure, result.Record.Result)
	assert.Equal(t, "no birth date found", result.Record.Detail)
}

func TestOCRResolveExtractionErrorIsTerminalError(t *testing.T) {
	adapter, shop := newOCRFixture(&fakeExtractor{err: errors.New("upstream 503")})

	start, err := adapter.Initiate(context.Background(), shop, StartInput{})
	require.NoError(t, err)

	result, err := adapter.Resolve(context.Background(), start.Record, Evidence{DocumentImage: []byte("img")})
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusError, result.Record.Status)
	assert.Equal(t, models.ResultError, result.Record.Result)
}

func TestOCRResolveRequiresImage(t *testing.T) {
	adapter, shop := newOCRFixture(&fakeExtractor{text: "15.03.1990"})

	start, err := adapter.Initiate(context.Background(), shop, StartInput{})
	require.NoError(t, err)

	_, err = adapter.Resolve(context.Background(), start.Record, Evidence{})
	assert.ErrorIs(t, err, ErrEvidenceInvalid)
}
