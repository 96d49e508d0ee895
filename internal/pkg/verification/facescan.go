package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/agecheck"
	"github.com/JonasWeber/AgeGuard/internal/pkg/cache"
	"github.com/JonasWeber/AgeGuard/internal/pkg/env"
)

// Empirically tuned sampling constants. Override via env, do not re-derive.
const (
	DefaultFaceScanSamples      = 30
	DefaultMinSampleConfidence  = 0.8
	DefaultMinOverallConfidence = 0.7
	faceScanBufferTTL           = 15 * time.Minute
	faceScanCacheKeyPrefix      = "facescan_samples:"
)

// FaceScanConfig carries the sampling thresholds.
type FaceScanConfig struct {
	// Samples is the number of counted estimates needed for a decision.
	Samples int
	// MinSampleConfidence is the per-detection confidence below which a
	// sample is discarded.
	MinSampleConfidence float64
	// MinOverallConfidence is the aggregate confidence below which the
	// attempt fails outright with no partial credit.
	MinOverallConfidence float64
}

// FaceScanConfigFromEnv builds the config from env overrides.
func FaceScanConfigFromEnv() FaceScanConfig {
	return FaceScanConfig{
		Samples:              env.GetEnvInt("FACESCAN_SAMPLES", DefaultFaceScanSamples),
		MinSampleConfidence:  env.GetEnvFloat("FACESCAN_MIN_SAMPLE_CONFIDENCE", DefaultMinSampleConfidence),
		MinOverallConfidence: env.GetEnvFloat("FACESCAN_MIN_OVERALL_CONFIDENCE", DefaultMinOverallConfidence),
	}
}

// DefaultFaceScanConfig returns the tuned defaults without env lookups.
func DefaultFaceScanConfig() FaceScanConfig {
	return FaceScanConfig{
		Samples:              DefaultFaceScanSamples,
		MinSampleConfidence:  DefaultMinSampleConfidence,
		MinOverallConfidence: DefaultMinOverallConfidence,
	}
}

// SampleStore buffers in-progress estimate series per record. Nothing in
// the buffer is a record write; dropping it cancels the attempt without
// side effects.
type SampleStore interface {
	Load(key string) ([]float64, error)
	Save(key string, samples []float64) error
	Delete(key string) error
}

// redisSampleStore keeps buffers in the shared cache so a capture loop can
// span multiple requests and processes.
type redisSampleStore struct{}

func (redisSampleStore) Load(key string) ([]float64, error) {
	raw, err := cache.Get(faceScanCacheKeyPrefix + key)
	if err != nil {
		// Missing buffer means a fresh series.
		return nil, nil
	}
	var samples []float64
	if err := json.Unmarshal([]byte(raw), &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (redisSampleStore) Save(key string, samples []float64) error {
	raw, err := json.Marshal(samples)
	if err != nil {
		return err
	}
	return cache.Set(faceScanCacheKeyPrefix+key, string(raw), faceScanBufferTTL)
}

func (redisSampleStore) Delete(key string) error {
	return cache.Delete(faceScanCacheKeyPrefix + key)
}

// MemorySampleStore is an in-process store for tests and single-node demo
// deployments.
type MemorySampleStore struct {
	mu      sync.Mutex
	buffers map[string][]float64
}

func NewMemorySampleStore() *MemorySampleStore {
	return &MemorySampleStore{buffers: make(map[string][]float64)}
}

func (s *MemorySampleStore) Load(key string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffers[key]
	out := make([]float64, len(buf))
	copy(out, buf)
	return out, nil
}

func (s *MemorySampleStore) Save(key string, samples []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]float64, len(samples))
	copy(buf, samples)
	s.buffers[key] = buf
	return nil
}

func (s *MemorySampleStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, key)
	return nil
}

// FaceScanAdapter estimates age from a series of face detector readings.
// One reading proves nothing; the decision needs the full series.
type FaceScanAdapter struct {
	records repository.RecordRepository
	store   SampleStore
	cfg     FaceScanConfig
	decider agecheck.Config
}

func NewFaceScanAdapter(records repository.RecordRepository, store SampleStore, cfg FaceScanConfig, decider agecheck.Config) *FaceScanAdapter {
	if store == nil {
		store = redisSampleStore{}
	}
	return &FaceScanAdapter{records: records, store: store, cfg: cfg, decider: decider}
}

func (a *FaceScanAdapter) Method() models.VerificationMethod {
	return models.MethodFaceScan
}

// Initiate creates the pending record the capture loop reports against.
func (a *FaceScanAdapter) Initiate(ctx context.Context, shop *models.Shop, in StartInput) (*StartResult, error) {
	_ = ctx
	record, err := newPendingRecord(a.records, shop, models.MethodFaceScan, in.UserIdentifier)
	if err != nil {
		return nil, err
	}
	return &StartResult{Record: record}, nil
}

// Resolve consumes one detector reading. A sample only counts when the
// subject is in frame and the detector confidence clears the per-sample
// threshold. At the configured sample count the series is scored: a high
// spread fails the attempt outright, otherwise the mean age goes through
// the banded decision rule.
func (a *FaceScanAdapter) Resolve(ctx context.Context, record *models.VerificationRecord, ev Evidence) (*ResolveResult, error) {
	_ = ctx
	if record.IsTerminal() {
		return &ResolveResult{Record: record, Done: true, AlreadyTerminal: true}, nil
	}
	if ev.Sample == nil {
		return nil, ErrEvidenceInvalid
	}

	samples, err := a.store.Load(record.UUID)
	if err != nil {
		return nil, err
	}

	sample := ev.Sample
	if sample.InFrame && sample.Confidence >= a.cfg.MinSampleConfidence {
		samples = append(samples, sample.Age)
	}

	if len(samples) < a.cfg.Samples {
		if err := a.store.Save(record.UUID, samples); err != nil {
			return nil, err
		}
		return &ResolveResult{Record: record, Done: false, SamplesCollected: len(samples)}, nil
	}

	// Series complete; the buffer is no longer needed whatever happens.
	if err := a.store.Delete(record.UUID); err != nil {
		log.Warnf("[FaceScan] Could not drop sample buffer for %s: %v", record.UUID, err)
	}

	mean, stddev := meanStddev(samples)
	confidence := clamp(1-stddev/10, 0, 1)

	if confidence < a.cfg.MinOverallConfidence {
		completed, cerr := a.records.Complete(record.ID, models.RecordStatusCompleted, models.ResultFailure,
			fmt.Sprintf("age estimate too ambiguous (confidence %.2f), please retry", confidence))
		if cerr != nil {
			return nil, cerr
		}
		return &ResolveResult{Record: completed, Done: true, SamplesCollected: len(samples)}, nil
	}

	verdict := a.decider.DecideEstimated(mean)
	age := int(math.Round(mean))

	var result string
	var detail string
	switch verdict {
	case agecheck.VerdictApproved:
		result = models.ResultSuccess
		detail = fmt.Sprintf("estimated age %.1f (confidence %.2f)", mean, confidence)
	case agecheck.VerdictRejected:
		result = models.ResultFailure
		detail = fmt.Sprintf("estimated age %.1f below threshold (confidence %.2f)", mean, confidence)
	default:
		result = models.ResultUncertain
		detail = fmt.Sprintf("estimated age %.1f too close to threshold, use another method", mean)
	}

	completed, err := a.records.Complete(record.ID, models.RecordStatusCompleted, result, detail)
	if err != nil {
		return nil, err
	}
	return &ResolveResult{Record: completed, Verdict: verdict, Age: &age, Done: true, SamplesCollected: len(samples)}, nil
}

// Cancel drops the in-progress sample buffer. The pending record stays
// untouched; nothing terminal was ever written.
func (a *FaceScanAdapter) Cancel(record *models.VerificationRecord) error {
	return a.store.Delete(record.UUID)
}

func meanStddev(samples []float64) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := s - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
