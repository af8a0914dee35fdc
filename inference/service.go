// Package inference computes heating and cooling loads for a building from
// the models held in an ml.ModelStore.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"buildenergy/ml"
	"buildenergy/monitoring"
)

// PredictionResult holds both loads for one building. It is only returned
// when both predictions succeeded.
type PredictionResult struct {
	HeatingLoad float64 `json:"heating_load"`
	CoolingLoad float64 `json:"cooling_load"`
}

// ErrNonFiniteOutput is returned when a predictor yields NaN or Inf. It points
// at a broken artifact, not at the caller's input.
var ErrNonFiniteOutput = errors.New("non-finite prediction")

type cacheKey struct {
	target string
	record ml.FeatureRecord
}

// Service is safe for concurrent use. The store is read-only.
type Service struct {
	store          *ml.ModelStore
	validateDomain bool
	cache          *lru.Cache[cacheKey, float64]
	logger         *zap.Logger
	metrics        *monitoring.MetricsCollector
}

type Option func(*Service)

// WithDomainValidation toggles the range and choice checks on every record.
// Non-finite values are rejected either way.
func WithDomainValidation(enabled bool) Option {
	return func(s *Service) { s.validateDomain = enabled }
}

// WithCache memoizes up to size results per target. Zero disables it.
func WithCache(size int) Option {
	return func(s *Service) {
		if size <= 0 {
			s.cache = nil
			return
		}
		cache, err := lru.New[cacheKey, float64](size)
		if err == nil {
			s.cache = cache
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(metrics *monitoring.MetricsCollector) Option {
	return func(s *Service) { s.metrics = metrics }
}

func NewService(store *ml.ModelStore, opts ...Option) *Service {
	s := &Service{
		store:          store,
		validateDomain: true,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Models describes the loaded artifacts.
func (s *Service) Models() []ml.ArtifactInfo {
	return s.store.Info()
}

func (s *Service) PredictHeatingLoad(ctx context.Context, rec ml.FeatureRecord) (float64, error) {
	if err := s.check(rec); err != nil {
		s.countFailure(ml.TargetHeating)
		return 0, err
	}
	return s.run(ctx, ml.TargetHeating, s.store.Heating(), rec)
}

func (s *Service) PredictCoolingLoad(ctx context.Context, rec ml.FeatureRecord) (float64, error) {
	if err := s.check(rec); err != nil {
		s.countFailure(ml.TargetCooling)
		return 0, err
	}
	return s.run(ctx, ml.TargetCooling, s.store.Cooling(), rec)
}

// Predict runs both models concurrently and returns both loads or an error.
func (s *Service) Predict(ctx context.Context, rec ml.FeatureRecord) (PredictionResult, error) {
	if err := s.check(rec); err != nil {
		s.countFailure(ml.TargetHeating)
		s.countFailure(ml.TargetCooling)
		return PredictionResult{}, err
	}

	var result PredictionResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.run(gctx, ml.TargetHeating, s.store.Heating(), rec)
		result.HeatingLoad = v
		return err
	})
	g.Go(func() error {
		v, err := s.run(gctx, ml.TargetCooling, s.store.Cooling(), rec)
		result.CoolingLoad = v
		return err
	})
	if err := g.Wait(); err != nil {
		return PredictionResult{}, err
	}
	return result, nil
}

// PredictBatch predicts every record or none of them. Errors name the
// offending record index.
func (s *Service) PredictBatch(ctx context.Context, recs []ml.FeatureRecord) ([]PredictionResult, error) {
	for i, rec := range recs {
		if err := s.check(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	results := make([]PredictionResult, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			heating, err := s.run(gctx, ml.TargetHeating, s.store.Heating(), rec)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			cooling, err := s.run(gctx, ml.TargetCooling, s.store.Cooling(), rec)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			results[i] = PredictionResult{HeatingLoad: heating, CoolingLoad: cooling}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) check(rec ml.FeatureRecord) error {
	if s.validateDomain {
		return rec.Validate()
	}
	return rec.CheckFinite()
}

// run assumes rec has passed check.
func (s *Service) run(ctx context.Context, target string, predictor ml.Predictor, rec ml.FeatureRecord) (float64, error) {
	if err := ctx.Err(); err != nil {
		s.countFailure(target)
		return 0, err
	}

	key := cacheKey{target: target, record: rec}
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.count("prediction_cache_hits_total", target)
			s.countOutcome(target, "ok")
			return v, nil
		}
		s.count("prediction_cache_misses_total", target)
	}

	start := time.Now()
	v, err := predictor.Predict(rec.Frame())
	elapsed := time.Since(start)
	if err != nil {
		s.countFailure(target)
		s.logger.Debug("prediction failed", zap.String("target", target), zap.Error(err))
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		s.countFailure(target)
		s.logger.Error("model returned a non-finite load", zap.String("target", target), zap.Float64("value", v))
		return 0, fmt.Errorf("%s model returned %v: %w", target, v, ErrNonFiniteOutput)
	}
	if err := ctx.Err(); err != nil {
		s.countFailure(target)
		return 0, err
	}

	if s.cache != nil {
		s.cache.Add(key, v)
	}
	if s.metrics != nil {
		s.metrics.RecordHistogram("prediction_duration_seconds", elapsed.Seconds(), map[string]string{"target": target})
	}
	s.countOutcome(target, "ok")
	return v, nil
}

func (s *Service) count(name, target string) {
	if s.metrics != nil {
		s.metrics.IncrCounter(name, 1, map[string]string{"target": target})
	}
}

func (s *Service) countFailure(target string) {
	s.countOutcome(target, "error")
}

func (s *Service) countOutcome(target, outcome string) {
	if s.metrics != nil {
		s.metrics.IncrCounter("predictions_total", 1, map[string]string{"target": target, "outcome": outcome})
	}
}
