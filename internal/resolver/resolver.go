// Package resolver turns free-text movie queries into result lists, trying a
// result cache, then the primary catalogue, then a generative fallback.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/cache"
	"github.com/shubhsaxena/cinesearch/internal/config"
	"github.com/shubhsaxena/cinesearch/internal/models"
	"github.com/shubhsaxena/cinesearch/internal/observability"
)

// Catalogue is the primary movie source.
type Catalogue interface {
	Search(ctx context.Context, query string, pageSize int) ([]models.MovieSummary, error)
}

// Generator is the fallback source. It returns the model's raw reply.
type Generator interface {
	Generate(ctx context.Context, query string) (string, error)
}

type Options struct {
	MinQueryLength  int
	PageSize        int
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinQueryLength:  cfg.Search.MinQueryLength,
		PageSize:        cfg.Search.PageSize,
		PrimaryTimeout:  cfg.Catalogue.RequestTimeout,
		FallbackTimeout: cfg.Generative.RequestTimeout,
	}
}

type Resolver struct {
	catalogue Catalogue
	generator Generator
	cache     cache.ResultCache
	recorder  *observability.ResolutionRecorder
	opts      Options
	flights   flights
	logger    *zap.Logger
}

// New builds a Resolver. recorder may be nil.
func New(
	catalogue Catalogue,
	generator Generator,
	resultCache cache.ResultCache,
	recorder *observability.ResolutionRecorder,
	opts Options,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		catalogue: catalogue,
		generator: generator,
		cache:     resultCache,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
	}
}

// outcome is the result of one network resolution, shared by every caller
// that joined it.
type outcome struct {
	results   []models.MovieSummary
	status    models.Status
	errorKind models.ErrorKind
	origin    models.Origin
	cacheHit  bool
	err       error
}

// Resolvable reports whether a normalized query is long enough to search.
func (r *Resolver) Resolvable(normalized string) bool {
	return utf8.RuneCountInString(normalized) >= r.opts.MinQueryLength
}

// Resolve runs one query through cache, catalogue and fallback. onStatus, if
// non-nil, is told about each searching transition before the call returns.
// Every outcome, including failures, is reported in the returned Resolution.
func (r *Resolver) Resolve(ctx context.Context, query string, onStatus func(models.Status)) *models.Resolution {
	start := time.Now()
	normalized := Normalize(query)

	if !r.Resolvable(normalized) {
		return &models.Resolution{
			Query:   normalized,
			Results: []models.MovieSummary{},
			Status:  models.StatusIdle,
		}
	}

	ctx, span := observability.StartSpan(ctx, "resolver.resolve",
		attribute.String("query_hash", observability.HashQuery(normalized)),
	)
	defer span.End()

	notify := func(s models.Status) {
		if onStatus != nil {
			onStatus(s)
		}
	}

	var res *models.Resolution
	if entry := r.lookup(ctx, normalized); entry != nil {
		res = &models.Resolution{
			Query:    normalized,
			Results:  models.CloneResults(entry.Results),
			Status:   models.StatusResolved,
			Origin:   entry.Origin,
			CacheHit: true,
		}
	} else {
		notify(models.StatusSearchingPrimary)
		res = r.resolveShared(ctx, normalized, strings.TrimSpace(query), notify)
	}

	duration := time.Since(start)
	span.SetAttributes(
		attribute.String("status", res.Status.String()),
		attribute.Bool("cache_hit", res.CacheHit),
		attribute.Int("result_count", len(res.Results)),
	)
	r.log(ctx, res, duration)
	if r.recorder != nil {
		r.recorder.Record(ctx, res, duration)
	}
	return res
}

// ClearCache drops every cached resolution.
func (r *Resolver) ClearCache(ctx context.Context) error {
	return r.cache.Clear(ctx)
}

// resolveShared collapses concurrent misses for the same normalized query
// into one network resolution. The shared work is detached from the caller's
// cancellation so one caller giving up never fails the others.
func (r *Resolver) resolveShared(ctx context.Context, normalized, raw string, notify func(models.Status)) *models.Resolution {
	f, leader := r.flights.join(normalized, notify)
	if leader {
		r.runFlight(context.WithoutCancel(ctx), normalized, raw, f)
	} else {
		observability.SharedResolutions.Inc()
		<-f.done
	}

	out := f.out
	return &models.Resolution{
		Query:     normalized,
		Results:   models.CloneResults(out.results),
		Status:    out.status,
		ErrorKind: out.errorKind,
		Origin:    out.origin,
		CacheHit:  out.cacheHit,
		Err:       out.err,
	}
}

// runFlight resolves f and releases its followers even if resolution panics.
func (r *Resolver) runFlight(ctx context.Context, normalized, raw string, f *flight) {
	var out *outcome
	defer func() {
		if out == nil {
			out = &outcome{
				results:   []models.MovieSummary{},
				status:    models.StatusFailed,
				errorKind: models.ErrorKindPrimaryTransport,
				err:       errors.New("resolution aborted"),
			}
		}
		r.flights.finish(normalized, f, out)
	}()
	out = r.resolveMiss(ctx, normalized, raw, f.advance)
}

func (r *Resolver) resolveMiss(ctx context.Context, normalized, raw string, notify func(models.Status)) *outcome {
	// Another flight may have filled the cache since this caller's lookup.
	if entry := r.lookup(ctx, normalized); entry != nil {
		return &outcome{
			results:  entry.Results,
			status:   models.StatusResolved,
			origin:   entry.Origin,
			cacheHit: true,
		}
	}

	primaryCtx, cancel := context.WithTimeout(ctx, r.opts.PrimaryTimeout)
	results, err := r.catalogue.Search(primaryCtx, normalized, r.opts.PageSize)
	cancel()
	if err != nil {
		return &outcome{
			results:   []models.MovieSummary{},
			status:    models.StatusFailed,
			errorKind: models.ErrorKindPrimaryTransport,
			err:       err,
		}
	}

	if len(results) > 0 {
		if r.opts.PageSize > 0 && len(results) > r.opts.PageSize {
			results = results[:r.opts.PageSize]
		}
		r.store(ctx, normalized, results, models.OriginPrimary)
		return &outcome{
			results: results,
			status:  models.StatusResolved,
			origin:  models.OriginPrimary,
		}
	}

	notify(models.StatusSearchingFallback)
	return r.resolveFallback(ctx, normalized, raw)
}

func (r *Resolver) resolveFallback(ctx context.Context, normalized, raw string) *outcome {
	fallbackCtx, cancel := context.WithTimeout(ctx, r.opts.FallbackTimeout)
	text, err := r.generator.Generate(fallbackCtx, raw)
	cancel()
	if err != nil {
		observability.FallbackCounter.WithLabelValues("transport_error").Inc()
		return &outcome{
			results:   []models.MovieSummary{},
			status:    models.StatusFailed,
			errorKind: models.ErrorKindFallbackTransport,
			origin:    models.OriginFallback,
			err:       err,
		}
	}

	movies, strategy, err := ParseFallback(text, r.opts.PageSize)
	if err != nil {
		// Not cached, so the next identical query tries the fallback again.
		observability.FallbackCounter.WithLabelValues("parse_error").Inc()
		return &outcome{
			results:   []models.MovieSummary{},
			status:    models.StatusFailed,
			errorKind: models.ErrorKindFallbackParse,
			origin:    models.OriginFallback,
			err:       err,
		}
	}

	observability.FallbackCounter.WithLabelValues("resolved").Inc()
	observability.FallbackParseStrategy.WithLabelValues(strategy).Inc()
	r.store(ctx, normalized, movies, models.OriginFallback)
	return &outcome{
		results: movies,
		status:  models.StatusResolved,
		origin:  models.OriginFallback,
	}
}

// lookup treats a failing cache as a miss.
func (r *Resolver) lookup(ctx context.Context, normalized string) *models.CacheEntry {
	entry, err := r.cache.Get(ctx, normalized)
	if err != nil {
		r.logger.Warn("cache lookup error",
			zap.String("query_hash", observability.HashQuery(normalized)),
			zap.Error(err),
		)
		return nil
	}
	return entry
}

func (r *Resolver) store(ctx context.Context, normalized string, results []models.MovieSummary, origin models.Origin) {
	err := r.cache.Set(ctx, &models.CacheEntry{
		Query:     normalized,
		Results:   results,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("cache set error",
			zap.String("query_hash", observability.HashQuery(normalized)),
			zap.String("origin", string(origin)),
			zap.Error(err),
		)
	}
}

func (r *Resolver) log(ctx context.Context, res *models.Resolution, duration time.Duration) {
	fields := []zap.Field{
		zap.String("trace_id", observability.TraceIDFromContext(ctx)),
		zap.String("query_hash", observability.HashQuery(res.Query)),
		zap.String("status", res.Status.String()),
		zap.String("origin", string(res.Origin)),
		zap.Bool("cache_hit", res.CacheHit),
		zap.Int("result_count", len(res.Results)),
		zap.Duration("duration", duration),
	}
	if res.Status != models.StatusFailed {
		r.logger.Debug("search resolved", fields...)
		return
	}

	fields = append(fields, zap.String("error_kind", string(res.ErrorKind)), zap.Error(res.Err))
	if errors.Is(res.Err, ErrFallbackParse) {
		r.logger.Warn("fallback reply unusable", fields...)
		return
	}
	r.logger.Error("search resolution failed", fields...)
}
