package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pdl_sync/internal/adapters/observability"
	"pdl_sync/internal/domain"
)

// Reconciler writes fetched upstream data into the store.
type Reconciler struct {
	store domain.Store
	cache domain.Cache
}

func NewReconciler(s domain.Store, c domain.Cache) *Reconciler {
	if c == nil {
		c = NopCache{}
	}
	return &Reconciler{store: s, cache: c}
}

// UpsertAgency matches a on its unique key: an existing row is overwritten in
// full, otherwise a new row is inserted.
func (r *Reconciler) UpsertAgency(ctx context.Context, a domain.Agency) domain.Outcome {
	key := a.Key()
	if key == "" {
		return domain.Skip("missing unique key")
	}
	existing, err := r.store.FindAgencyByKey(ctx, key)
	switch {
	case err == nil:
		a.ID = existing.ID
		if err := r.store.UpdateAgency(ctx, a); err != nil {
			return domain.Fail(fmt.Errorf("update agency %q: %w", a.Name, err))
		}
		return domain.OK(domain.Updated)
	case errors.Is(err, domain.ErrNotFound):
		if _, err := r.store.InsertAgency(ctx, a); err != nil {
			return domain.Fail(fmt.Errorf("insert agency %q: %w", a.Name, err))
		}
		return domain.OK(domain.Inserted)
	default:
		return domain.Fail(fmt.Errorf("lookup agency %q: %w", a.Name, err))
	}
}

// ReconcileAgencies upserts every agency and aggregates the outcomes. A
// failing row never stops the batch.
func (r *Reconciler) ReconcileAgencies(ctx context.Context, agencies []domain.Agency) domain.Summary {
	l := logger(ctx)
	var sum domain.Summary
	for _, a := range agencies {
		o := r.UpsertAgency(ctx, a)
		sum.Add(o)
		switch o.Status {
		case domain.Failed:
			l.Warn().Err(o.Err).Str("agency", a.Name).Msg("agency upsert failed")
		case domain.Skipped:
			l.Debug().Str("agency", a.Name).Str("reason", o.Reason).Msg("agency skipped")
		}
	}
	observeSummary("agency", sum)
	r.invalidate(ctx, agenciesCacheKey)
	return sum
}

// ReplaceProperties swaps the stored snapshot of a's properties for records.
// Elements that are not objects are skipped; per-row insert failures are
// counted. The returned error is set only when the replacement as a whole
// did not happen.
func (r *Reconciler) ReplaceProperties(ctx context.Context, a domain.Agency, records []map[string]any) (domain.Summary, error) {
	l := logger(ctx)
	var sum domain.Summary
	mapped := make([]domain.Property, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			sum.Add(domain.Skip("not an object"))
			continue
		}
		mapped = append(mapped, mapProperty(a, rec))
	}

	rowErrs, err := r.store.ReplaceProperties(ctx, a.ID, mapped)
	if err != nil {
		return sum, fmt.Errorf("replace properties of %q: %w", a.Name, err)
	}
	for i, rowErr := range rowErrs {
		if rowErr == nil {
			sum.Add(domain.OK(domain.Inserted))
			continue
		}
		sum.Add(domain.Fail(fmt.Errorf("insert property %q: %w", mapped[i].Location, rowErr)))
		l.Warn().Err(rowErr).Str("agency", a.Name).Int("row", i).Msg("property insert failed")
	}
	observeSummary("property", sum)

	r.invalidate(ctx, propertiesCacheKey(a.ID), agenciesCacheKey)
	return sum, nil
}

func (r *Reconciler) invalidate(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if err := r.cache.Del(ctx, k); err != nil {
			logger(ctx).Warn().Err(err).Str("cache_key", k).Msg("cache invalidate failed")
		}
	}
}

func observeSummary(entity string, s domain.Summary) {
	observability.ObserveRows(entity, string(domain.Inserted), s.Inserted)
	observability.ObserveRows(entity, string(domain.Updated), s.Updated)
	observability.ObserveRows(entity, string(domain.Skipped), s.Skipped)
	observability.ObserveRows(entity, string(domain.Failed), s.Errors)
}

// logger returns the run-scoped logger stored in ctx, or the global one.
func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
