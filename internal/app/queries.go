package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdl_sync/internal/domain"
)

// AgencyView is an agency as served to the client application.
type AgencyView struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	OfficeName      *string   `json:"office_name,omitempty"`
	Address1        string    `json:"address1"`
	Address2        *string   `json:"address2,omitempty"`
	Logo            *string   `json:"logo,omitempty"`
	Site            *string   `json:"site,omitempty"`
	UniqueKey       string    `json:"unique_key"`
	TotalProperties int       `json:"total_properties"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type QueryService struct {
	store    domain.Store
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(s domain.Store, c domain.Cache, ttl time.Duration) *QueryService {
	if c == nil {
		c = NopCache{}
	}
	return &QueryService{store: s, cache: c, cacheTTL: ttl}
}

// epoch samples the invalidation counter when the cache keeps one.
func (s *QueryService) epoch() uint64 {
	if g, ok := s.cache.(interface{ Epoch() uint64 }); ok {
		return g.Epoch()
	}
	return 0
}

// fill stores v unless the key was invalidated after since was sampled.
func (s *QueryService) fill(ctx context.Context, key string, v any, since uint64) {
	if s.epoch() != since {
		logger(ctx).Debug().Str("cache_key", key).Msg("cache fill skipped, invalidated while loading")
		return
	}
	if err := s.cache.Set(ctx, key, v, int(s.cacheTTL.Seconds())); err != nil {
		logger(ctx).Warn().Err(err).Str("cache_key", key).Msg("cache set failed")
	}
}

func (s *QueryService) ListAgencies(ctx context.Context) ([]AgencyView, error) {
	var out []AgencyView
	if ok, _ := s.cache.Get(ctx, agenciesCacheKey, &out); ok {
		return out, nil
	}
	since := s.epoch()
	as, err := s.store.ListAgencies(ctx)
	if err != nil {
		return nil, err
	}
	out = make([]AgencyView, 0, len(as))
	for _, a := range as {
		n, err := s.store.CountProperties(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("count properties of %q: %w", a.Name, err)
		}
		out = append(out, AgencyView{
			ID: a.ID, Name: a.Name, OfficeName: a.OfficeName,
			Address1: a.Address1, Address2: a.Address2, Logo: a.Logo, Site: a.Site,
			UniqueKey: a.Key(), TotalProperties: n, UpdatedAt: a.UpdatedAt,
		})
	}
	s.fill(ctx, agenciesCacheKey, out, since)
	return out, nil
}

// ListProperties returns the stored snapshot of the agency with the given key.
func (s *QueryService) ListProperties(ctx context.Context, key string) ([]domain.Property, error) {
	a, err := s.store.FindAgencyByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrAgencyNotFound
	}
	if err != nil {
		return nil, err
	}

	ck := propertiesCacheKey(a.ID)
	var out []domain.Property
	if ok, _ := s.cache.Get(ctx, ck, &out); ok {
		return out, nil
	}
	since := s.epoch()
	out, err = s.store.ListProperties(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Property{}
	}
	s.fill(ctx, ck, out, since)
	return out, nil
}
