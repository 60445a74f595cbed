package domain

import "context"

type Store interface {
	// Agencies
	FindAgencyByKey(ctx context.Context, key string) (Agency, error) // ErrNotFound when absent
	InsertAgency(ctx context.Context, a Agency) (int64, error)
	UpdateAgency(ctx context.Context, a Agency) error
	CountAgencies(ctx context.Context) (int, error)
	ListAgencies(ctx context.Context) ([]Agency, error)

	// Properties
	// ReplaceProperties deletes every property of the agency and inserts ps one
	// row at a time in a single transaction. rowErrs[i] is the insert error of
	// ps[i] (nil on success); err is set only when the batch as a whole failed.
	ReplaceProperties(ctx context.Context, agencyID int64, ps []Property) (rowErrs []error, err error)
	ListProperties(ctx context.Context, agencyID int64) ([]Property, error)
	CountProperties(ctx context.Context, agencyID int64) (int, error)
}

// Upstream is the external provider API. Records are raw JSON objects; a nil
// entry stands for an array element that was not an object.
type Upstream interface {
	FetchAgencies(ctx context.Context) ([]map[string]any, error)
	FetchProperties(ctx context.Context, agencyKey string) ([]map[string]any, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
