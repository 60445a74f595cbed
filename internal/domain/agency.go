package domain

import "time"

// Agency is the persisted shape of an estate agency.
type Agency struct {
	ID             int64
	Name           string
	OfficeName     *string
	Address1       string
	Address2       *string
	Logo           *string
	Site           *string
	SiteName       *string
	SitePrefix     *string
	DaftAPIKey     *string
	FourPMBranchID *int64
	MyhomeAPIKey   *string
	MyhomeGroupID  *int64
	UniqueKey      *string // external key; rows without it are never reconciled
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key returns the external unique key or "".
func (a Agency) Key() string {
	if a.UniqueKey == nil {
		return ""
	}
	return *a.UniqueKey
}
