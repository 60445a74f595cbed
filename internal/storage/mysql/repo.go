package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pdl_sync/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptrNullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
func ptrNullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	n := ni.Int64
	return &n
}

// flexTime scans DATETIME/TIMESTAMP columns from drivers that hand back
// time.Time (MySQL with parseTime) or text (SQLite).
type flexTime struct{ t time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (f *flexTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		f.t = time.Time{}
		return nil
	case time.Time:
		f.t = v
		return nil
	case []byte:
		return f.parse(string(v))
	case string:
		return f.parse(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (f *flexTime) parse(s string) error {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			f.t = t
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", s)
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// ---- agencies ----

type rowScanner interface{ Scan(dest ...any) error }

func scanAgency(r rowScanner) (domain.Agency, error) {
	var a domain.Agency
	var office, addr2, logo, site, siteName, sitePrefix, daft, myhomeKey, key sql.NullString
	var branch, group sql.NullInt64
	var created, updated flexTime
	if err := r.Scan(
		&a.ID, &a.Name, &office, &a.Address1, &addr2, &logo, &site, &siteName, &sitePrefix,
		&daft, &branch, &myhomeKey, &group, &key, &created, &updated,
	); err != nil {
		return domain.Agency{}, err
	}
	a.OfficeName = ptrNullStr(office)
	a.Address2 = ptrNullStr(addr2)
	a.Logo = ptrNullStr(logo)
	a.Site = ptrNullStr(site)
	a.SiteName = ptrNullStr(siteName)
	a.SitePrefix = ptrNullStr(sitePrefix)
	a.DaftAPIKey = ptrNullStr(daft)
	a.FourPMBranchID = ptrNullInt64(branch)
	a.MyhomeAPIKey = ptrNullStr(myhomeKey)
	a.MyhomeGroupID = ptrNullInt64(group)
	a.UniqueKey = ptrNullStr(key)
	a.CreatedAt = created.t
	a.UpdatedAt = updated.t
	return a, nil
}

func agencyArgs(a domain.Agency) []any {
	return []any{
		a.Name,
		valStr(a.OfficeName),
		a.Address1,
		valStr(a.Address2),
		valStr(a.Logo),
		valStr(a.Site),
		valStr(a.SiteName),
		valStr(a.SitePrefix),
		valStr(a.DaftAPIKey),
		valInt64(a.FourPMBranchID),
		valStr(a.MyhomeAPIKey),
		valInt64(a.MyhomeGroupID),
		valStr(a.UniqueKey),
	}
}

func (r *Repo) FindAgencyByKey(ctx context.Context, key string) (domain.Agency, error) {
	a, err := scanAgency(r.db.QueryRowContext(ctx, findAgencyByKeySQL, key))
	if err == sql.ErrNoRows {
		return domain.Agency{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Agency{}, fmt.Errorf("find agency %q: %w", key, err)
	}
	return a, nil
}

func (r *Repo) InsertAgency(ctx context.Context, a domain.Agency) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertAgencySQL, agencyArgs(a)...)
	if err != nil {
		return 0, fmt.Errorf("insert agency %q: %w", a.Name, err)
	}
	return res.LastInsertId()
}

func (r *Repo) UpdateAgency(ctx context.Context, a domain.Agency) error {
	args := append(agencyArgs(a), a.ID)
	// MySQL reports 0 affected rows for an unchanged row; only driver errors count.
	if _, err := r.db.ExecContext(ctx, updateAgencySQL, args...); err != nil {
		return fmt.Errorf("update agency %d: %w", a.ID, err)
	}
	return nil
}

func (r *Repo) CountAgencies(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countAgenciesSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agencies: %w", err)
	}
	return n, nil
}

func (r *Repo) ListAgencies(ctx context.Context) ([]domain.Agency, error) {
	rows, err := r.db.QueryContext(ctx, listAgenciesSQL)
	if err != nil {
		return nil, fmt.Errorf("list agencies: %w", err)
	}
	defer rows.Close()

	var out []domain.Agency
	for rows.Next() {
		a, err := scanAgency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agency: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- properties ----

// ReplaceProperties swaps the agency's snapshot inside one transaction, so a
// crash before commit leaves the previous snapshot in place. A failing row
// insert only rolls back that statement; the rest of the batch continues.
func (r *Repo) ReplaceProperties(ctx context.Context, agencyID int64, ps []domain.Property) ([]error, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deletePropertiesSQL, agencyID); err != nil {
		return nil, fmt.Errorf("delete properties of agency %d: %w", agencyID, err)
	}

	rowErrs := make([]error, len(ps))
	if len(ps) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertPropertySQL)
		if err != nil {
			return nil, fmt.Errorf("prepare property insert: %w", err)
		}
		defer stmt.Close()

		for i, p := range ps {
			if _, err := stmt.ExecContext(ctx,
				agencyID,
				p.AgencyName,
				p.AgentName,
				p.Location,
				p.Price,
				p.Bedrooms,
				p.Bathrooms,
				p.FloorArea,
				valStr(p.ExtraInfo1),
				valStr(p.ExtraInfo2),
				valStr(p.ExtraInfo3),
				valStr(p.ExtraInfo4),
				valStr(p.AgencyImageURL),
				valStr(p.PrimaryImageURL),
			); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				rowErrs[i] = err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace: %w", err)
	}
	return rowErrs, nil
}

func (r *Repo) ListProperties(ctx context.Context, agencyID int64) ([]domain.Property, error) {
	rows, err := r.db.QueryContext(ctx, listPropertiesSQL, agencyID)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var out []domain.Property
	for rows.Next() {
		var p domain.Property
		var x1, x2, x3, x4, agencyImg, img sql.NullString
		var created flexTime
		if err := rows.Scan(
			&p.ID, &p.AgencyID, &p.AgencyName, &p.AgentName, &p.Location, &p.Price,
			&p.Bedrooms, &p.Bathrooms, &p.FloorArea,
			&x1, &x2, &x3, &x4,
			&agencyImg, &img, &created,
		); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		p.ExtraInfo1 = ptrNullStr(x1)
		p.ExtraInfo2 = ptrNullStr(x2)
		p.ExtraInfo3 = ptrNullStr(x3)
		p.ExtraInfo4 = ptrNullStr(x4)
		p.AgencyImageURL = ptrNullStr(agencyImg)
		p.PrimaryImageURL = ptrNullStr(img)
		p.CreatedAt = created.t
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) CountProperties(ctx context.Context, agencyID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countPropertiesSQL, agencyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count properties: %w", err)
	}
	return n, nil
}
