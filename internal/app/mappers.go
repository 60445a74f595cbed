package app

import (
	"encoding/json"
	"strconv"
	"strings"

	"pdl_sync/internal/domain"
)

/********** alias registries (single source of truth) **********/

var agencyAliases = map[string][]string{
	"name":           {"Name", "name"},
	"office_name":    {"OfficeName", "office_name"},
	"address1":       {"Address1", "address1", "address"},
	"address2":       {"Address2", "address2"},
	"logo":           {"Logo", "logo"},
	"site":           {"Site", "site"},
	"site_name":      {"AcquiantCustomer.SiteName", "site_name"},
	"site_prefix":    {"AcquiantCustomer.SitePrefix", "acquaint_site_prefix", "site_prefix"},
	"daft_api_key":   {"DaftApiKey", "daft_api_key"},
	"myhome_api_key": {"MyhomeApi.ApiKey", "myhome_api_key"},
	"unique_key":     {"Key", "unique_key"},
}

var propertyAliases = map[string][]string{
	"agent":      {"Agent", "agent"},
	"location":   {"CountyCityName", "ShortDescription", "Address", "FullAddress"},
	"price":      {"Price", "price"},
	"floor_area": {"FloorArea", "Size"},
	"type":       {"Type", "Propertymarket"},
	"status":     {"Status", "status"},
	"short_desc": {"ShortDescription"},
	"image":      {"PrimaryImage", "primary_image"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupText returns the trimmed string at path. Decoded numbers keep their
// source text; float64 values are formatted without exponent; anything else
// yields "".
func lookupText(m map[string]any, path string) string {
	switch v := lookupAny(m, path).(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// firstText: first non-empty text for a named alias set.
func firstText(m map[string]any, aliases map[string][]string, key string) string {
	for _, p := range aliases[key] {
		if s := lookupText(m, p); s != "" {
			return s
		}
	}
	return ""
}

func ptrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// firstInt64Flexible: int64 from several paths (json.Number/float64/int/string).
func firstInt64Flexible(m map[string]any, paths ...string) *int64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return &n
			}
			if f, err := v.Float64(); err == nil {
				x := int64(f)
				return &x
			}
		case float64:
			x := int64(v)
			return &x
		case int:
			x := int64(v)
			return &x
		case int64:
			x := v
			return &x
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return &n
			}
		}
	}
	return nil
}

// leadingInt parses counts the way upstream feeds write them: "3", 3,
// "3 beds" and "3.5" all give 3. Anything without leading digits gives 0.
func leadingInt(v any) int {
	switch t := v.(type) {
	case json.Number:
		return leadingInt(t.String())
	case float64:
		return int(t)
	case int:
		return t
	case string:
		s := strings.TrimSpace(t)
		end := 0
		if end < len(s) && (s[end] == '-' || s[end] == '+') {
			end++
		}
		start := end
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end == start {
			return 0
		}
		n, err := strconv.Atoi(s[:end])
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

/********** agency mapper **********/

func mapAgency(m map[string]any) domain.Agency {
	return domain.Agency{
		Name:           firstText(m, agencyAliases, "name"),
		OfficeName:     ptrStr(firstText(m, agencyAliases, "office_name")),
		Address1:       firstText(m, agencyAliases, "address1"),
		Address2:       ptrStr(firstText(m, agencyAliases, "address2")),
		Logo:           ptrStr(firstText(m, agencyAliases, "logo")),
		Site:           ptrStr(firstText(m, agencyAliases, "site")),
		SiteName:       ptrStr(firstText(m, agencyAliases, "site_name")),
		SitePrefix:     ptrStr(firstText(m, agencyAliases, "site_prefix")),
		DaftAPIKey:     ptrStr(firstText(m, agencyAliases, "daft_api_key")),
		FourPMBranchID: nonZero(firstInt64Flexible(m, "AcquiantCustomer.FourPMBranchID", "fourpm_branch_id")),
		MyhomeAPIKey:   ptrStr(firstText(m, agencyAliases, "myhome_api_key")),
		MyhomeGroupID:  nonZero(firstInt64Flexible(m, "MyhomeApi.GroupID", "myhome_group_id")),
		UniqueKey:      ptrStr(firstText(m, agencyAliases, "unique_key")),
	}
}

// nonZero drops 0 ids, which the feed uses for "not set".
func nonZero(p *int64) *int64 {
	if p == nil || *p == 0 {
		return nil
	}
	return p
}

/********** property mapper **********/

func mapProperty(a domain.Agency, m map[string]any) domain.Property {
	return domain.Property{
		AgencyID:        a.ID,
		AgencyName:      a.Name,
		AgentName:       orDefault(firstText(m, propertyAliases, "agent"), "Unknown"),
		Location:        orDefault(firstText(m, propertyAliases, "location"), "Unknown"),
		Price:           orDefault(firstText(m, propertyAliases, "price"), "0"),
		Bedrooms:        leadingInt(lookupAny(m, "BedRooms")),
		Bathrooms:       leadingInt(lookupAny(m, "BathRooms")),
		FloorArea:       orDefault(firstText(m, propertyAliases, "floor_area"), "0"),
		ExtraInfo1:      ptrStr(firstText(m, propertyAliases, "type")),
		ExtraInfo2:      ptrStr(firstText(m, propertyAliases, "status")),
		ExtraInfo3:      ptrStr(firstText(m, propertyAliases, "short_desc")),
		PrimaryImageURL: ptrStr(firstText(m, propertyAliases, "image")),
	}
}
