package domain

import "time"

// Property is one listing owned by exactly one agency. JSON names follow the
// column names the client application reads.
type Property struct {
	ID              int64     `json:"id"`
	AgencyID        int64     `json:"agency_id"`
	AgencyName      string    `json:"agency_name"`
	AgentName       string    `json:"agency_agent_name"`
	Location        string    `json:"house_location"`
	Price           string    `json:"house_price"`
	Bedrooms        int       `json:"house_bedrooms"`
	Bathrooms       int       `json:"house_bathrooms"`
	FloorArea       string    `json:"house_mt_squared"`
	ExtraInfo1      *string   `json:"house_extra_info_1"` // listing type
	ExtraInfo2      *string   `json:"house_extra_info_2"` // listing status
	ExtraInfo3      *string   `json:"house_extra_info_3"` // short description
	ExtraInfo4      *string   `json:"house_extra_info_4"`
	AgencyImageURL  *string   `json:"agency_image_url"`
	PrimaryImageURL *string   `json:"images_url_house"`
	CreatedAt       time.Time `json:"created_at"`
}
