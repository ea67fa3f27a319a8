// Package directory exposes the typed API surface of the community
// directory backend: restaurants, synagogues, mikvahs and stores. It is a
// thin layer over the resilient client; every method is one logical
// request through the pipeline.
package directory

import "time"

// KosherCertification identifies the supervising agency for a food
// establishment.
type KosherCertification string

const (
	CertOU     KosherCertification = "OU"
	CertOK     KosherCertification = "OK"
	CertStar_K KosherCertification = "Star-K"
	CertCRC    KosherCertification = "CRC"
	CertLocal  KosherCertification = "local"
	CertNone   KosherCertification = ""
)

// ListingStatus is the publication state of a directory entry.
type ListingStatus string

const (
	StatusPending   ListingStatus = "pending"  // submitted, awaiting review
	StatusPublished ListingStatus = "published"
	StatusArchived  ListingStatus = "archived"
)

// Address is a street address with coordinates when geocoded.
type Address struct {
	Street    string  `json:"street"`
	City      string  `json:"city"`
	State     string  `json:"state,omitempty"`
	Zip       string  `json:"zip,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Listing holds the fields shared by every directory entity.
type Listing struct {
	ID          string        `json:"id"`
	Slug        string        `json:"slug"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Address     Address       `json:"address"`
	Phone       string        `json:"phone,omitempty"`
	Website     string        `json:"website,omitempty"`
	Status      ListingStatus `json:"status"`
	Tags        []string      `json:"tags,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Restaurant is a food establishment listing.
type Restaurant struct {
	Listing
	Certification KosherCertification `json:"certification,omitempty"`
	Cuisine       string              `json:"cuisine,omitempty"`
	Dairy         bool                `json:"dairy,omitempty"`
	Meat          bool                `json:"meat,omitempty"`
	Pareve        bool                `json:"pareve,omitempty"`
	Delivery      bool                `json:"delivery,omitempty"`
}

// Synagogue is a congregation listing.
type Synagogue struct {
	Listing
	Denomination string   `json:"denomination,omitempty"`
	Rabbi        string   `json:"rabbi,omitempty"`
	Services     []string `json:"services,omitempty"` // e.g. shacharit, mincha, maariv
	Accessible   bool     `json:"accessible,omitempty"`
}

// Mikvah is a ritual bath listing.
type Mikvah struct {
	Listing
	Appointment bool   `json:"appointment_required,omitempty"`
	Attendant   string `json:"attendant_phone,omitempty"`
	Hours       string `json:"hours,omitempty"`
}

// Store is a retail listing.
type Store struct {
	Listing
	Category      string              `json:"category,omitempty"` // grocery, judaica, bakery, etc.
	Certification KosherCertification `json:"certification,omitempty"`
	OnlineOrders  bool                `json:"online_orders,omitempty"`
}

// Page wraps a paginated list response.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Offset     int `json:"offset"`
	Limit      int `json:"limit"`
}

// ListParams controls pagination and filtering for list calls.
type ListParams struct {
	Offset int
	Limit  int
	City   string
	Tag    string
	Search string
}
