package models

import (
	"fmt"
	"strings"
	"time"
)

// PropertyClass identifies which RETS property class a record belongs to.
// Each class lives in its own table with its own image table.
type PropertyClass string

const (
	ClassResidential PropertyClass = "RES"
	ClassCommercial  PropertyClass = "COM"
	ClassLand        PropertyClass = "LND"
)

// PropertyClasses in sync order.
var PropertyClasses = []PropertyClass{ClassResidential, ClassCommercial, ClassLand}

func (c PropertyClass) Valid() bool {
	switch c {
	case ClassResidential, ClassCommercial, ClassLand:
		return true
	}
	return false
}

func (c PropertyClass) Label() string {
	switch c {
	case ClassResidential:
		return "residential"
	case ClassCommercial:
		return "commercial"
	case ClassLand:
		return "land"
	}
	return string(c)
}

func (c PropertyClass) Table() string {
	return c.Label() + "_properties"
}

func (c PropertyClass) ImageTable() string {
	return c.Label() + "_images"
}

// Property is one listing record. All three classes share this shape.
type Property struct {
	ID                int64      `json:"id" db:"id"`
	MLSAcct           string     `json:"mls_acct" db:"mls_acct"`
	StreetNum         string     `json:"street_num" db:"street_num"`
	StreetName        string     `json:"street_name" db:"street_name"`
	City              string     `json:"city" db:"city"`
	State             string     `json:"state" db:"state"`
	Zip               string     `json:"zip" db:"zip"`
	Status            string     `json:"status" db:"status"`
	Price             *float64   `json:"price" db:"price"`
	Beds              *int       `json:"beds" db:"beds"`
	Baths             *int       `json:"baths" db:"baths"`
	SqFt              *int       `json:"sqft" db:"sqft"`
	Description       string     `json:"description" db:"description"`
	LaCode            string     `json:"la_code" db:"la_code"`
	LoCode            string     `json:"lo_code" db:"lo_code"`
	DateCreated       *time.Time `json:"date_created" db:"date_created"`
	DateModified      *time.Time `json:"date_modified" db:"date_modified"`
	PhotoDateModified *time.Time `json:"photo_date_modified" db:"photo_date_modified"`
	Latitude          *float64   `json:"latitude" db:"latitude"`
	Longitude         *float64   `json:"longitude" db:"longitude"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Address builds the free-text address used for geocoding.
func (p *Property) Address() string {
	street := strings.TrimSpace(p.StreetNum + " " + p.StreetName)
	return fmt.Sprintf("%s, %s, %s %s", street, p.City, p.State, p.Zip)
}

func (p *Property) HasCoords() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// NaturalKeyID coerces a RETS natural key to the numeric storage identity.
// Mirrors a leading-digits parse so repeated imports of the same record
// always land on the same row.
func NaturalKeyID(key string) int64 {
	var id int64
	for _, c := range strings.TrimSpace(key) {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
