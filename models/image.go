package models

import "time"

// OwnerKind distinguishes the image resources a record can own.
type OwnerKind string

const (
	OwnerProperty OwnerKind = "Property"
	OwnerAgent    OwnerKind = "Agent"
)

// ImageRecord is one stored image belonging to a property or agent. The full
// set for an owner is always replaced as a unit, so sort_order stays
// consistent with the source's sequence numbering.
type ImageRecord struct {
	ID        int64     `json:"id" db:"id"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	SortOrder int       `json:"sort_order" db:"sort_order"`
	S3Key     string    `json:"s3_key" db:"s3_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
