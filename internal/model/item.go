// Package model defines the core domain models used throughout the application.
package model

import "time"

// ItemKind selects which taxonomy a job classifies against.
type ItemKind string

// Item kind constants.
const (
	KindCategory ItemKind = "category"
	KindTag      ItemKind = "tag"
)

// EnrichedItem is a denormalized supplier product record as read from
// storage. The classification core only reads it to build prompts and
// evaluate reclassification rules; it never mutates one.
type EnrichedItem struct {
	Attributes         map[string]string
	CategoryID         *string
	CategoryName       *string
	PreviousConfidence *float64
	ID                 string
	Name               string
	SupplierID         string
	SupplierName       string
	Description        string
	SKU                string
	Tags               []string
	CreatedAt          time.Time
}

// HasCategory reports whether the item currently carries an assigned category.
func (e *EnrichedItem) HasCategory() bool {
	return e.CategoryID != nil && *e.CategoryID != ""
}

// TargetValue is one entry in the taxonomy (a category or a tag) that a
// classification may point to.
type TargetValue struct {
	ParentID *string
	ID       string
	Name     string
	Path     string
	Level    int
}
