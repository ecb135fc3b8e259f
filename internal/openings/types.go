package openings

import (
	"fmt"
	"strings"
	"time"
)

// Category is the closed set of opening categories.
type Category string

const (
	CategoryBusiness   Category = "Business"
	CategoryGang       Category = "Gang"
	CategoryDepartment Category = "Department"
)

// Valid reports whether the category belongs to the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryBusiness, CategoryGang, CategoryDepartment:
		return true
	}
	return false
}

// ParseCategory validates a raw category string at the request boundary.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.TrimSpace(raw))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidInput, raw)
	}
	return c, nil
}

// Opening is a recruitment post. A nil ClosedAt means it is still open.
type Opening struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    Category   `json:"category"`
	Tags        []string   `json:"tags"`
	Contact     string     `json:"contact"`
	AuthorID    string     `json:"author_id"`
	AuthorName  string     `json:"author_name"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Open reports whether the opening is still accepting applicants.
func (o Opening) Open() bool {
	return o.ClosedAt == nil
}

// Author identifies who owns an opening.
type Author struct {
	ID   string
	Name string
}

// CreateInput describes a new opening.
type CreateInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Contact     string   `json:"contact"`
}

// Patch carries a partial update. Nil fields are left unchanged.
type Patch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Contact     *string   `json:"contact,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil &&
		p.Tags == nil && p.Contact == nil
}
