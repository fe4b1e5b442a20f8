package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyRef    = errors.New("identifier is required")
	ErrInvalidSlug = errors.New("invalid slug")
)

type refKind uint8

const (
	refSlug refKind = iota
	refNumericID
)

// EntityRef addresses a project or prompt either by numeric id or by slug.
// The choice is made once by ParseRef and never re-derived.
type EntityRef struct {
	kind refKind
	id   int64
	slug string
}

// NumericID builds a reference to the row with the given id.
func NumericID(id int64) EntityRef {
	return EntityRef{kind: refNumericID, id: id}
}

// Slug builds a reference to the row with the given slug.
func Slug(slug string) EntityRef {
	return EntityRef{kind: refSlug, slug: slug}
}

// ParseRef classifies a path identifier: a string that parses as a
// non-negative base-10 integer is an id, anything else is a slug.
func ParseRef(value string) (EntityRef, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return EntityRef{}, ErrEmptyRef
	}
	if id, err := strconv.ParseInt(value, 10, 64); err == nil && id >= 0 {
		return NumericID(id), nil
	}
	return Slug(value), nil
}

func (r EntityRef) IsNumeric() bool { return r.kind == refNumericID }

// ID returns the numeric id and true when r is a NumericID reference.
func (r EntityRef) ID() (int64, bool) {
	return r.id, r.kind == refNumericID
}

// SlugValue returns the slug and true when r is a Slug reference.
func (r EntityRef) SlugValue() (string, bool) {
	return r.slug, r.kind == refSlug
}

func (r EntityRef) String() string {
	if r.kind == refNumericID {
		return strconv.FormatInt(r.id, 10)
	}
	return r.slug
}

// ValidateSlug rejects slugs that could never be addressed: a purely numeric
// slug would always be read back as an id.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug is required", ErrInvalidSlug)
	}
	if len(slug) > 128 {
		return fmt.Errorf("%w: slug exceeds 128 characters", ErrInvalidSlug)
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidSlug, slug, r)
		}
	}
	if ref, _ := ParseRef(slug); ref.IsNumeric() {
		return fmt.Errorf("%w: %q is numeric", ErrInvalidSlug, slug)
	}
	return nil
}
