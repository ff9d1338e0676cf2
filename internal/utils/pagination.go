// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page is a bounded page request.
type Page struct {
	Number int
	Size   int
}

// Offset is the row offset of the first item on the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages returns how many pages of p.Size hold total items.
func (p Page) TotalPages(total int64) int {
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// ParsePage parses raw page and page_size values, falling back to
// defaultSize and clamping the size to [1, maxSize].
func ParsePage(page, pageSize string, defaultSize, maxSize int) Page {
	p := Page{
		Number: AtoiDefault(page, 1),
		Size:   AtoiDefault(pageSize, defaultSize),
	}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 1
	}
	if p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}
