package provider

// Meta is the bookkeeping part of a response: identifiers, status and token
// usage. Absent fields stay zero or nil.
type Meta struct {
	ID           string
	Model        string
	Status       string
	ServiceTier  string
	InputTokens  *int
	OutputTokens *int
	TotalTokens  *int
	// CompletedAt is unix seconds.
	CompletedAt *int64
}

// Metadata reads Meta from a response tree.
func Metadata(raw map[string]any) Meta {
	usage := obj(raw, "usage")
	m := Meta{
		ID:           str(raw, "id"),
		Model:        str(raw, "model"),
		Status:       str(raw, "status"),
		ServiceTier:  str(raw, "service_tier"),
		InputTokens:  intPtr(usage["input_tokens"]),
		OutputTokens: intPtr(usage["output_tokens"]),
		TotalTokens:  intPtr(usage["total_tokens"]),
	}
	if f, ok := number(raw["completed_at"]); ok && f > 0 {
		ts := int64(f)
		m.CompletedAt = &ts
	}
	return m
}
