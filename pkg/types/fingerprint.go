package types

// Fingerprint is a semantic vector computed for one text by one provider
type Fingerprint struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string

	// Hash is the content-addressed cache key (normalized text + provider + model)
	Hash string

	Truncated      bool
	OriginalTokens int // Token count before truncation; set when Truncated

	// Fallbacks lists the providers that failed before this one succeeded
	Fallbacks []FallbackEvent
	Cached    bool
}

// FallbackEvent records one provider failure that caused fallthrough
type FallbackEvent struct {
	Provider string
	Model    string
	Reason   string
}

// Clone returns a deep copy of the fingerprint
func (f *Fingerprint) Clone() *Fingerprint {
	if f == nil {
		return nil
	}
	out := *f
	out.Vector = make([]float32, len(f.Vector))
	copy(out.Vector, f.Vector)
	if f.Fallbacks != nil {
		out.Fallbacks = make([]FallbackEvent, len(f.Fallbacks))
		copy(out.Fallbacks, f.Fallbacks)
	}
	return &out
}
