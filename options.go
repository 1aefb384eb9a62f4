package pdf

import "log/slog"

// XrefStyle selects how a document's cross-reference data is written (§6).
type XrefStyle int

const (
	// XrefAuto writes a classical table unless the input document used a
	// stream, in which case a stream is written (§6: "auto chooses stream
	// when input used stream").
	XrefAuto XrefStyle = iota
	XrefClassical
	XrefStream
)

// Options configures a Reader/Document. The zero Options is the default
// configuration: non-strict, auto xref style, full rewrite on save, no
// crypt provider override, and a default logger. Configuration is entirely
// per-document; there is no global mutable state (§9).
type Options struct {
	// Strict elevates recovery warnings to errors (§6, §7).
	Strict bool

	// XrefStyle selects classical, stream, or auto xref on write (§6).
	XrefStyle XrefStyle

	// IncrementalUpdate, if true on save, preserves the original bytes
	// and appends only a new xref section (§6).
	IncrementalUpdate bool

	// CryptProvider overrides the default ARC4/AES-CBC providers used by
	// the security handler (§4.4, §6).
	CryptProvider CryptProvider

	// Logger receives a structured log record for every recovery; it
	// defaults to slog.Default() when nil.
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
