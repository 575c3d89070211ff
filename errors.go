package epub

import "errors"

// Sentinel errors returned by the epub package.
//
// Malformed publications never produce these; they are reported as
// diagnostics on the Result instead. Errors are reserved for misuse of the
// API and for input that is not an archive at all.
var (
	// ErrNilSource indicates Parse was called without a Source.
	ErrNilSource = errors.New("epub: nil source")

	// ErrNotZip indicates the file handed to Open or NewReader could not be
	// read as a ZIP archive.
	ErrNotZip = errors.New("epub: not a zip archive")
)
