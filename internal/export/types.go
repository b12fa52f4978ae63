// Package export renders a user's ranked movie list as a shareable PDF.
package export

import "errors"

// Item is one row of the exported list.
type Item struct {
	Rank       int
	Title      string
	PosterPath string
	Overview   string
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the headless-Chrome runtime dependency
// is unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
