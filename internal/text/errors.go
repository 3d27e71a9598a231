package text

import "errors"

var (
	// ErrNotFound indicates the document file does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnsupportedFormat indicates a file extension we cannot extract text from.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrProcessing wraps any extraction failure for a document that exists
	// and has a supported format.
	ErrProcessing = errors.New("document processing failed")
)
