package models

import "errors"

// Error categories. Callers wrap these with context and match with errors.Is.
var (
	// ErrConfiguration: model used before training, missing persisted blob
	ErrConfiguration = errors.New("configuration error")
	// ErrSchema: required column absent, malformed timestamp, column mismatch
	ErrSchema = errors.New("schema error")
	// ErrInput: empty corpus, invalid record or option
	ErrInput = errors.New("input error")
	// ErrIO: model blob could not be read or written
	ErrIO = errors.New("io error")
)
