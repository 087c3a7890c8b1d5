package nuget

import "errors"

var (
	// ErrInvalidArchive means the manifest is missing, unreadable, or lacks
	// a usable id or version.
	ErrInvalidArchive = errors.New("invalid package archive")

	// ErrIO means the archive bytes could not be read.
	ErrIO = errors.New("reading package archive")

	// ErrInvalidURL means a server base URL is not absolute.
	ErrInvalidURL = errors.New("invalid url")

	// ErrVersionConflict is returned when a version already exists and
	// overwriting is disabled.
	ErrVersionConflict = errors.New("package version already exists")

	ErrInvalidVersion = errors.New("invalid version")
)
