package analyzer

import "errors"

var (
	// ErrUnsafePath is returned for archive entries that would land outside
	// the extraction directory.
	ErrUnsafePath = errors.New("archive entry escapes extraction root")

	// ErrArchiveTooLarge is returned when extraction exceeds the size cap.
	ErrArchiveTooLarge = errors.New("archive exceeds extraction limit")

	// ErrArtifactTooLarge is returned for artifacts above the intake limit.
	ErrArtifactTooLarge = errors.New("artifact exceeds size limit")
)
