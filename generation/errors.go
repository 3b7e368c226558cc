package generation

import "errors"

var (
	ErrEmptyText = errors.New("generation: text is empty")

	// ErrNoImagesSaved means generation produced images but none could be
	// written; the request directory has been removed.
	ErrNoImagesSaved = errors.New("generation: no images could be saved")
)
