package imagegen

import "errors"

var (
	ErrInvalidParams = errors.New("imagegen: invalid generation parameters")
	ErrInvalidPrompt = errors.New("imagegen: invalid prompt")

	// ErrBackend wraps a non-2xx answer from a device endpoint.
	ErrBackend = errors.New("imagegen: backend error")

	// ErrNoImages means the backend answered but nothing could be decoded.
	ErrNoImages = errors.New("imagegen: backend returned no usable images")

	ErrModelNotFound = errors.New("imagegen: model not available on endpoint")
)
