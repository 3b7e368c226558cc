// Package translate runs Russian to English translation on a pool of
// translation devices.
package translate

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	ErrEmptyTranslation = errors.New("translate: backend returned an empty translation")
	ErrModelNotFound    = errors.New("translate: model not served by endpoint")
)

// ExpectedTime is the progress estimate for one translation.
const ExpectedTime = 2 * time.Second

var cyrillic = regexp.MustCompile(`[а-яА-ЯёЁ]`)

// NeedsTranslation reports whether text contains Cyrillic letters.
func NeedsTranslation(text string) bool {
	return cyrillic.MatchString(text)
}

// Model is the artifact a translation lease carries.
type Model interface {
	Translate(ctx context.Context, text string) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, text string) (string, error)

func (f ModelFunc) Translate(ctx context.Context, text string) (string, error) { return f(ctx, text) }
