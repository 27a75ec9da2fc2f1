package shortcode

import (
	"context"
	"errors"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is the URL-safe alphabet codes are drawn from (64 symbols)
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-"

const (
	DefaultLength      = 6
	DefaultMaxAttempts = 10
	fallbackExtra      = 2 // fallback codes are this much longer
)

// ErrExhausted is returned when every candidate, including the longer
// fallback ones, collided with an existing code
var ErrExhausted = errors.New("no free short code found")

// ExistsFunc reports whether a code is already taken
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generate returns a random code of the given length
func Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	return gonanoid.Generate(Alphabet, length)
}

// Generator produces codes that are unique according to an ExistsFunc
type Generator struct {
	Length      int
	MaxAttempts int
}

// NewGenerator creates a generator; zero values fall back to the defaults
func NewGenerator(length, maxAttempts int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{Length: length, MaxAttempts: maxAttempts}
}

// GenerateUnique tries MaxAttempts codes of Length, then MaxAttempts codes
// of Length+2. Every candidate is checked with exists.
func (g *Generator) GenerateUnique(ctx context.Context, exists ExistsFunc) (string, error) {
	for _, length := range []int{g.Length, g.Length + fallbackExtra} {
		code, err := g.tryLength(ctx, exists, length)
		if err != nil {
			return "", err
		}
		if code != "" {
			return code, nil
		}
	}
	return "", ErrExhausted
}

func (g *Generator) tryLength(ctx context.Context, exists ExistsFunc, length int) (string, error) {
	for attempt := 0; attempt < g.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := Generate(length)
		if err != nil {
			return "", err
		}

		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", nil
}
