package domain

import (
	"github.com/rotisserie/eris"
)

var (
	// ErrEmptyPopulation means no customer survived validation and
	// aggregation, so nothing can be scored.
	ErrEmptyPopulation = eris.New("empty population: no customer has a valid invoice")

	// ErrConfiguration marks a fatal problem found before the run starts.
	ErrConfiguration = eris.New("configuration error")

	ErrNotFound     = eris.New("record not found")
	ErrInvalidInput = eris.New("invalid input")
)

// ConfigError wraps ErrConfiguration with a reason.
func ConfigError(format string, args ...any) error {
	return eris.Wrapf(ErrConfiguration, format, args...)
}
