package telemetry

import (
	"context"

	"codeberg.org/mutker/chargectl/internal/charge"
)

// Reader produces a battery reading on demand.
type Reader interface {
	Read() (charge.Reading, error)
}

// Publisher pushes readings to subscribers as they change.
type Publisher interface {
	Reader
	Subscribe(fn func(charge.Reading))
	Run(ctx context.Context)
}
