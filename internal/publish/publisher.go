// Package publish fans a finished extraction out to configured
// destinations. A destination set names which destinations one source
// publishes to.
package publish

import (
	"context"
	"fmt"
	"log/slog"

	"gazeta/internal/types"
)

// Destination writes one publication somewhere external and returns
// the identifier it created there.
type Destination interface {
	Name() string
	Initialize(ctx context.Context) error
	Publish(ctx context.Context, pub *types.Publication) (string, error)
	Shutdown(ctx context.Context) error
}

type MultiPublisher struct {
	destinations map[string]Destination
	logger       *slog.Logger
}

func NewMultiPublisher(logger *slog.Logger) *MultiPublisher {
	return &MultiPublisher{
		destinations: make(map[string]Destination),
		logger:       logger,
	}
}

func (p *MultiPublisher) Register(d Destination) {
	p.destinations[d.Name()] = d
}

func (p *MultiPublisher) Initialize(ctx context.Context) error {
	for name, d := range p.destinations {
		if err := d.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize destination %s: %w", name, err)
		}
	}
	return nil
}

// Publish writes to every destination in the set, in order. The first
// failure aborts the whole set; refs produced so far are returned with
// the error so callers can log them, but the item counts as failed and
// republishes everywhere on retry.
func (p *MultiPublisher) Publish(ctx context.Context, pub *types.Publication, set types.DestinationSet) ([]string, error) {
	var refs []string
	for _, name := range set.Destinations {
		dest, ok := p.destinations[name]
		if !ok {
			return refs, fmt.Errorf("destination set %s references unknown destination %s", set.Name, name)
		}

		ref, err := dest.Publish(ctx, pub)
		if err != nil {
			return refs, fmt.Errorf("destination %s failed for %s: %w", name, pub.ItemKey, err)
		}

		p.logger.Debug("published item", "item", pub.ItemKey, "destination", name, "ref", ref)
		refs = append(refs, name+":"+ref)
	}

	return refs, nil
}

func (p *MultiPublisher) Shutdown(ctx context.Context) error {
	var firstErr error
	for name, d := range p.destinations {
		if err := d.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to shut down destination %s: %w", name, err)
		}
	}
	return firstErr
}
