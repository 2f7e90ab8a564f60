/**
 * @description
 * The submission adapter capability interface and the closed provider
 * registry. The dispatcher treats adapters as opaque: adding an operator means
 * writing one adapter and registering it here plus its operator mapping in the
 * domain lookup table; the dispatcher itself never changes.
 */
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/fareguard/claims-service/internal/domain"
)

// ErrUnknownProvider is returned when a queue item references a provider id
// with no registered adapter.
var ErrUnknownProvider = errors.New("no adapter registered for provider")

// SubmissionAdapter drives one operator's public claim portal. Submit must
// return OK only after observing the operator's own confirmation signal; it
// must refuse to run when the payload carries no delay magnitude.
type SubmissionAdapter interface {
	ID() domain.ProviderID
	Submit(ctx context.Context, payload domain.SubmissionPayload) domain.SubmissionResult
}

// Registry is the closed set of adapters, resolved once at startup.
type Registry struct {
	adapters map[domain.ProviderID]SubmissionAdapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...SubmissionAdapter) *Registry {
	byID := make(map[domain.ProviderID]SubmissionAdapter, len(adapters))
	for _, adapter := range adapters {
		byID[adapter.ID()] = adapter
	}
	return &Registry{adapters: byID}
}

// Resolve returns the adapter for a provider id, or a typed error for unknown
// ids. Unknown is a permanent configuration failure, never a silent default.
func (r *Registry) Resolve(id domain.ProviderID) (SubmissionAdapter, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return adapter, nil
}
