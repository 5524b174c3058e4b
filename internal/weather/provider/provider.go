// Package provider abstracts the upstream weather source.
package provider

import (
	"context"

	"sitegate/internal/weather/models"
	"sitegate/pkg/platform/geo"
)

// Provider fetches a current observation for a location. Implementations
// return the response body verbatim alongside the normalized reading.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, location geo.Point) (models.Observation, error)
}
