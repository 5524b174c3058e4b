// Package store persists registered devices.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"sitegate/internal/device/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
)

// InMemory is the in-memory device registry used by tests and single-node
// deployments.
type InMemory struct {
	mu      sync.RWMutex
	devices map[id.DeviceID]*models.Device
}

func NewInMemory() *InMemory {
	return &InMemory{devices: make(map[id.DeviceID]*models.Device)}
}

func cloneDevice(d *models.Device) *models.Device {
	c := *d
	c.SecretHash = slices.Clone(d.SecretHash)
	return &c
}

func (s *InMemory) Create(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[device.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	for _, existing := range s.devices {
		if existing.Name == device.Name {
			return sentinel.ErrAlreadyExists
		}
	}
	s.devices[device.ID] = cloneDevice(device)
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, deviceID id.DeviceID) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneDevice(device), nil
}

// Execute runs validate then mutate on one device under the store lock.
func (s *InMemory) Execute(ctx context.Context, deviceID id.DeviceID, validate func(*models.Device) error, mutate func(*models.Device)) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(device); err != nil {
		return nil, err
	}
	mutate(device)
	return cloneDevice(device), nil
}

func (s *InMemory) List(ctx context.Context) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Device, 0, len(s.devices))
	for _, device := range s.devices {
		out = append(out, cloneDevice(device))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
