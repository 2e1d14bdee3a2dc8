// Package devicetest provides an in-memory device.Repository for tests
// in packages that build on the device registry.
package devicetest

import (
	"context"
	"sync"
	"time"

	"github.com/emberfield/hearth-core/internal/device"
)

// Repository is an in-memory implementation of device.Repository.
// Safe for concurrent use.
type Repository struct {
	mu      sync.Mutex
	devices map[string]*device.Device
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{devices: make(map[string]*device.Device)}
}

func (r *Repository) GetByID(_ context.Context, id string) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (r *Repository) List(_ context.Context) ([]device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices := make([]device.Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices, nil
}

func (r *Repository) Create(_ context.Context, dev *device.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[dev.ID]; exists {
		return device.ErrDeviceExists
	}
	r.devices[dev.ID] = dev.DeepCopy()
	return nil
}

func (r *Repository) Update(_ context.Context, dev *device.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[dev.ID]; !exists {
		return device.ErrDeviceNotFound
	}
	r.devices[dev.ID] = dev.DeepCopy()
	return nil
}

func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[id]; !exists {
		return device.ErrDeviceNotFound
	}
	delete(r.devices, id)
	return nil
}

func (r *Repository) UpdateProperties(_ context.Context, id string, changes device.Properties) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	if d.Properties == nil {
		d.Properties = make(device.Properties)
	}
	for k, v := range changes {
		d.Properties[k] = v
	}
	return nil
}

func (r *Repository) UpdateOnline(_ context.Context, id string, online bool, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	d.Online = online
	d.LastSeen = &lastSeen
	return nil
}
