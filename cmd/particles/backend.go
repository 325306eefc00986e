package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/allbackends"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
)

// backendPriority orders backends from most to least preferred.
var backendPriority = []string{"vulkan", "metal", "dx12", "gles", "software", "noop"}

// platformBackends maps names to the variants registered by allbackends.
var platformBackends = map[string]gputypes.Backend{
	"vulkan": gputypes.BackendVulkan,
	"metal":  gputypes.BackendMetal,
	"dx12":   gputypes.BackendDX12,
	"gles":   gputypes.BackendGL,
}

// newBackendRegistry returns every backend usable on this platform.
func newBackendRegistry() *gpucontext.Registry[hal.Backend] {
	reg := gpucontext.NewRegistry[hal.Backend](gpucontext.WithPriority(backendPriority...))
	for name, variant := range platformBackends {
		if b, ok := hal.GetBackend(variant); ok {
			reg.Register(name, func() hal.Backend { return b })
		}
	}
	reg.Register("software", func() hal.Backend { return software.API{} })
	reg.Register("noop", func() hal.Backend { return noop.API{} })
	return reg
}

// gpuDevice is an opened device together with its owning instance.
type gpuDevice struct {
	name     string
	adapter  string
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
}

func (d *gpuDevice) Close() {
	d.device.Destroy()
	d.instance.Destroy()
}

// openBackend opens the named backend, or the best one that opens
// successfully when name is empty.
func openBackend(reg *gpucontext.Registry[hal.Backend], name string) (*gpuDevice, error) {
	if name != "" {
		if !reg.Has(name) {
			return nil, fmt.Errorf("backend %q not available (have %v)", name, reg.Available())
		}
		return openDevice(name, reg.Get(name))
	}

	var errs []error
	for _, candidate := range backendPriority {
		if !reg.Has(candidate) {
			continue
		}
		dev, err := openDevice(candidate, reg.Get(candidate))
		if err == nil {
			return dev, nil
		}
		slog.Warn("backend: unavailable, trying next", "backend", candidate, "err", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("no usable backend: %w", errors.Join(errs...))
}

func openDevice(name string, backend hal.Backend) (*gpuDevice, error) {
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("%s: create instance: %w", name, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%s: no adapters found", name)
	}

	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%s: open device: %w", name, err)
	}
	slog.Info("backend: opened", "backend", name, "adapter", selected.Info.Name)
	return &gpuDevice{
		name:     name,
		adapter:  selected.Info.Name,
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
	}, nil
}
