package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kiln/internal/queue"
	"kiln/internal/vram"
)

// SimulatedEngine produces deterministic placeholder artifacts while pacing
// progress callbacks, standing in for a real model backend. It lets the
// daemon run end-to-end on machines without an accelerator.
type SimulatedEngine struct {
	// Kind labels the artifacts, e.g. "mesh" or "texture".
	Kind string
	// StepDelay paces the simulated run; zero runs the steps back to back.
	StepDelay time.Duration
	// Steps is the number of progress callbacks before completion.
	Steps int
	// Fail forces a reported failure, for exercising error paths.
	Fail bool
}

// Run walks Steps progress callbacks and reports a synthetic artifact.
func (e *SimulatedEngine) Run(ctx context.Context, req Request, onProgress ProgressFunc) (Result, error) {
	steps := e.Steps
	if steps <= 0 {
		steps = 4
	}
	for i := 1; i <= steps; i++ {
		if e.StepDelay > 0 {
			select {
			case <-time.After(e.StepDelay):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if onProgress != nil {
			onProgress(float64(i)/float64(steps), fmt.Sprintf("%s step %d/%d", e.Kind, i, steps))
		}
	}

	if e.Fail {
		return Result{Success: false, Error: fmt.Sprintf("simulated %s failure", e.Kind)}, nil
	}

	assetID := req.JobID
	if fromPayload, ok := req.Payload["asset_id"].(string); ok && fromPayload != "" {
		assetID = fromPayload
	}
	name := queue.StageLabel(e.Kind)
	if fromPayload, ok := req.Payload["name"].(string); ok && fromPayload != "" {
		name = fromPayload
	}
	return Result{
		Success:   true,
		AssetID:   assetID,
		AssetName: name,
		Artifacts: map[string]any{
			"path": fmt.Sprintf("%s/%s_%s.glb", req.OutputDir, assetID, e.Kind),
		},
		Metrics: map[string]any{"steps": steps},
	}, nil
}

// SimulatedDevice is an in-process accelerator model: a fixed memory size
// with allocations tracked by the simulated slots. ReclaimCache frees a
// small synthetic cache that grows with load churn.
type SimulatedDevice struct {
	mu        sync.Mutex
	totalMB   int
	usedMB    int
	cachedMB  int
	cacheStep int
}

// NewSimulatedDevice constructs a device with the given total memory.
func NewSimulatedDevice(totalMB int) *SimulatedDevice {
	return &SimulatedDevice{totalMB: totalMB, cacheStep: 128}
}

// MemoryInfo reports the device's current memory accounting.
func (d *SimulatedDevice) MemoryInfo() vram.MemoryInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	allocated := d.usedMB + d.cachedMB
	return vram.MemoryInfo{
		AllocatedMB: allocated,
		FreeMB:      d.totalMB - allocated,
		TotalMB:     d.totalMB,
	}
}

// ReclaimCache drops the synthetic cache and returns the megabytes freed.
func (d *SimulatedDevice) ReclaimCache() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	freed := d.cachedMB
	d.cachedMB = 0
	return freed
}

func (d *SimulatedDevice) alloc(mb int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.usedMB += mb
	d.cachedMB += d.cacheStep
	if d.usedMB+d.cachedMB > d.totalMB {
		d.cachedMB = max(0, d.totalMB-d.usedMB)
	}
}

func (d *SimulatedDevice) free(mb int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.usedMB = max(0, d.usedMB-mb)
}

// SimulatedSlot models a swappable pipeline component with a fixed device
// footprint, charging and refunding the simulated device on load and
// eviction.
type SimulatedSlot struct {
	name        string
	footprintMB int
	device      *SimulatedDevice

	mu     sync.Mutex
	onDev  bool
	onHost bool
}

// NewSimulatedSlot constructs a slot bound to the given device.
func NewSimulatedSlot(name string, footprintMB int, device *SimulatedDevice) *SimulatedSlot {
	return &SimulatedSlot{name: name, footprintMB: footprintMB, device: device}
}

func (s *SimulatedSlot) FootprintMB() int { return s.footprintMB }

// Load moves the slot's weights into device memory.
func (s *SimulatedSlot) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onDev {
		return nil
	}
	s.device.alloc(s.footprintMB)
	s.onDev = true
	s.onHost = false
	return nil
}

// MoveToHost offloads the weights to host memory, keeping the next load cheap.
func (s *SimulatedSlot) MoveToHost(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.onDev {
		return nil
	}
	s.device.free(s.footprintMB)
	s.onDev = false
	s.onHost = true
	return nil
}

// Release drops the weights entirely.
func (s *SimulatedSlot) Release(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onDev {
		s.device.free(s.footprintMB)
	}
	s.onDev = false
	s.onHost = false
	return nil
}

// OnDevice reports whether the slot currently occupies device memory.
func (s *SimulatedSlot) OnDevice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onDev
}
