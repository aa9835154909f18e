package vram

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kiln/internal/logging"
)

// fakeDevice tracks allocations made by fakeSlots.
type fakeDevice struct {
	mu       sync.Mutex
	totalMB  int
	usedMB   int
	cachedMB int
}

func (d *fakeDevice) MemoryInfo() MemoryInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	allocated := d.usedMB + d.cachedMB
	return MemoryInfo{AllocatedMB: allocated, FreeMB: d.totalMB - allocated, TotalMB: d.totalMB}
}

func (d *fakeDevice) ReclaimCache() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	freed := d.cachedMB
	d.cachedMB = 0
	return freed
}

type fakeSlot struct {
	device      *fakeDevice
	footprintMB int

	mu       sync.Mutex
	onDevice bool
	onHost   bool
	loads    int
	releases int
	offloads int
	loadErr  error
}

func (s *fakeSlot) FootprintMB() int { return s.footprintMB }

func (s *fakeSlot) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return s.loadErr
	}
	if !s.onDevice {
		s.device.mu.Lock()
		s.device.usedMB += s.footprintMB
		s.device.mu.Unlock()
	}
	s.onDevice = true
	s.onHost = false
	return nil
}

func (s *fakeSlot) MoveToHost(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offloads++
	if s.onDevice {
		s.device.mu.Lock()
		s.device.usedMB -= s.footprintMB
		s.device.mu.Unlock()
	}
	s.onDevice = false
	s.onHost = true
	return nil
}

func (s *fakeSlot) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	if s.onDevice {
		s.device.mu.Lock()
		s.device.usedMB -= s.footprintMB
		s.device.mu.Unlock()
	}
	s.onDevice = false
	s.onHost = false
	return nil
}

func newTestManager(t *testing.T, totalMB int, opts Options) (*Manager, *fakeDevice, *fakeSlot, *fakeSlot) {
	t.Helper()
	device := &fakeDevice{totalMB: totalMB}
	geometry := &fakeSlot{device: device, footprintMB: 10240}
	texture := &fakeSlot{device: device, footprintMB: 21504}

	manager := NewManager(device, opts, logging.NewNop())
	manager.RegisterSlot(SlotGeometry, geometry)
	manager.RegisterSlot(SlotTexture, texture)
	return manager, device, geometry, texture
}

func TestPrepareLoadsRequiredSlot(t *testing.T) {
	manager, _, geometry, texture := newTestManager(t, 24576, Options{HeadroomMB: 1024})
	ctx := context.Background()

	result := manager.Prepare(ctx, StageMesh)
	if result.LoadedSlot != SlotGeometry {
		t.Fatalf("loaded slot = %q, want geometry", result.LoadedSlot)
	}
	if !geometry.onDevice {
		t.Fatal("geometry slot should be on device")
	}
	if texture.onDevice {
		t.Fatal("texture slot should not be on device")
	}

	status := manager.Status()
	if status.Slots[SlotGeometry] != ResidencyLoaded {
		t.Fatalf("geometry residency = %s", status.Slots[SlotGeometry])
	}
	if status.Slots[SlotTexture] != ResidencyUnloaded {
		t.Fatalf("texture residency = %s", status.Slots[SlotTexture])
	}
}

func TestPrepareEvictsBeforeLoading(t *testing.T) {
	manager, _, geometry, texture := newTestManager(t, 24576, Options{HeadroomMB: 1024})
	ctx := context.Background()

	manager.Prepare(ctx, StageMesh)
	result := manager.Prepare(ctx, StageTexture)

	if geometry.onDevice {
		t.Fatal("geometry must be evicted before texture loads")
	}
	if !texture.onDevice {
		t.Fatal("texture should be on device")
	}
	if result.FreedMB < geometry.footprintMB {
		t.Fatalf("freed = %d MB, want at least the geometry footprint", result.FreedMB)
	}
}

func TestPrepareRoundTripReloads(t *testing.T) {
	manager, _, geometry, _ := newTestManager(t, 24576, Options{HeadroomMB: 1024})
	ctx := context.Background()

	manager.Prepare(ctx, StageMesh)
	manager.Prepare(ctx, StageTexture)
	manager.Prepare(ctx, StageMesh)

	if !geometry.onDevice {
		t.Fatal("geometry should be resident again")
	}
	if geometry.loads != 2 {
		t.Fatalf("geometry loads = %d, want 2", geometry.loads)
	}
}

func TestPrepareIsIdempotent(t *testing.T) {
	manager, _, geometry, _ := newTestManager(t, 24576, Options{HeadroomMB: 1024})
	ctx := context.Background()

	manager.Prepare(ctx, StageMesh)
	manager.Prepare(ctx, StageMesh)

	if geometry.loads != 1 {
		t.Fatalf("geometry loads = %d, want 1 (second prepare should be a no-op)", geometry.loads)
	}
}

func TestEvictionOffloadsWithoutPressure(t *testing.T) {
	manager, _, geometry, _ := newTestManager(t, 65536, Options{ReleaseThresholdMB: 4096, HeadroomMB: 1024})
	ctx := context.Background()

	manager.Prepare(ctx, StageMesh)
	manager.Prepare(ctx, StageTexture)

	if geometry.offloads != 1 || geometry.releases != 0 {
		t.Fatalf("offloads=%d releases=%d, want offload without release", geometry.offloads, geometry.releases)
	}
}

func TestEvictionReleasesUnderPressure(t *testing.T) {
	// Total barely above the geometry footprint so free memory stays under
	// the release threshold while geometry is resident.
	manager, _, geometry, _ := newTestManager(t, 12288, Options{ReleaseThresholdMB: 4096, HeadroomMB: 0})
	ctx := context.Background()

	manager.Prepare(ctx, StageMesh)
	manager.Prepare(ctx, StageTexture)

	if geometry.releases != 1 {
		t.Fatalf("releases = %d, want 1 (eviction under pressure must release)", geometry.releases)
	}
}

func TestPrepareForCPUStagesEvictsEverything(t *testing.T) {
	manager, _, geometry, texture := newTestManager(t, 65536, Options{HeadroomMB: 1024})
	ctx := context.Background()

	manager.Prepare(ctx, StageMesh)
	result := manager.Prepare(ctx, StageExport)

	if geometry.onDevice || texture.onDevice {
		t.Fatal("export stage must leave no slots resident")
	}
	if result.LoadedSlot != "" {
		t.Fatalf("loaded slot = %q, want none", result.LoadedSlot)
	}
}

func TestPrepareSurvivesLoadFailure(t *testing.T) {
	manager, _, geometry, _ := newTestManager(t, 24576, Options{HeadroomMB: 1024})
	geometry.loadErr = errors.New("weights corrupt")
	ctx := context.Background()

	result := manager.Prepare(ctx, StageMesh)
	if result.LoadedSlot != "" {
		t.Fatalf("loaded slot = %q, want none on failure", result.LoadedSlot)
	}
	if manager.Status().Slots[SlotGeometry] != ResidencyUnloaded {
		t.Fatal("failed load must return slot to unloaded")
	}
}

func TestUnloadAllFreesEverything(t *testing.T) {
	manager, device, geometry, _ := newTestManager(t, 65536, Options{HeadroomMB: 1024})
	ctx := context.Background()

	manager.Prepare(ctx, StageMesh)
	freed := manager.UnloadAll(ctx)

	if geometry.onDevice {
		t.Fatal("geometry should be unloaded")
	}
	if freed < geometry.footprintMB {
		t.Fatalf("freed = %d, want at least geometry footprint", freed)
	}
	if used := device.MemoryInfo().AllocatedMB; used != 0 {
		t.Fatalf("allocated after unload = %d MB", used)
	}
}
