package vram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"kiln/internal/logging"
)

// Stage names that imply a required resident slot set.
const (
	StageMesh    = "mesh"
	StageTexture = "texture"
	StageRigging = "rigging"
	StageExport  = "export"
)

// SlotGeometry and SlotTexture are the mutually exclusive heavy slots; the
// device cannot hold both at once.
const (
	SlotGeometry = "geometry"
	SlotTexture  = "texture"
)

// requiredSlots maps a stage to the slots that must be resident for it.
// Stages absent from the table require nothing resident.
var requiredSlots = map[string][]string{
	StageMesh:    {SlotGeometry},
	StageTexture: {SlotTexture},
	StageRigging: {},
	StageExport:  {},
}

// Options tunes eviction and headroom behavior.
type Options struct {
	// ReleaseThresholdMB: when device free memory is below this, eviction
	// releases slots outright instead of offloading to host memory.
	ReleaseThresholdMB int
	// HeadroomMB is the extra free memory expected beyond a slot's
	// footprint before loading it; shortfall logs a warning.
	HeadroomMB int
}

// PrepareResult reports what a Prepare call changed.
type PrepareResult struct {
	FreedMB    int    `json:"freed_mb"`
	LoadedSlot string `json:"loaded_slot,omitempty"`
}

// Status is a read-only projection of slot residencies and device memory.
type Status struct {
	Slots  map[string]Residency `json:"slots"`
	Memory MemoryInfo           `json:"memory"`
}

// Manager owns which heavy pipeline components are resident in device
// memory. No other component may assume a model is loaded without calling
// Prepare first.
type Manager struct {
	mu     sync.Mutex
	device Device
	slots  map[string]*slotState
	order  []string
	opts   Options
	logger *slog.Logger
}

// NewManager constructs a lifecycle manager over the given device.
func NewManager(device Device, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		device: device,
		slots:  make(map[string]*slotState),
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "vram"),
	}
}

// RegisterSlot adds a named slot to the managed set. Must be called before
// the manager is shared across goroutines.
func (m *Manager) RegisterSlot(name string, slot Slot) {
	m.slots[name] = &slotState{name: name, slot: slot, residency: ResidencyUnloaded}
	m.order = append(m.order, name)
}

// Prepare makes device memory ready for the named stage: every slot outside
// the stage's required set is evicted, the device cache is reclaimed, and
// the required slot is loaded if absent. Prepare is idempotent and
// best-effort; load and eviction errors are logged, and insufficient
// headroom is a warning, not a failure. A stage attempt that still finds
// too little memory fails at the inference-call boundary instead.
func (m *Manager) Prepare(ctx context.Context, stage string) PrepareResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := time.Now()
	required, known := requiredSlots[stage]
	if !known {
		m.logger.Warn("prepare for unknown stage; evicting all slots",
			logging.String(logging.FieldStage, stage))
	}
	requiredSet := make(map[string]struct{}, len(required))
	for _, name := range required {
		requiredSet[name] = struct{}{}
	}

	result := PrepareResult{}
	for _, name := range m.order {
		if _, keep := requiredSet[name]; keep {
			continue
		}
		result.FreedMB += m.evictLocked(ctx, m.slots[name])
	}

	result.FreedMB += m.device.ReclaimCache()

	for _, name := range required {
		state := m.slots[name]
		if state == nil {
			m.logger.Warn("stage requires unregistered slot",
				logging.String(logging.FieldStage, stage),
				logging.String(logging.FieldSlot, name),
			)
			continue
		}
		if state.residency == ResidencyLoaded {
			continue
		}

		info := m.device.MemoryInfo()
		needed := state.slot.FootprintMB() + m.opts.HeadroomMB
		if info.FreeMB < needed {
			m.logger.Warn("insufficient headroom for slot load",
				logging.String(logging.FieldSlot, name),
				logging.Int("free_mb", info.FreeMB),
				logging.Int("needed_mb", needed),
			)
		}

		state.residency = ResidencyLoading
		if err := state.slot.Load(ctx); err != nil {
			state.residency = ResidencyUnloaded
			m.logger.Error("slot load failed",
				logging.String(logging.FieldSlot, name),
				logging.Error(err),
			)
			continue
		}
		state.residency = ResidencyLoaded
		result.LoadedSlot = name
	}

	m.logger.Info("prepared device memory for stage",
		logging.String(logging.FieldStage, stage),
		logging.Int("freed_mb", result.FreedMB),
		logging.String(logging.FieldSlot, result.LoadedSlot),
		logging.Duration("duration", time.Since(started)),
	)
	return result
}

// UnloadAll evicts every slot and reclaims the device cache. Used before
// memory-hungry export work and at shutdown.
func (m *Manager) UnloadAll(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	freed := 0
	for _, name := range m.order {
		freed += m.evictLocked(ctx, m.slots[name])
	}
	freed += m.device.ReclaimCache()
	m.logger.Info("unloaded all slots", logging.Int("freed_mb", freed))
	return freed
}

// Status reports slot residencies and device memory.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := make(map[string]Residency, len(m.slots))
	for name, state := range m.slots {
		slots[name] = state.residency
	}
	return Status{Slots: slots, Memory: m.device.MemoryInfo()}
}

// evictLocked moves a loaded slot out of device memory. Under memory
// pressure the slot is released outright; otherwise it is offloaded to host
// memory so the next load is cheap. Errors are logged, never returned.
func (m *Manager) evictLocked(ctx context.Context, state *slotState) int {
	if state == nil || state.residency != ResidencyLoaded {
		return 0
	}

	state.residency = ResidencyUnloading
	footprint := state.slot.FootprintMB()
	pressure := m.device.MemoryInfo().FreeMB < m.opts.ReleaseThresholdMB

	var err error
	if pressure {
		err = state.slot.Release(ctx)
	} else {
		err = state.slot.MoveToHost(ctx)
	}
	if err != nil {
		m.logger.Error("slot eviction failed",
			logging.String(logging.FieldSlot, state.name),
			logging.Bool("released", pressure),
			logging.Error(err),
		)
	}
	state.residency = ResidencyUnloaded

	m.logger.Debug("slot evicted",
		logging.String(logging.FieldSlot, state.name),
		logging.Bool("released", pressure),
		logging.Int("freed_mb", footprint),
	)
	return footprint
}
