package vram

import "context"

// Residency is the lifecycle state of a pipeline slot in device memory.
type Residency string

const (
	ResidencyUnloaded  Residency = "unloaded"
	ResidencyLoading   Residency = "loading"
	ResidencyLoaded    Residency = "loaded"
	ResidencyUnloading Residency = "unloading"
)

// Slot is a heavy, independently loadable inference component whose device
// residency is managed as a unit. Implementations wrap the real model
// runtimes; the manager is the only caller of these methods.
type Slot interface {
	// Load makes the component resident in device memory, restoring from
	// host memory when it was previously offloaded.
	Load(ctx context.Context) error
	// MoveToHost offloads the component to host memory so a later Load is
	// cheap.
	MoveToHost(ctx context.Context) error
	// Release frees the component entirely; the next Load pays full cost.
	Release(ctx context.Context) error
	// FootprintMB is the approximate device memory the component needs.
	FootprintMB() int
}

// MemoryInfo is a point-in-time view of device memory.
type MemoryInfo struct {
	AllocatedMB int `json:"allocated_mb"`
	FreeMB      int `json:"free_mb"`
	TotalMB     int `json:"total_mb"`
}

// Device exposes the memory primitives of the accelerator the manager
// budgets.
type Device interface {
	MemoryInfo() MemoryInfo
	// ReclaimCache forces a device-cache reclamation pass and returns the
	// approximate MB freed.
	ReclaimCache() int
}

type slotState struct {
	name      string
	slot      Slot
	residency Residency
}
