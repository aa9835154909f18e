package main

import (
	"log/slog"

	"kiln/internal/config"
	"kiln/internal/inference"
	"kiln/internal/vram"
	"kiln/internal/worker"
)

// defaultDeviceTotalMB sizes the simulated device: large enough for either
// heavy slot plus headroom, too small for both at once.
const defaultDeviceTotalMB = 24576

func buildVRAMManager(cfg *config.Config, logger *slog.Logger) *vram.Manager {
	device := inference.NewSimulatedDevice(defaultDeviceTotalMB)
	manager := vram.NewManager(device, vram.Options{
		ReleaseThresholdMB: cfg.GPU.ReleaseThresholdMB,
		HeadroomMB:         cfg.GPU.HeadroomMB,
	}, logger)
	manager.RegisterSlot(vram.SlotGeometry, inference.NewSimulatedSlot(vram.SlotGeometry, cfg.GPU.GeometryFootprintMB, device))
	manager.RegisterSlot(vram.SlotTexture, inference.NewSimulatedSlot(vram.SlotTexture, cfg.GPU.TextureFootprintMB, device))
	return manager
}

func registerHandlers(wk *worker.Worker, cfg *config.Config) {
	outputDir := cfg.Paths.OutputDir
	register := func(jobType, kind string) {
		wk.Register(worker.NewEngineHandler(
			jobType,
			worker.DeviceStageFor(jobType),
			&inference.SimulatedEngine{Kind: kind},
			outputDir,
		))
	}
	register(inference.JobTypeMeshGeneration, "mesh")
	register(inference.JobTypeTextureGeneration, "texture")
	register(inference.JobTypeRigAsset, "rigging")
	register(inference.JobTypeExportAsset, "export")
}
