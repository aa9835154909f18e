package config

const (
	defaultOutputDir             = "~/.local/share/kiln/output"
	defaultModelDir              = "~/.local/share/kiln/models"
	defaultLogDir                = "~/.local/share/kiln/logs"
	defaultAPIBind               = "127.0.0.1:7641"
	defaultQueueMaxSize          = 100
	defaultQueueRetentionHours   = 24
	defaultQueueSweepIntervalMin = 30
	defaultGeometryFootprintMB   = 10240
	defaultTextureFootprintMB    = 21504
	defaultReleaseThresholdMB    = 4096
	defaultHeadroomMB            = 1024
	defaultOverlapDepth          = 2
	defaultPreprocessPoolSize    = 2
	defaultPreprocessTimeout     = 120
	defaultHandlerPoolSize       = 1
	defaultErrorRetryInterval    = 1
	defaultStopTimeout           = 30
	defaultHubSendTimeout        = 5
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			ModelDir:  defaultModelDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Queue: Queue{
			MaxSize:          defaultQueueMaxSize,
			RetentionHours:   defaultQueueRetentionHours,
			SweepIntervalMin: defaultQueueSweepIntervalMin,
		},
		GPU: GPU{
			GeometryFootprintMB: defaultGeometryFootprintMB,
			TextureFootprintMB:  defaultTextureFootprintMB,
			ReleaseThresholdMB:  defaultReleaseThresholdMB,
			HeadroomMB:          defaultHeadroomMB,
		},
		Worker: Worker{
			OverlapEnabled:     true,
			OverlapDepth:       defaultOverlapDepth,
			PreprocessPoolSize: defaultPreprocessPoolSize,
			PreprocessTimeout:  defaultPreprocessTimeout,
			HandlerPoolSize:    defaultHandlerPoolSize,
			ErrorRetryInterval: defaultErrorRetryInterval,
			StopTimeout:        defaultStopTimeout,
		},
		Hub: Hub{
			SendTimeout: defaultHubSendTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
