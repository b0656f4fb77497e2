package config

const (
	defaultConfigPath          = "~/.config/storybook/config.toml"
	defaultDataDir             = "~/.local/share/storybook"
	defaultTemplatesDir        = "~/.local/share/storybook/templates"
	defaultJobsDir             = "~/.local/share/storybook/jobs"
	defaultUploadsDir          = "~/.local/share/storybook/uploads"
	defaultLogDir              = "~/.local/share/storybook/logs"
	defaultLogRetentionDays    = 30
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultAPIBind             = "127.0.0.1:8480"
	defaultMaxUploadMB         = 10
	defaultPreviewPages        = 4
	defaultPreviewRetention    = 7 * 24
	defaultSwapTimeoutSeconds  = 600
	defaultFanoutLimit         = 8
	defaultMatchMinDimension   = 350
	defaultSimilarityThreshold = 8.0
	defaultPaddingPercent      = 0.30
	defaultFaceSwapBaseURL     = "https://api-b.fotor.com"
	defaultFaceSwapMode        = "async"
	defaultFaceSwapSyncPath    = "/v1/aiart/faceswap/sync"
	defaultFaceSwapPoll        = 5
	defaultFaceSwapMaxPolls    = 30
	defaultFaceSwapTimeout     = 120
	defaultStylizeUploadURL    = "https://workflows-api.segmind.com/upload-asset"
	defaultStylizeGenerateURL  = "https://api.segmind.com/v1/nano-banana-pro"
	defaultStylizeTimeout      = 180
	defaultStylizePrompt       = "Transform this photo of a child into a soft, colourful children's book illustration. Keep the face shape, skin tone, hair and expression recognisable. Plain light background."
	defaultVisionBaseURL       = "http://127.0.0.1:5000"
	defaultVisionModel         = "Facenet"
	defaultVisionDetector      = "retinaface"
	defaultVisionTimeout       = 60
	defaultRenderDPI           = 150
	defaultRenderTimeout       = 300
	defaultPhotoMinDimension   = 600
	defaultPhotoMinSharpness   = 100
	defaultPhotoMinBrightness  = 40
	defaultMaxConcurrentJobs   = 2
	defaultShutdownGrace       = 30
	defaultSweepSchedule       = "@hourly"
	defaultNotifyTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			TemplatesDir: defaultTemplatesDir,
			JobsDir:      defaultJobsDir,
			UploadsDir:   defaultUploadsDir,
			LogDir:       defaultLogDir,
		},
		API: API{
			Bind:        defaultAPIBind,
			MaxUploadMB: defaultMaxUploadMB,
		},
		Pipeline: Pipeline{
			PreviewPages:          defaultPreviewPages,
			PreviewRetentionHours: defaultPreviewRetention,
			SwapTimeoutSeconds:    defaultSwapTimeoutSeconds,
			FanoutLimit:           defaultFanoutLimit,
			StylizeEnabled:        true,
		},
		Match: Match{
			MinDimension:        defaultMatchMinDimension,
			SimilarityThreshold: defaultSimilarityThreshold,
			PaddingPercent:      defaultPaddingPercent,
		},
		FaceSwap: FaceSwap{
			BaseURL:             defaultFaceSwapBaseURL,
			Mode:                defaultFaceSwapMode,
			SyncPath:            defaultFaceSwapSyncPath,
			PollIntervalSeconds: defaultFaceSwapPoll,
			MaxPolls:            defaultFaceSwapMaxPolls,
			TimeoutSeconds:      defaultFaceSwapTimeout,
		},
		Stylize: Stylize{
			UploadURL:      defaultStylizeUploadURL,
			GenerateURL:    defaultStylizeGenerateURL,
			Prompt:         defaultStylizePrompt,
			TimeoutSeconds: defaultStylizeTimeout,
		},
		Vision: Vision{
			BaseURL:         defaultVisionBaseURL,
			Model:           defaultVisionModel,
			DetectorBackend: defaultVisionDetector,
			TimeoutSeconds:  defaultVisionTimeout,
		},
		Render: Render{
			DPI:            defaultRenderDPI,
			TimeoutSeconds: defaultRenderTimeout,
		},
		Photo: Photo{
			MinDimension:  defaultPhotoMinDimension,
			MinSharpness:  defaultPhotoMinSharpness,
			MinBrightness: defaultPhotoMinBrightness,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:    defaultMaxConcurrentJobs,
			ShutdownGraceSeconds: defaultShutdownGrace,
			SweepSchedule:        defaultSweepSchedule,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			PreviewReady:   true,
			BookReady:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
