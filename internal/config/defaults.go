package config

const (
	defaultStagingDir   = "~/.local/share/chorus/staging"
	defaultConvertedDir = "~/.local/share/chorus/converted"
	defaultArtifactDir  = "~/.local/share/chorus/artifacts"
	defaultLogDir       = "~/.local/share/chorus/logs"

	defaultGladiaBaseURL      = "https://api.gladia.io/v2"
	defaultGladiaPollInterval = 10
	defaultGladiaPollTimeout  = 1800
	defaultGladiaRequest      = 60

	defaultOpenAIBaseURL      = "https://api.openai.com/v1"
	defaultOpenAIModel        = "gpt-4o"
	defaultOpenAIPollInterval = 15
	defaultOpenAIPollTimeout  = 1200
	defaultOpenAIRequest      = 60

	defaultPollBackoffCapSeconds = 120
	defaultMaxConcurrentFiles    = 4

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:   defaultStagingDir,
			ConvertedDir: defaultConvertedDir,
			ArtifactDir:  defaultArtifactDir,
			LogDir:       defaultLogDir,
		},
		Gladia: Gladia{
			BaseURL:             defaultGladiaBaseURL,
			PollIntervalSeconds: defaultGladiaPollInterval,
			PollTimeoutSeconds:  defaultGladiaPollTimeout,
			RequestTimeout:      defaultGladiaRequest,
		},
		OpenAI: OpenAI{
			BaseURL:             defaultOpenAIBaseURL,
			Model:               defaultOpenAIModel,
			PollIntervalSeconds: defaultOpenAIPollInterval,
			PollTimeoutSeconds:  defaultOpenAIPollTimeout,
			RequestTimeout:      defaultOpenAIRequest,
		},
		Workflow: Workflow{
			PollBackoffCapSeconds: defaultPollBackoffCapSeconds,
			MaxConcurrentFiles:    defaultMaxConcurrentFiles,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
