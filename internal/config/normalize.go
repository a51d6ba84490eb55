package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGladia()
	c.normalizeOpenAI()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.ConvertedDir, err = expandPath(c.Paths.ConvertedDir); err != nil {
		return fmt.Errorf("paths.converted_dir: %w", err)
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeGladia() {
	if c.Gladia.APIKey == "" {
		if value, ok := os.LookupEnv("GLADIA_API_KEY"); ok {
			c.Gladia.APIKey = strings.TrimSpace(value)
		}
	}
	c.Gladia.APIKey = strings.TrimSpace(c.Gladia.APIKey)
	c.Gladia.BaseURL = strings.TrimSpace(c.Gladia.BaseURL)
	if c.Gladia.BaseURL == "" {
		c.Gladia.BaseURL = defaultGladiaBaseURL
	}
	if c.Gladia.PollIntervalSeconds <= 0 {
		c.Gladia.PollIntervalSeconds = defaultGladiaPollInterval
	}
	if c.Gladia.PollTimeoutSeconds <= 0 {
		c.Gladia.PollTimeoutSeconds = defaultGladiaPollTimeout
	}
	if c.Gladia.RequestTimeout <= 0 {
		c.Gladia.RequestTimeout = defaultGladiaRequest
	}
}

func (c *Config) normalizeOpenAI() {
	if c.OpenAI.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.OpenAI.APIKey = strings.TrimSpace(value)
		}
	}
	c.OpenAI.APIKey = strings.TrimSpace(c.OpenAI.APIKey)
	c.OpenAI.BaseURL = strings.TrimSpace(c.OpenAI.BaseURL)
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	c.OpenAI.Model = strings.TrimSpace(c.OpenAI.Model)
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = defaultOpenAIModel
	}
	if c.OpenAI.PollIntervalSeconds <= 0 {
		c.OpenAI.PollIntervalSeconds = defaultOpenAIPollInterval
	}
	if c.OpenAI.PollTimeoutSeconds <= 0 {
		c.OpenAI.PollTimeoutSeconds = defaultOpenAIPollTimeout
	}
	if c.OpenAI.RequestTimeout <= 0 {
		c.OpenAI.RequestTimeout = defaultOpenAIRequest
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PollBackoffCapSeconds <= 0 {
		c.Workflow.PollBackoffCapSeconds = defaultPollBackoffCapSeconds
	}
	if c.Workflow.MaxConcurrentFiles <= 0 {
		c.Workflow.MaxConcurrentFiles = defaultMaxConcurrentFiles
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
