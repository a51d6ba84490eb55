package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateGladia(); err != nil {
		return err
	}
	if err := c.validateOpenAI(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Paths.ConvertedDir == "" {
		return errors.New("paths.converted_dir must be set")
	}
	if c.Paths.ArtifactDir == "" {
		return errors.New("paths.artifact_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateGladia() error {
	if c.Gladia.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/chorus/config.toml"
		}
		return fmt.Errorf("gladia.api_key is required. Set GLADIA_API_KEY env var or edit %s (create with 'chorus config init')", defaultPath)
	}
	if c.Gladia.PollTimeoutSeconds < c.Gladia.PollIntervalSeconds {
		return errors.New("gladia.poll_timeout_seconds must be at least gladia.poll_interval_seconds")
	}
	return nil
}

func (c *Config) validateOpenAI() error {
	if c.OpenAI.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/chorus/config.toml"
		}
		return fmt.Errorf("openai.api_key is required. Set OPENAI_API_KEY env var or edit %s (create with 'chorus config init')", defaultPath)
	}
	if c.OpenAI.PollTimeoutSeconds < c.OpenAI.PollIntervalSeconds {
		return errors.New("openai.poll_timeout_seconds must be at least openai.poll_interval_seconds")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrentFiles < 1 {
		return errors.New("workflow.max_concurrent_files must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
