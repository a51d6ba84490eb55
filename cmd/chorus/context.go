package main

import (
	"strings"
	"sync"

	"chorus/internal/config"
	"chorus/internal/logging"
	"chorus/internal/services/ffmpeg"
	"chorus/internal/services/gladia"
	"chorus/internal/services/openai"
	"chorus/internal/session"
	"chorus/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) withStore(fn func(*config.Config, *session.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := session.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) withSupervisor(fn func(*config.Config, *session.Store, *workflow.Supervisor) error) error {
	return c.withStore(func(cfg *config.Config, store *session.Store) error {
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			return err
		}
		supervisor := workflow.NewSupervisor(cfg, store, buildConverter(cfg), buildTranscriber(cfg), buildAnalyzer(cfg), logger)
		return fn(cfg, store, supervisor)
	})
}

func buildConverter(cfg *config.Config) *ffmpeg.Converter {
	return ffmpeg.NewConverter(ffmpeg.Config{}, cfg.FFmpegBinary())
}

func buildTranscriber(cfg *config.Config) *gladia.Client {
	return gladia.NewClient(gladia.Config{
		APIKey:         cfg.Gladia.APIKey,
		BaseURL:        cfg.Gladia.BaseURL,
		TimeoutSeconds: cfg.Gladia.RequestTimeout,
	})
}

func buildAnalyzer(cfg *config.Config) *openai.Client {
	return openai.NewClient(openai.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		TimeoutSeconds: cfg.OpenAI.RequestTimeout,
	})
}
