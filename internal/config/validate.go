package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateCleanup(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateWorker() error {
	if strings.TrimSpace(c.Worker.Python) == "" {
		return errors.New("worker.python must be set")
	}
	if strings.TrimSpace(c.Worker.PipelineDir) == "" {
		return errors.New("worker.pipeline_dir must be set")
	}
	if c.Worker.StopGraceSeconds <= 0 {
		return errors.New("worker.stop_grace_seconds must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxConcurrent <= 0 {
		return errors.New("queue.max_concurrent must be positive")
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if c.Discovery.MaxRefs <= 0 {
		return errors.New("discovery.max_refs must be positive")
	}
	return nil
}

func (c *Config) validateCleanup() error {
	if !c.Cleanup.Enabled {
		return nil
	}
	if c.Cleanup.RetentionDays <= 0 {
		return errors.New("cleanup.retention_days must be positive when cleanup.enabled is true")
	}
	if c.Cleanup.IntervalMinutes <= 0 {
		return errors.New("cleanup.interval_minutes must be positive when cleanup.enabled is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	if c.Notifications.MinIntervalSeconds < 0 {
		return errors.New("notifications.min_interval_seconds must not be negative")
	}
	if (c.Notifications.TelegramToken == "") != (c.Notifications.TelegramChatID == "") {
		return errors.New("notifications.telegram_token and notifications.telegram_chat_id must be set together")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}
