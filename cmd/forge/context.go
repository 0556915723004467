package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"forge/internal/apiclient"
	"forge/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) apiAddress(cfg *config.Config) string {
	if c.apiFlag != nil {
		if addr := strings.TrimSpace(*c.apiFlag); addr != "" {
			return addr
		}
	}
	if cfg == nil {
		return ""
	}
	return cfg.API.Bind
}

func (c *commandContext) client() (*apiclient.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return apiclient.New(c.apiAddress(cfg), cfg.API.Token)
}

func (c *commandContext) withClient(fn func(*apiclient.Client) error) error {
	client, err := c.client()
	if err != nil {
		return wrapClientError(err, c.apiAddress(c.configValue()))
	}
	return wrapClientError(fn(client), c.apiAddress(c.configValue()))
}

func wrapClientError(err error, addr string) error {
	if err == nil {
		return nil
	}
	if apiclient.IsUnavailable(err) {
		if strings.TrimSpace(addr) == "" {
			return errors.New("connect to daemon: api.bind is empty; set it in the config file")
		}
		return fmt.Errorf("connect to daemon: nothing answered at %s; start the daemon with `forge start`", addr)
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Hint != "" {
		return fmt.Errorf("%s (hint: %s)", apiErr.Message, apiErr.Hint)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
