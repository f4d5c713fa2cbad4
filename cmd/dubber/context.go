package main

import (
	"os"
	"strings"
	"sync"

	"dubber/internal/config"
	"dubber/internal/daemonctl"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string
	userFlag   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag, userFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
		userFlag:   userFlag,
	}
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
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiAddress resolves the daemon API address from the flag or config.
func (c *commandContext) apiAddress() (string, error) {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return strings.TrimSpace(*c.apiFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.Paths.APIBind, nil
}

// username resolves the caller identity used for job ownership.
func (c *commandContext) username() string {
	if c.userFlag != nil && strings.TrimSpace(*c.userFlag) != "" {
		return strings.TrimSpace(*c.userFlag)
	}
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "default"
}

func (c *commandContext) client() (*daemonctl.Client, error) {
	address, err := c.apiAddress()
	if err != nil {
		return nil, err
	}
	return daemonctl.New(address, c.username()), nil
}
