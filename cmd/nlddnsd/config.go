package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/haltcondition/nlddns"
)

const (
	defaultConfigPath = "/etc/nlddns/config.toml"
	defaultRecordTTL  = 300
)

type Config struct {
	Domain    string         `toml:"domain"`
	Host      string         `toml:"host"`
	Interface string         `toml:"interface"`
	TTL       int            `toml:"ttl"`
	LogLevel  string         `toml:"log_level"`
	DryRun    bool           `toml:"dry_run"`
	Provider  ProviderConfig `toml:"provider"`
}

type ProviderConfig struct {
	Cloudflare *CloudflareConfig `toml:"cloudflare,omitempty"`
	Gandi      *GandiConfig      `toml:"gandi,omitempty"`
}

type CloudflareConfig struct {
	APIToken string `toml:"api_token"`
}

type GandiConfig struct {
	APIKey              string `toml:"api_key"`
	PersonalAccessToken string `toml:"personal_access_token"`
}

// configPath resolves the config file location: the -conf flag wins,
// then $NLDDNS_CONFIG, then the packaged default.
func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("NLDDNS_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{
		TTL:      defaultRecordTTL,
		LogLevel: "info",
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Domain == "" {
		return errors.New("domain cannot be empty")
	}
	if !strings.Contains(c.Domain, ".") {
		return errors.New("domain must have at least one dot")
	}
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Interface == "" {
		return errors.New("interface cannot be empty")
	}
	if c.TTL <= 0 {
		return errors.New("ttl must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	registered := 0
	if c.Provider.Cloudflare != nil {
		registered++
		if c.Provider.Cloudflare.APIToken == "" {
			return errors.New("provider.cloudflare: api_token cannot be empty")
		}
	}
	if c.Provider.Gandi != nil {
		registered++
		g := c.Provider.Gandi
		if g.APIKey != "" && g.PersonalAccessToken != "" {
			return errors.New("provider.gandi: set either api_key or personal_access_token, not both")
		}
		if g.APIKey == "" && g.PersonalAccessToken == "" {
			return errors.New("provider.gandi: either api_key or personal_access_token is required")
		}
	}
	switch registered {
	case 0:
		return errors.New("no provider configured")
	case 1:
	default:
		return errors.New("more than one provider configured")
	}
	return nil
}

func (c *Config) providerOption() nlddns.Option {
	switch {
	case c.Provider.Cloudflare != nil:
		return nlddns.UsingCloudflare(c.Provider.Cloudflare.APIToken, c.Domain)
	case c.Provider.Gandi != nil:
		return nlddns.UsingGandi(c.Domain, nlddns.GandiAuth{
			APIKey:              c.Provider.Gandi.APIKey,
			PersonalAccessToken: c.Provider.Gandi.PersonalAccessToken,
		})
	default:
		// validate rejects this before we get here
		return nil
	}
}
