package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
)

// Config holds agent settings. Environment (PROPDESK_AGENT_*) is read
// first, command-line flags override it.
type Config struct {
	Server      string        `envconfig:"SERVER" default:"http://localhost:8080"`
	Email       string        `envconfig:"EMAIL"`
	Password    string        `envconfig:"PASSWORD"`
	Partition   string        `envconfig:"PARTITION" default:"persist:default"`
	Pages       []string      `envconfig:"PAGES" default:"/dashboard/units,/dashboard/bookings"`
	MetricsAddr string        `envconfig:"METRICS_ADDR"`
	LogFormat   string        `envconfig:"LOG_FORMAT" default:"text"`
	LogFile     string        `envconfig:"LOG_FILE"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	SyncTimeout time.Duration `envconfig:"SYNC_TIMEOUT" default:"2m"`
	DisableSync bool          `envconfig:"DISABLE_SYNC" default:"false"`
}

// LoadConfig reads PROPDESK_AGENT_* variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("PROPDESK_AGENT", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BindFlags registers flags on fs defaulting to the values already in cfg.
// The password is deliberately env-only.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Server, "server", c.Server, "PropDesk server base URL")
	fs.StringVar(&c.Email, "email", c.Email, "login email")
	fs.StringVar(&c.Partition, "partition", c.Partition, "session partition identifier")
	fs.StringSliceVar(&c.Pages, "pages", c.Pages, "dashboard pages to open (comma separated)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve /metrics on this address")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "also write logs to this rotated file")
	fs.DurationVar(&c.SyncTimeout, "sync-timeout", c.SyncTimeout, "hard timeout of one background sync")
	fs.BoolVar(&c.DisableSync, "no-sync", c.DisableSync, "do not run the background sync scheduler")
}

// Validate checks the settings needed by run.
func (c Config) Validate() error {
	var errs []error
	if c.Server == "" {
		errs = append(errs, errors.New("server is required"))
	}
	if c.Email == "" {
		errs = append(errs, errors.New("email is required"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("PROPDESK_AGENT_PASSWORD is required"))
	}
	if c.SyncTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync timeout must be positive, got %s", c.SyncTimeout))
	}
	return errors.Join(errs...)
}
