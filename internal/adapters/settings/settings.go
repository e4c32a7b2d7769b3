// Package settings loads server settings with viper. DEPLOYCTL_* environment
// variables override the TOML file, which overrides the defaults.
package settings

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/deployctl/internal/adapters/configfile"
	"github.com/spf13/viper"
)

const (
	configName = "deployctl"
	configType = "toml"
	envPrefix  = "DEPLOYCTL"

	KeyServerHost     = "server.host"
	KeyServerPort     = "server.port"
	KeyWorkspaceDir   = "workspace.dir"
	KeyConfigFilePath = "config_file.path"
	KeyProcessShell   = "process.shell"
	KeyGracePeriod    = "process.grace_period"
	KeySweepDelay     = "process.sweep_delay"
	KeySweepPattern   = "process.sweep_pattern"
	KeyAllowedOrigins = "websocket.allowed_origins"
	KeySendBuffer     = "websocket.send_buffer"
	KeyLogLevel       = "log.level"
	KeyMetricsEnabled = "metrics.enabled"

	DefaultPort         = 3001
	DefaultWorkspaceDir = "/workspace/terraform"

	minSendBuffer = 8
)

type Settings struct {
	Server     ServerSettings
	Workspace  string
	ConfigFile string
	Process    ProcessSettings
	WebSocket  WebSocketSettings
	LogLevel   string
	Metrics    bool
	// Source is the config file that was read, empty when none was found.
	Source string
}

type ServerSettings struct {
	Host string
	Port int
}

func (s ServerSettings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type ProcessSettings struct {
	Shell        string
	GracePeriod  time.Duration
	SweepDelay   time.Duration
	SweepPattern string
}

type WebSocketSettings struct {
	AllowedOrigins []string
	SendBuffer     int
}

// Load reads settings into cfg. An explicit path must exist; otherwise the
// usual search paths are tried and a missing file is not an error.
func Load(cfg *viper.Viper, path string) (Settings, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	cfg.SetConfigType(configType)
	if path != "" {
		cfg.SetConfigFile(path)
	} else {
		cfg.SetConfigName(configName)
		if homeDir, err := os.UserHomeDir(); err == nil {
			cfg.AddConfigPath(filepath.Join(homeDir, ".config", configName))
		}
		cfg.AddConfigPath(filepath.Join("/etc", configName))
	}

	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()
	if err := cfg.BindEnv(KeyServerPort, envPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Settings{}, fmt.Errorf("bind port environment: %w", err)
	}

	cfg.SetDefault(KeyServerHost, "")
	cfg.SetDefault(KeyServerPort, DefaultPort)
	cfg.SetDefault(KeyWorkspaceDir, DefaultWorkspaceDir)
	cfg.SetDefault(KeyConfigFilePath, "")
	cfg.SetDefault(KeyProcessShell, "/bin/sh")
	cfg.SetDefault(KeyGracePeriod, "3s")
	cfg.SetDefault(KeySweepDelay, "1s")
	cfg.SetDefault(KeySweepPattern, "terraform|packer|deploy.sh")
	cfg.SetDefault(KeyAllowedOrigins, []string{"*"})
	cfg.SetDefault(KeySendBuffer, 256)
	cfg.SetDefault(KeyLogLevel, "info")
	cfg.SetDefault(KeyMetricsEnabled, true)

	if err := cfg.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
	}

	s := Settings{
		Server: ServerSettings{
			Host: cfg.GetString(KeyServerHost),
			Port: cfg.GetInt(KeyServerPort),
		},
		Workspace:  cfg.GetString(KeyWorkspaceDir),
		ConfigFile: cfg.GetString(KeyConfigFilePath),
		Process: ProcessSettings{
			Shell:        cfg.GetString(KeyProcessShell),
			GracePeriod:  cfg.GetDuration(KeyGracePeriod),
			SweepDelay:   cfg.GetDuration(KeySweepDelay),
			SweepPattern: cfg.GetString(KeySweepPattern),
		},
		WebSocket: WebSocketSettings{
			AllowedOrigins: cfg.GetStringSlice(KeyAllowedOrigins),
			SendBuffer:     cfg.GetInt(KeySendBuffer),
		},
		LogLevel: cfg.GetString(KeyLogLevel),
		Metrics:  cfg.GetBool(KeyMetricsEnabled),
		Source:   cfg.ConfigFileUsed(),
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	if s.ConfigFile == "" {
		s.ConfigFile = configfile.PathForWorkspace(s.Workspace)
	}

	return s, nil
}

func (s Settings) validate() error {
	var errs []error
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s must be between 1 and 65535, got %d", KeyServerPort, s.Server.Port))
	}
	if s.Workspace == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyWorkspaceDir))
	}
	if s.Process.Shell == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyProcessShell))
	}
	if s.Process.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyGracePeriod))
	}
	if s.Process.SweepDelay < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeySweepDelay))
	}
	if s.WebSocket.SendBuffer < minSendBuffer {
		errs = append(errs, fmt.Errorf("%s must be at least %d, got %d", KeySendBuffer, minSendBuffer, s.WebSocket.SendBuffer))
	}
	return errors.Join(errs...)
}
