// Package config resolves the bridge's runtime configuration from flags,
// environment variables, and defaults, using viper as the single source of
// truth once bound.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Defaults, per spec.md §6.4 and §9's Open Question resolutions.
const (
	DefaultPort           = 12306
	DefaultWebSocketPath  = "/ws"
	DefaultIdleCutoff     = time.Hour
	DefaultSweepInterval  = 60 * time.Second
	DefaultCallTimeout    = 120 * time.Second
)

// Viper keys.
const (
	KeyPort          = "port"
	KeyWebSocketPath = "ws_path"
	KeyIdleCutoff    = "idle_cutoff"
	KeySweepInterval = "sweep_interval"
	KeyCallTimeout   = "call_timeout"
	KeyDebug         = "debug"
)

// Config is the resolved, immutable configuration for one server run.
type Config struct {
	// Port is the TCP port the HTTP surface listens on.
	Port int
	// WebSocketPath is resolved from --ws-path. The router does not read it:
	// instances always connect at "/ws".
	WebSocketPath string
	// IdleCutoff is how long a registered instance may go without activity
	// before the sweep evicts it.
	IdleCutoff time.Duration
	// SweepInterval is how often the registry scans for idle instances.
	SweepInterval time.Duration
	// CallTimeout is resolved from --call-timeout. The dispatcher does not
	// read it: tool calls use pending.DefaultToolCallTimeout (120s).
	CallTimeout time.Duration
	// Debug is resolved from --debug; no component reads it.
	Debug bool
}

// BindFlags registers the configuration flags as persistent flags on cmd,
// so subcommands such as serve inherit them, and binds them into viper,
// following the teacher's persistent-flag + viper.BindPFlag pattern.
func BindFlags(cmd *cobra.Command) error {
	cmd.PersistentFlags().Int("port", DefaultPort, "Port to listen on (overridden by CHROME_MCP_PORT/MCP_HTTP_PORT)")
	cmd.PersistentFlags().String("ws-path", DefaultWebSocketPath, "WebSocket path instances connect to")
	cmd.PersistentFlags().Duration("idle-cutoff", DefaultIdleCutoff, "Idle duration after which an instance is evicted")
	cmd.PersistentFlags().Duration("sweep-interval", DefaultSweepInterval, "How often the registry scans for idle instances")
	cmd.PersistentFlags().Duration("call-timeout", DefaultCallTimeout, "Default deadline for a tool call awaiting an instance's reply")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug mode")

	binds := map[string]string{
		KeyPort:          "port",
		KeyWebSocketPath: "ws-path",
		KeyIdleCutoff:    "idle-cutoff",
		KeySweepInterval: "sweep-interval",
		KeyCallTimeout:   "call-timeout",
		KeyDebug:         "debug",
	}
	for key, flag := range binds {
		if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", flag, err)
		}
	}
	return nil
}

// Load resolves the configuration from viper, applying the port precedence
// spec.md §6.4 requires: CHROME_MCP_PORT, then MCP_HTTP_PORT, then the
// --port flag/default.
func Load() *Config {
	viper.AutomaticEnv()
	_ = viper.BindEnv(KeyIdleCutoff, "BRIDGE_IDLE_CUTOFF")
	_ = viper.BindEnv(KeySweepInterval, "BRIDGE_SWEEP_INTERVAL")

	port := viper.GetInt(KeyPort)
	if v := viper.GetString("CHROME_MCP_PORT"); v != "" {
		if p, err := parsePort(v); err == nil {
			port = p
		}
	} else if v := viper.GetString("MCP_HTTP_PORT"); v != "" {
		if p, err := parsePort(v); err == nil {
			port = p
		}
	}

	return &Config{
		Port:          port,
		WebSocketPath: viper.GetString(KeyWebSocketPath),
		IdleCutoff:    viper.GetDuration(KeyIdleCutoff),
		SweepInterval: viper.GetDuration(KeySweepInterval),
		CallTimeout:   viper.GetDuration(KeyCallTimeout),
		Debug:         viper.GetBool(KeyDebug),
	}
}

func parsePort(s string) (int, error) {
	var p int
	_, err := fmt.Sscanf(s, "%d", &p)
	if err != nil {
		return 0, err
	}
	return p, nil
}
