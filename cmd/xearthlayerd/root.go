// Command xearthlayerd is the long-running daemon that mounts the
// on-demand orthoimagery filesystem, serves DDS texture reads through the
// synthesis pipeline, and drives the predictive prefetch coordinator off
// a flight telemetry feed. Command-line parsing, configuration-file
// loading, and the FUSE kernel driver itself are external-collaborator
// concerns; this binary only wires the already-implemented engine
// packages together and manages their lifetimes.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	log     zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "xearthlayerd",
	Short: "Mount the on-demand orthoimagery virtual filesystem and serve it to X-Plane",
	Long: `xearthlayerd mounts a union filesystem over one or more Ortho4XP scenery
packages, synthesizing DDS textures on demand as X-Plane's render thread
requests them, and prefetches ahead of the aircraft's position using live
flight telemetry.`,
	RunE: runDaemon,
}

// Execute runs the root command, exiting the process on failure the same
// way a one-shot CLI would.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)

	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "path to a YAML config file (defaults apply if omitted)")
	flags.String("mountpoint", "", "directory to mount the union filesystem at (required)")
	flags.StringSlice("source", nil, "backing scenery package root, highest-priority first; repeatable (required)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "127.0.0.1:9002", "listen address for the /metrics and /healthz HTTP endpoints")
	flags.String("telemetry-proto", "udp", "telemetry ingress: \"udp\" for a live socket, \"none\" to disable prefetch")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("xearthlayerd: failed to bind flag %q: %v", name, err))
		}
	}
	mustBind("mountpoint", "mountpoint")
	mustBind("sources", "source")
	mustBind("log-level", "log-level")
	mustBind("metrics-addr", "metrics-addr")
	mustBind("telemetry-proto", "telemetry-proto")
}

func initLogging() {
	levelStr := strings.ToLower(viper.GetString("log-level"))
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func main() {
	Execute()
}
