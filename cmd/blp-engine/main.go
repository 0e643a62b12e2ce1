// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the blp-engine CLI.
// Subcommands estimate random-coefficients logit demand models from a
// problem manifest, search over sigma, inspect simulation draws and manage
// stored runs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/blp-engine/internal/config"
	"github.com/pdiddy/blp-engine/internal/logging"
	"github.com/pdiddy/blp-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is loaded in PersistentPreRunE.
	cfg types.Config

	// logger writes to stderr with the configured level and format.
	logger *logrus.Logger
)

// rootCmd is the base command for the blp-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "blp-engine",
	Short: "Random-coefficients logit demand estimation",
	Long: `blp-engine estimates random-coefficients logit (BLP) demand models.

A problem manifest (YAML) names a product CSV and the columns that hold
market ids, shares, linear and nonlinear characteristics and instruments.
estimate evaluates one sigma; optimize searches over sigma. Every run is
stored in a local SQLite database that the runs subcommands read back.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded

		l, err := logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		logger = l
		if used := viper.ConfigFileUsed(); used != "" {
			logger.WithField("file", used).Debug("using config file")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./blp-engine.yaml or ~/.config/blp-engine/blp-engine.yaml)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")
	flags.String("store-dir", "runs", "directory holding runs.db")
	flags.Int("draws", 200, "number of Monte Carlo draws per market")
	flags.Uint64("seed", 0, "seed for the simulation draws")

	for key, name := range flagKeys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding --%s: %v", name, err))
		}
	}
}

// flagKeys maps config keys to the persistent flags that override them.
var flagKeys = map[string]string{
	"log.level":   "log-level",
	"log.format":  "log-format",
	"store.dir":   "store-dir",
	"draws.count": "draws",
	"draws.seed":  "seed",
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("blp-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "blp-engine"))
		}
	}

	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintln(os.Stderr, "reading config:", err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
