package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/28Pollux28/zync/pkg/config"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "zync",
	Short: "Zync team instance gateway",
	Long:  "Zync sits between CTF players and the challenge orchestrator: it finds each team's own instance, polls freshly started instances until they are reachable and tells the team how to connect.",
}

var cfgFile string

var (
	lastReload time.Time
	reloadMu   sync.Mutex
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "An error occurred: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&fixturesDir, "fixtures", "", "serve challenge.yml fixtures from memory instead of calling the orchestrator")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(challengesCmd)
	rootCmd.AddCommand(watchCmd)
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile == "" {
		zap.S().Warn("No config file specified, using defaults")
		if err := config.Load(); err != nil {
			zap.S().Fatalf("Error loading config: %v", err)
		}
		return
	}

	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		zap.S().Fatalf("Error reading config file: %v", err)
	}

	if err := config.Load(); err != nil {
		zap.S().Fatalf("Error loading config: %v", err)
	}

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		handleConfigChange(e.Name)
	})
}

func handleConfigChange(filename string) {
	reloadMu.Lock()
	defer reloadMu.Unlock()

	if time.Since(lastReload) < 500*time.Millisecond {
		return // ignore duplicate events
	}
	lastReload = time.Now()
	zap.S().Infof("Config file %s changed", filename)

	if err := config.Reload(); err != nil {
		zap.S().Errorf("Error reloading config: %v", err)
		return
	}
	zap.S().Info("Config reloaded successfully")
}
