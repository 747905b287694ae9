package main

import (
	"errors"
	"os"

	"github.com/Harinder441/daily-notes-ai/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "daily-notes",
		Short:        "Daily notes API server and offline-first sync client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newWatchCommand(),
		newTokenCommand(),
		newExportCommand(),
		newHistoryCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Write logs to a rotated file instead of stderr")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "Server SQLite database path")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("local-path", defaults.GetString("local.path"), "Device-local SQLite store path")
	cmd.PersistentFlags().String("remote-url", defaults.GetString("remote.url"), "Base URL of the daily notes API")
	cmd.PersistentFlags().String("remote-token", "", "Session token used by the sync client")
	cmd.PersistentFlags().String("user-id", "", "Optional; must match the session token user")
	cmd.PersistentFlags().Int("debounce-ms", defaults.GetInt("sync.debounce_ms"), "Quiet period before a remote save")
	cmd.PersistentFlags().Int("history-limit", defaults.GetInt("sync.history_limit"), "Number of superseded versions kept")
	cmd.PersistentFlags().Int("probe-interval-ms", defaults.GetInt("netstatus.interval_ms"), "Connectivity probe interval")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "local.path", "local-path")
	bindFlag(cmd, "remote.url", "remote-url")
	bindFlag(cmd, "remote.token", "remote-token")
	bindFlag(cmd, "user.id", "user-id")
	bindFlag(cmd, "sync.debounce_ms", "debounce-ms")
	bindFlag(cmd, "sync.history_limit", "history-limit")
	bindFlag(cmd, "netstatus.interval_ms", "probe-interval-ms")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("daily-notes")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func loadConfig() (config.AppConfig, error) {
	return config.Load(viper.GetViper())
}
