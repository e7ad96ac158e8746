package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quailyquaily/guildmind/internal/pathutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "guildmind",
		Short:         "Contextual memory and emoji descriptions for a chat bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(configPath); err != nil {
				return err
			}
			slog.SetDefault(loggerFromViper())
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.guildmind/config.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("db-dsn", "", "sqlite database path")
	pf.Bool("json", false, "print results as JSON")
	_ = viper.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("db.dsn", pf.Lookup("db-dsn"))
	_ = viper.BindPFlag("output.json", pf.Lookup("json"))

	cmd.AddCommand(
		newMemoryCmd(),
		newServerCmd(),
		newPersonalityCmd(),
		newEmojiCmd(),
		newContextCmd(),
	)
	return cmd
}

func initConfig(path string) error {
	setDefaults()
	viper.SetEnvPrefix("GUILDMIND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("anthropic_api_key", "ANTHROPIC_API_KEY")

	if path = pathutil.ExpandHomePath(path); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(pathutil.ExpandHomePath("~/.guildmind"))
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func loggerFromViper() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(viper.GetString("log.level")))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(viper.GetString("log.format")), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
