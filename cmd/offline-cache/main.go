package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/always-cache/offline-cache/internal/config"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// this is set by goreleaser
var version string

const envPrefix = "OFFLINE_CACHE"

type rootOptions struct {
	ConfigFile string
	LogLevel   string
	LogFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	if version == "" {
		version = "DEV"
	}
	opts := rootOptions{}
	cmd := &cobra.Command{
		Use:           "offline-cache",
		Short:         "Offline-first cache in front of a web app",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			viper.SetEnvPrefix(envPrefix)
			viper.AutomaticEnv()
			return setupLogging(viper.GetString("log_level"), viper.GetString("log_file"))
		},
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "debug", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "Log file to use (in addition to stdout)")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_file", cmd.PersistentFlags().Lookup("log-file"))

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newVersionsCommand())
	return cmd
}

func setupLogging(level string, logFilename string) error {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		logLevel = zerolog.DebugLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilename != "" {
		logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("cannot open log file").
				WithCause(err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()
	return nil
}

// loadConfig reads the config file and applies environment and flag overrides.
// Flags win over environment variables, which win over the file.
func loadConfig() (config.Config, error) {
	c, err := config.Load(viper.GetString("config"))
	if err != nil {
		return c, err
	}
	if viper.IsSet("origin") {
		c.Origin = viper.GetString("origin")
	}
	if viper.IsSet("origin_host") {
		c.OriginHost = viper.GetString("origin_host")
	}
	if viper.IsSet("port") {
		c.Port = viper.GetInt("port")
	}
	if viper.IsSet("store_version") {
		c.Version = viper.GetString("store_version")
	}
	if viper.IsSet("provider") {
		c.Storage.Provider = viper.GetString("provider")
	}
	if viper.IsSet("db") {
		c.Storage.Path = viper.GetString("db")
	}
	return c, nil
}

func exitCodeForError(err error) int {
	fmt.Fprintln(os.Stderr, "Error:", errorMessage(err))
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		return 2
	case errbuilder.CodeFailedPrecondition:
		return 3
	case errbuilder.CodeInternal:
		return 5
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
