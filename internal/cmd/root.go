package cmd

import (
	"errors"
	"io/fs"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/observability"
)

// appName names the binary, the logger service and the metrics namespace.
const appName = "deadlinecal"

var (
	cfgFile string
	envFile string
	verbose bool

	// settings holds the layered configuration sources; commands decode it
	// once with loadConfig.
	settings *viper.Viper

	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by the main package with build information.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Publish assignment deadlines as subscribable iCalendar feeds",
	Long: `deadlinecal keeps a store of assignment deadlines and serves them as
iCalendar feeds that calendar apps can subscribe to.

Use import to load deadlines, serve to publish them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading from emitting metrics before serve sets up the
	// exporter.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./deadlinecal.yaml or ./config/deadlinecal.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment (default .env when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// initConfig loads the dotenv file, the optional config file and the
// environment into settings.
func initConfig() {
	observability.InitCLILogger(appName, verbose)
	logger := observability.CLILogger

	if err := loadEnvFile(envFile); err != nil {
		ExitWithCode(logger, foundry.ExitFileNotFound, "Failed to load env file", err)
	}

	v, err := config.New()
	if err != nil {
		ExitWithCode(logger, foundry.ExitConfigInvalid, "Failed to bind environment", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			logger.Debug("No config file found, using defaults and environment variables")
		case cfgFile != "":
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Failed to read config file", err)
		default:
			logger.Warn("Error reading config file", zap.Error(err))
		}
	} else {
		logger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	}

	bindCommandFlags(v)
	settings = v
}

// loadEnvFile loads path, or .env when path is empty. A missing default
// file is not an error.
func loadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// loadConfig decodes settings into a validated Config.
func loadConfig() (config.Config, error) {
	if settings == nil {
		v, err := config.New()
		if err != nil {
			return config.Config{}, err
		}
		settings = v
	}
	return config.Load(settings)
}
