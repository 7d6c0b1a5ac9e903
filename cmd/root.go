package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
)

// app carries what PersistentPreRunE loads for the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

// NewRootCommand builds a fresh command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "pilot",
		Short:         "Pilot carries out natural language tasks in a browser and on the desktop.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.config/pilot/config.yaml)")
	root.PersistentFlags().String("log-level", "", "override logger.level")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newRunCmd(a),
		newPerceiveCmd(a),
		newTranscriptCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree and reports a failure on stderr.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	defer observability.Sync()
	if err == nil {
		return nil
	}
	var taskErr *TaskError
	switch {
	case errors.Is(err, context.Canceled):
		observability.GetLogger().Warn("Interrupted")
	case errors.As(err, &taskErr):
		// The result is already printed.
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// load reads the config file, PILOT_ environment variables and flag
// overrides, then installs the logger.
func (a *app) load(cmd *cobra.Command) error {
	config.SetDefaults(a.v)
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".config", "pilot"))
		}
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}
	a.v.SetEnvPrefix("PILOT")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		a.v.Set("logger.level", f.Value.String())
	}

	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "pilot"})
		return err
	}
	observability.InitializeLogger(cfg.Logger())
	a.cfg = cfg
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded",
		zap.String("file", a.v.ConfigFileUsed()),
		zap.String("version", Version),
	)
	return nil
}
