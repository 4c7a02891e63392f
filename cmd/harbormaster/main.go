package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/melih/harbormaster/internal/config"
	"github.com/melih/harbormaster/internal/logging"
)

type options struct {
	configFile string
	output     string
	v          *viper.Viper
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{v: config.New()}

	root := &cobra.Command{
		Use:           "harbormaster",
		Short:         "Converge the containers on this host to a declared list",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logging.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to the YAML configuration file")
	flags.StringVarP(&opts.output, "output", "o", "json", "report format: json or yaml")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("dev", false, "human readable development logging")
	bindFlags(opts.v, flags, map[string]string{
		"log.level":       "log-level",
		"log.development": "dev",
	})

	root.AddCommand(newApplyCmd(opts), newPlanCmd(opts), newServeCmd(opts))
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func (o *options) load() error {
	switch o.output {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}

	cfg, err := config.Load(o.v, o.configFile)
	if err != nil {
		return err
	}
	if err := logging.InitLogger(cfg.Log.Development, cfg.Log.Level); err != nil {
		return err
	}
	logging.GetLogger().Debug("configuration loaded")
	logging.GetSugaredLogger().Debugf("settings:\n%s", config.Redacted(o.v))
	o.cfg = cfg
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "harbormaster:", err)
		os.Exit(1)
	}
}
