// deliveryctl inspects and repairs message delivery failures and opens
// encrypted attachments from a deliverycore data directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/opd-ai/deliverycore/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// passphraseEnv names the environment variable holding the unlock passphrase.
const passphraseEnv = "DELIVERYCTL_PASSPHRASE"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

// run executes deliveryctl with args and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "deliveryctl: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "deliveryctl",
		Short:         "Resolve message delivery failures and open secure attachments",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory (overrides storage.data_dir)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newStatusCmd(opts, stdout),
		newResendCmd(opts, stdout),
		newAcceptIdentityCmd(opts, stdout),
		newAckUnregisteredCmd(opts, stdout),
		newOpenCmd(opts, stdout),
		newImportAttachmentCmd(opts, stdout),
		newWatchCmd(opts, stdout),
		newRelayCmd(opts, stdout),
		newConfigCmd(opts, stdout),
	)
	return root
}

// loadConfig resolves the configuration with flag overrides applied and
// configures logrus from it.
func loadConfig(opts *rootOptions, stderr io.Writer) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.dataDir != "" {
		cfg.Storage.DataDir = opts.dataDir
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	configureLogging(cfg.Logging, stderr)
	return cfg, nil
}

func configureLogging(l config.Logging, out io.Writer) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(out)
	if l.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}
}
