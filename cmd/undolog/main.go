package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nbroyles/undolog/pkg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	exitOK = iota
	exitFailure
	exitEmptyHistory
	exitNoRedo
	exitLogNotFound
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, pkg.ErrEmptyHistory):
		return exitEmptyHistory
	case errors.Is(err, pkg.ErrNoPendingRedo), errors.Is(err, pkg.ErrInvalidRedoIndex):
		return exitNoRedo
	case errors.Is(err, pkg.ErrLogNotFound):
		return exitLogNotFound
	default:
		return exitFailure
	}
}

// app carries the layered configuration shared by every command
type app struct {
	v          *viper.Viper
	configFile string
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "undolog",
		Short:         "Record, undo and redo changes to a key-value store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("data-dir", "undolog-data", "directory holding oplogs")
	flags.String("name", "default", "name of the oplog")
	flags.String("log-backend", string(pkg.LogBackendFile), "log backend: file or pebble")
	flags.String("store-backend", string(pkg.StoreBackendBadger), "store backend: badger or memory")
	flags.String("log-level", "warn", "logging level")

	if err := a.v.BindPFlags(flags); err != nil {
		log.Panicf("failed binding flags: %v", err)
	}
	a.v.SetEnvPrefix("UNDOLOG")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.createCommand(),
		a.setCommand(),
		a.getCommand(),
		a.undoCommand(),
		a.redoCommand(),
		a.redosCommand(),
		a.changesCommand(),
		a.historyCommand(),
		a.compactCommand(),
	)
	return root
}

func (a *app) init() error {
	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", a.configFile, err)
		}
	}

	level, err := log.ParseLevel(a.v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	return nil
}

func (a *app) config() pkg.Config {
	return pkg.Config{
		Name:         a.v.GetString("name"),
		DataDir:      a.v.GetString("data-dir"),
		LogBackend:   pkg.LogBackend(a.v.GetString("log-backend")),
		StoreBackend: pkg.StoreBackend(a.v.GetString("store-backend")),
	}
}

// withOpLog loads the configured oplog, runs fn and closes it
func (a *app) withOpLog(fn func(l *pkg.OpLog) error) error {
	l, err := pkg.Load(a.config())
	if err != nil {
		return err
	}

	err = fn(l)
	if cerr := l.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed closing oplog: %w", cerr)
	}
	return err
}
