// Command birthday_bot serves the birthday card generator: image
// generation, translation and voice transcription behind an HTTP API,
// plus one-shot commands for local runs and service management.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"birthday_bot/core"
	"birthday_bot/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil && !isQuietExit(err) {
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	dev        bool
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "birthday_bot",
		Short:         "Birthday card generator with GPU device pools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", core.DefaultConfigPath, "Config file (YAML, TOML or JSON)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&opts.dev, "dev", false, "Development logging (console encoder, debug level)")

	root.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newGenerateCmd(opts),
		newTranscribeCmd(opts),
		newCleanupCmd(opts),
		newConfigCmd(opts),
		newServiceCmd(opts),
	)
	return root
}

// load reads the configuration and builds the logger.
func (o *rootOptions) load() (*core.Config, *logging.Logger, error) {
	cfg, err := core.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.dev {
		cfg.Log.DevMode = true
	}
	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.DevMode,
		FilePath:    cfg.Log.File,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// exitError carries a specific process exit code. A nil err means the
// command finished cleanly but must still exit with code, as after a
// signal.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return core.ExitCodeName(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return core.ExitCodeFor(err)
}

func isQuietExit(err error) bool {
	var ee *exitError
	return errors.As(err, &ee) && ee.err == nil
}

func withExitCode(code int, err error) error {
	if code == core.ExitCodeSuccess {
		return err
	}
	return &exitError{code: code, err: err}
}

func fprintf(w io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(w, format, a...)
}
