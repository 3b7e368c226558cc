package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"birthday_bot/core"
	"birthday_bot/logging"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	serviceName     = "birthday_bot"
	serviceStopWait = 90 * time.Second
)

// program adapts serve to the service manager lifecycle.
type program struct {
	cfg    *core.Config
	logger *logging.Logger

	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		p.done <- serve(ctx, p.cfg, p.logger, serveOptions{
			stopTimeout: serviceStopWait - 10*time.Second,
			gpuMetrics:  true,
		})
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		if err != nil && !isQuietExit(err) {
			return err
		}
		return nil
	case <-time.After(serviceStopWait):
		return errors.New("timeout waiting for service to stop")
	}
}

func serviceConfig(configPath string) (*service.Config, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &service.Config{
		Name:             serviceName,
		DisplayName:      "Birthday Bot",
		Description:      "Generates birthday cards on local GPUs and serves them over HTTP",
		Arguments:        []string{"service", "run", "--config", abs},
		WorkingDirectory: workDir(abs),
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}, nil
}

// workDir is the directory relative paths in the config resolve against:
// the parent of a conf/ directory, otherwise the config's own directory.
func workDir(configPath string) string {
	dir := filepath.Dir(configPath)
	if filepath.Base(dir) == "conf" {
		return filepath.Dir(dir)
	}
	return dir
}

func newService(opts *rootOptions, prg *program) (service.Service, error) {
	cfg, err := serviceConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if prg == nil {
		prg = &program{}
	}
	s, err := service.New(prg, cfg)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return s, nil
}

func statusName(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func newServiceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the system service (systemd, launchd or Windows SCM)",
	}

	control := func(use, short, action, done string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newService(opts, nil)
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("%s service: %w", action, err)
				}
				okColor.Fprintf(opts.stdout, "Service %s\n", done)
				return nil
			},
		}
	}

	cmd.AddCommand(
		control("install", "Install as a system service", "install", "installed"),
		control("uninstall", "Remove the system service", "uninstall", "uninstalled"),
		control("start", "Start the installed service", "start", "started"),
		control("stop", "Stop the installed service", "stop", "stopped"),
		control("restart", "Restart the installed service", "restart", "restarted"),
		&cobra.Command{
			Use:   "status",
			Short: "Show whether the service is running",
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newService(opts, nil)
				if err != nil {
					return err
				}
				st, err := s.Status()
				if err != nil {
					return fmt.Errorf("service status: %w", err)
				}
				fprintf(opts.stdout, "Service is %s\n", statusName(st))
				return nil
			},
		},
		&cobra.Command{
			Use:    "run",
			Short:  "Entry point used by the service manager",
			Hidden: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := opts.load()
				if err != nil {
					return err
				}
				s, err := newService(opts, &program{cfg: cfg, logger: logger})
				if err != nil {
					return err
				}
				if err := s.Run(); err != nil {
					logger.Error("Service run failed", zap.Error(err))
					return err
				}
				return nil
			},
		},
	)
	return cmd
}
