package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"birthday_bot/registry"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		serverURL string
		asJSON    bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pool health of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}
				serverURL = baseURL(cfg.Server.Addr)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, raw, err := fetchStatus(ctx, serverURL)
			if err != nil {
				return err
			}
			if asJSON {
				fprintf(opts.stdout, "%s\n", raw)
				return nil
			}
			printStatus(opts.stdout, st)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "Server base URL, defaults to server.addr on localhost")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON status")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

// baseURL turns a listen address into a URL a local client can reach.
func baseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func fetchStatus(ctx context.Context, url string) (registry.Status, []byte, error) {
	var st registry.Status
	resp, err := resty.New().
		SetBaseURL(strings.TrimRight(url, "/")).
		SetHeader("Accept", "application/json").
		R().
		SetContext(ctx).
		Get("/status")
	if err != nil {
		return st, nil, fmt.Errorf("query status: %w", err)
	}
	if resp.IsError() {
		return st, nil, fmt.Errorf("query status: %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	if err := json.Unmarshal(resp.Body(), &st); err != nil {
		return st, nil, fmt.Errorf("decode status: %w", err)
	}
	return st, resp.Body(), nil
}
