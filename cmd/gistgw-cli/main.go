// Package main provides the gistgw-cli command-line tool for validating
// gateway configuration and poking a running gateway's cache endpoints.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	gistgateway "github.com/nimbus-labs/gist-gateway"
	"github.com/nimbus-labs/gist-gateway/internal/version"
	"github.com/spf13/cobra"
)

var gatewayAddr string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gistgw-cli",
		Short:         "Gist Gateway command line tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gatewayAddr, "addr", "http://localhost:8080",
		"base URL of a running gateway")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newClearCacheCmd())
	root.AddCommand(newRemoveCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			if err := gistgateway.ValidateConfigSchema(path); err != nil {
				return fmt.Errorf("schema validation: %w", err)
			}
			cfg, err := gistgateway.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := gistgateway.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Config is valid\n")
			fmt.Fprintf(out, "  Port:       %d\n", cfg.Server.Port)
			fmt.Fprintf(out, "  Cache TTL:  %s\n", cfg.Cache.TTL())
			fmt.Fprintf(out, "  Rate limit: %s\n", onOff(cfg.RateLimit != nil))
			fmt.Fprintf(out, "  Breaker:    %s\n", onOff(cfg.CircuitBreaker != nil))
			fmt.Fprintf(out, "  Audit log:  %s\n", onOff(cfg.RequestLog != nil))
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics from a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return gatewayGet(cmd.OutOrStdout(), gatewayAddr+"/cache")
		},
	}
}

func newClearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Clear the cache of a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return gatewayGet(cmd.OutOrStdout(), gatewayAddr+"/cache/clear")
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <cache-key>",
		Short: "Evict a single cache entry from a running gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, gatewayAddr+"/cache/"+args[0], nil)
			if err != nil {
				return err
			}
			resp, err := cliClient().Do(req)
			if err != nil {
				return fmt.Errorf("contacting gateway: %w", err)
			}
			defer func() {
				_ = resp.Body.Close()
			}()
			if resp.StatusCode != http.StatusNoContent {
				return fmt.Errorf("gateway answered %s", resp.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %q\n", args[0])
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gistgw-cli %s\n", version.String())
		},
	}
}

// gatewayGet fetches url from the gateway and copies the JSON body through.
func gatewayGet(out io.Writer, url string) error {
	resp, err := cliClient().Get(url)
	if err != nil {
		return fmt.Errorf("contacting gateway: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway answered %s", resp.Status)
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func cliClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
