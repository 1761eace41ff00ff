package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	proxyscope "github.com/ghalamif/proxyscope"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "proxyscope: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "proxyscope",
		Short:         "Traffic telemetry for Xray proxy inbounds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv(proxyscope.EnvConfigPath),
		"Path to the YAML configuration file (defaults apply when empty)")

	load := func() (*proxyscope.Config, error) {
		if cfgPath == "" {
			return proxyscope.DefaultConfig(), nil
		}
		cfg, err := proxyscope.LoadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		runCmd(load),
		validateCmd(&cfgPath, load),
		snapshotCmd(),
		historyCmd(),
		endpointCmd(load),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd(load func() (*proxyscope.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the tailer, the recorder and the read API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			flow, err := proxyscope.ConfFromConfig(cfg)
			if err != nil {
				return err
			}
			return flow.Run(ctx)
		},
	}
}

func validateCmd(cfgPath *string, load func() (*proxyscope.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if *cfgPath == "" {
				return fmt.Errorf("--config is required")
			}
			if _, err := load(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good ✅\n", *cfgPath)
			return nil
		},
	}
}

func snapshotCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the current snapshot from a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if interval <= 0 {
				return printSnapshot(cmd.Context(), out, url)
			}

			ctx, stop := signalContext()
			defer stop()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			fmt.Fprintf(out, "Streaming snapshots from %s (Ctrl+C to stop)\n", url)
			for {
				if err := printSnapshot(ctx, out, url); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "snapshot error: %v\n", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:3000", "Base URL of the read API")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Refresh interval; zero prints once")
	return cmd
}

func historyCmd() *cobra.Command {
	var (
		url   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history <port>",
		Short: "Print the recorded samples of one endpoint, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q", args[0])
			}
			var samples []proxyscope.TrafficSample
			path := fmt.Sprintf("%s/api/history/%d?limit=%d", strings.TrimSuffix(url, "/"), port, limit)
			if err := getJSON(cmd.Context(), path, &samples); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tUPLINK\tDOWNLINK\tΔUP\tΔDOWN")
			for _, s := range samples {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n",
					s.Timestamp.Local().Format(time.TimeOnly), s.Uplink, s.Downlink, s.DeltaUp, s.DeltaDown)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:3000", "Base URL of the read API")
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of samples; zero uses the configured window")
	return cmd
}

func endpointCmd(load func() (*proxyscope.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Manage proxy inbounds in the proxy configuration document",
	}

	withRuntime := func(fn func(ctx context.Context, rt *proxyscope.Runtime) error) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		rt, err := proxyscope.NewRuntime(ctx, cfg, proxyscope.WithoutHTTP())
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(ctx, rt)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(ctx context.Context, rt *proxyscope.Runtime) error {
				eps, err := rt.Endpoints(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PORT\tPATH\tCLIENT")
				for _, ep := range eps {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", ep.Port, ep.Path, ep.ClientID)
				}
				return tw.Flush()
			})
		},
	}

	var path string
	add := &cobra.Command{
		Use:   "add <port>",
		Short: "Add a VLESS over WebSocket inbound",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q", args[0])
			}
			return withRuntime(func(ctx context.Context, rt *proxyscope.Runtime) error {
				ep, err := rt.AddEndpoint(ctx, port, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added port %d path %s client %s\n", ep.Port, ep.Path, ep.ClientID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&path, "path", "/", "WebSocket path")

	remove := &cobra.Command{
		Use:   "remove <port>",
		Short: "Remove an inbound and its recorded history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q", args[0])
			}
			return withRuntime(func(ctx context.Context, rt *proxyscope.Runtime) error {
				if err := rt.RemoveEndpoint(ctx, port); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed port %d\n", port)
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}

func printSnapshot(ctx context.Context, out io.Writer, url string) error {
	var snap proxyscope.SystemSnapshot
	if err := getJSON(ctx, strings.TrimSuffix(url, "/")+"/api/snapshot", &snap); err != nil {
		return err
	}

	fmt.Fprintf(out, "[%s] proxy_running=%t endpoints=%d events=%d up=%d down=%d partial=%t\n",
		snap.GeneratedAt.Local().Format(time.RFC3339),
		snap.ProxyRunning, len(snap.Endpoints), snap.EventCount,
		snap.TotalUplink, snap.TotalDownlink, snap.Partial,
	)
	if snap.EndpointsError != "" {
		fmt.Fprintf(out, "  endpoints unavailable: %s\n", snap.EndpointsError)
	}
	for _, es := range snap.Endpoints {
		state := "offline"
		if es.Online {
			state = "online"
		}
		line := fmt.Sprintf("  %d %s %s", es.Endpoint.Port, es.Endpoint.Path, state)
		if es.Latest != nil {
			line += fmt.Sprintf(" up=%d down=%d", es.Latest.Uplink, es.Latest.Downlink)
		}
		if es.HistoryErr != "" {
			line += " history_error=" + es.HistoryErr
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func getJSON(ctx context.Context, url string, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
