package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/controller/http/handlers"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/app"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

type scanOptions struct {
	server    string
	callerID  string
	requestID string
	asJSON    bool
	timeout   time.Duration
}

func newScanCmd() *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan <url> [url...]",
		Short: "Scan one or more URLs and print the verdict",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner, closeFn, err := openScanner(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			for _, raw := range args {
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				result, err := scanner.ScanURL(ctx, raw, entity.CallerContext{
					RequestID: opts.requestID,
					CallerID:  opts.callerID,
				})
				cancel()
				if err != nil {
					return fmt.Errorf("scan %s: %w", raw, err)
				}
				if err := printResult(cmd.OutOrStdout(), result, opts.asJSON); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "API base URL; scans in process when empty")
	cmd.Flags().StringVar(&opts.callerID, "caller", "scanctl", "Caller id used for sticky assignment")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "Request id; repeating one returns the same result")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Per URL timeout")
	return cmd
}

// openScanner returns the remote client or an in-process engine
func openScanner(ctx context.Context, opts scanOptions) (handlers.Scanner, func(), error) {
	if opts.server != "" {
		return &remoteScanner{baseURL: strings.TrimSuffix(opts.server, "/"), client: &http.Client{Timeout: opts.timeout}}, func() {}, nil
	}

	engine, cfg, err := openEngine(ctx)
	if err != nil {
		return nil, nil, err
	}
	engine.Run(ctx)
	return engine.Scan, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Scan.ShadowTimeout+time.Second)
		defer cancel()
		_ = engine.Close(closeCtx)
	}, nil
}

func openEngine(ctx context.Context) (*app.App, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.IsDevelopment() {
		logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	// the CLI never writes to the result store
	engine, err := app.New(ctx, cfg, logger, app.Options{SkipStore: true})
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}

// remoteScanner calls POST /api/v1/scan on a running API
type remoteScanner struct {
	baseURL string
	client  *http.Client
}

func (s *remoteScanner) ScanURL(ctx context.Context, raw string, caller entity.CallerContext) (*entity.ScanResult, error) {
	body, err := json.Marshal(handlers.ScanRequest{URL: raw, CallerID: caller.CallerID, RequestID: caller.RequestID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/scan", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		if apiErr.Details != "" {
			return nil, fmt.Errorf("server returned %d: %s: %s", resp.StatusCode, apiErr.Error, apiErr.Details)
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	var result entity.ScanResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func printResult(w io.Writer, r *entity.ScanResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "%s\n", r.URL)
	fmt.Fprintf(w, "  verdict:     %s (p=%.3f, ci=[%.3f, %.3f])\n", r.Verdict, r.Probability, r.Interval.Lower, r.Interval.Upper)
	fmt.Fprintf(w, "  path:        %s (config v%d)\n", r.Path, r.ConfigVersion)
	fmt.Fprintf(w, "  request:     %s\n", r.RequestID)
	fmt.Fprintf(w, "  latency:     %s\n", r.Latency)
	if r.Degraded {
		fmt.Fprintf(w, "  degraded:    %s\n", strings.Join(degradedFlags(r.Flags), ", "))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NODE\tKIND\tWEIGHT\tSCORE\tCONTRIBUTION")
	for _, n := range r.Graph.Nodes {
		fmt.Fprintf(tw, "  %s\t%s\t%.3f\t%.3f\t%.3f\n", n.SourceID, n.Kind, n.Weight, n.Score, n.Contribution)
	}
	return tw.Flush()
}

func degradedFlags(f entity.DegradedFlags) []string {
	set := map[string]bool{
		"stage1_degraded":     f.Stage1Degraded,
		"stage1_insufficient": f.Stage1Insufficient,
		"stage2_skipped":      f.Stage2Skipped,
		"cache_degraded":      f.CacheDegraded,
		"model_fallback":      f.ModelFallback,
		"low_confidence":      f.LowConfidence,
	}
	var out []string
	for name, on := range set {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
