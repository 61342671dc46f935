package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/llm-governance-gateway/handlers"
	"github.com/upb/llm-governance-gateway/services/gateway"
)

func newStatusCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show provider breakers, cache and safety statistics",
		Example: `  gateway status --addr http://gateway.internal:8000 --token $ADMIN_TOKEN

  # machine-readable
  gateway status -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status gateway.Status
			if err := newAdminClient(opts).do(cmd.Context(), http.MethodGet, "/v1/status", nil, &status); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return render(out, opts.output, &status, func() error {
				return printStatus(out, &status)
			})
		},
	}
}

func printStatus(out io.Writer, status *gateway.Status) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "PROVIDER\tCONFIGURED\tSTATE\tFAILURES\tLAST FAILURE")
	for _, p := range status.Providers {
		last := "-"
		if p.LastFailureTime != nil {
			last = p.LastFailureTime.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%d/%d\t%s\n",
			p.Provider, p.Configured, colorState(p.State), p.FailureCount, p.FailureThreshold, last)
	}

	fmt.Fprintf(w, "\nCACHE\thits=%d\tmisses=%d\thit_rate=%.2f\n",
		status.Cache.Hits, status.Cache.Misses, status.Cache.HitRate)
	fmt.Fprintf(w, "SAFETY\tlevel=%s\tchecks=%d\tunsafe=%d\tjailbreak_blocks=%d\n",
		status.Safety.Level, status.Safety.Checks, status.Safety.Unsafe, status.Safety.JailbreakBlocks)
	fmt.Fprintf(w, "A/B TESTING\t%t\n", status.ABTesting)
	if a := status.Audit; a != nil {
		fmt.Fprintf(w, "AUDIT\tpending=%d/%d\twritten=%d\tfailed=%d\tdropped=%d\n",
			a.PendingEvents, a.BufferSize, a.Written, a.Failed, a.Dropped)
	}
	if kv := status.Store; kv != nil {
		fmt.Fprintf(w, "STORE\tentries=%d\thit_rate=%.2f\n", kv.Size, kv.HitRate)
	}

	return w.Flush()
}

func newCacheCmd(opts *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove all cached responses and safety results",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cleared handlers.CacheClearResponse
			if err := newAdminClient(opts).do(cmd.Context(), http.MethodDelete, "/v1/cache", nil, &cleared); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return render(out, opts.output, &cleared, func() error {
				_, err := fmt.Fprintf(out, "cleared %d responses and %d safety results\n",
					cleared.Responses, cleared.SafetyResults)
				return err
			})
		},
	})
	return cmd
}

func newPolicyCmd(opts *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the policy service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "bundle",
		Short: "List the policy modules loaded in the policy service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPolicyBundle(cmd.Context(), newAdminClient(opts), opts.output, cmd.OutOrStdout())
		},
	})
	return cmd
}

func printPolicyBundle(ctx context.Context, client *adminClient, format string, out io.Writer) error {
	var bundle map[string]any
	if err := client.do(ctx, http.MethodGet, "/v1/policies", nil, &bundle); err != nil {
		return err
	}
	if format != outputTable {
		return render(out, format, bundle, nil)
	}

	// OPA lists modules under "result" as [{"id": ..., "raw": ...}]
	modules, _ := bundle["result"].([]any)
	if len(modules) == 0 {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(bundle)
	}

	ids := make([]string, 0, len(modules))
	for _, m := range modules {
		if mod, ok := m.(map[string]any); ok {
			if id, ok := mod["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}
