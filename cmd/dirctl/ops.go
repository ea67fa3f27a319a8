package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/minyanly/dirclient/internal/client"
	"github.com/minyanly/dirclient/internal/logging"
	"github.com/minyanly/dirclient/internal/metrics"
)

func requestCmd() *cobra.Command {
	var (
		method     string
		body       string
		noCache    bool
		revalidate bool
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "request <endpoint> [query...]",
		Short: "Send a one-shot request through the full pipeline",
		Long:  "Sends an arbitrary request (e.g. dirctl request /restaurants city=Brooklyn) and prints the decoded payload plus pipeline outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			query := url.Values{}
			for _, pair := range args[1:] {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("query argument %q is not key=value", pair)
				}
				query.Add(k, v)
			}

			m := strings.ToUpper(method)
			req := &client.Request{
				Method:     m,
				Endpoint:   args[0],
				Query:      query,
				Cacheable:  m == http.MethodGet && !noCache,
				Revalidate: revalidate,
				TTL:        ttl,
			}
			if body != "" {
				req.Body = json.RawMessage(body)
			}

			resp, err := c.Do(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "status=%d attempts=%d from_cache=%v elapsed=%s\n",
				resp.Status, resp.Attempts, resp.FromCache, resp.Elapsed.Round(time.Millisecond))
			if len(resp.Data) > 0 {
				var pretty any
				if err := json.Unmarshal(resp.Data, &pretty); err == nil {
					return printJSON(pretty)
				}
				fmt.Println(string(resp.Data))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&body, "body", "d", "", "JSON request body")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the response cache")
	cmd.Flags().BoolVar(&revalidate, "revalidate", false, "Force a conditional fetch against the stored validator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Cache TTL override for this response")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show client counters and circuit breaker states",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			s := c.Stats()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "requests\t%d\n", s.Requests)
			fmt.Fprintf(w, "failed\t%d\n", s.Failed)
			fmt.Fprintf(w, "cache hits\t%d\n", s.CacheHits)
			fmt.Fprintf(w, "cache misses\t%d\n", s.CacheMisses)
			fmt.Fprintf(w, "not modified\t%d\n", s.NotModified)
			fmt.Fprintf(w, "retries\t%d\n", s.Retries)
			fmt.Fprintf(w, "breaker rejected\t%d\n", s.BreakerRejected)
			fmt.Fprintf(w, "dedup joined\t%d\n", s.DedupJoined)
			fmt.Fprintf(w, "avg latency\t%dms\n", s.AvgLatencyMs)
			w.Flush()

			breakers := c.Breakers()
			if len(breakers) == 0 {
				return nil
			}
			resources := make([]string, 0, len(breakers))
			for r := range breakers {
				resources = append(resources, r)
			}
			sort.Strings(resources)

			fmt.Println()
			w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tBREAKER")
			for _, r := range resources {
				fmt.Fprintf(w, "%s\t%s\n", r, breakers[r])
			}
			return w.Flush()
		},
	}
	return cmd
}

func invalidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Invalidate cached responses whose key contains the pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.InvalidateCache(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("invalidated %d entries\n", n)
			return nil
		},
	}
	return cmd
}

func metricsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve a Prometheus scrape endpoint for the client registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Log.Format, cfg.Log.Level)

			pm := metrics.NewPrometheus("dirclient", nil)
			mux := http.NewServeMux()
			mux.Handle("/metrics", pm.Handler())

			logging.Op().Info("serving metrics", "addr", addr)
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9464", "Listen address")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Backend.AuthToken != "" {
				cfg.Backend.AuthToken = "<redacted>"
			}
			return printJSON(cfg)
		},
	}
	return cmd
}
