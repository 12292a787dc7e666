package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kestrel/internal/generation"
)

// NewQueryCommand returns the "query" command.
func NewQueryCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Find documents containing every term of the query text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := queryRequestFromFlags(cmd, env, strings.Join(args, " "))
			if err != nil {
				return err
			}
			mgr, err := env.manager(generation.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			ctx := cmd.Context()
			lease, err := mgr.Current(ctx)
			if err != nil {
				return err
			}
			defer lease.Release()

			res, err := search(ctx, lease, req)
			if err != nil {
				return err
			}
			return printSearch(newPrinter(cmd, env.Out), res)
		},
	}
	cmd.Flags().Duration("budget", 0, "time budget for the query (0 = config)")
	cmd.Flags().Int("limit", 20, "maximum hits (0 = unlimited)")
	cmd.Flags().UintSlice("domain", nil, "only return documents in these domains")
	cmd.Flags().UintSlice("exclude-domain", nil, "never return documents in these domains")
	cmd.Flags().StringSlice("docs", nil, "only return these document ids")
	cmd.Flags().Bool("positions", false, "include per-term metadata and positions")
	addOutputFlag(cmd)
	return cmd
}

func queryRequestFromFlags(cmd *cobra.Command, env *Env, text string) (searchRequest, error) {
	req := searchRequest{Text: text, Budget: env.Config.Serve.QueryBudget}
	if v, _ := cmd.Flags().GetDuration("budget"); v > 0 {
		req.Budget = v
	}
	req.Limit, _ = cmd.Flags().GetInt("limit")
	req.Positions, _ = cmd.Flags().GetBool("positions")

	domains, _ := cmd.Flags().GetUintSlice("domain")
	excluded, _ := cmd.Flags().GetUintSlice("exclude-domain")
	var err error
	if req.Domains, err = toDomains(domains); err != nil {
		return req, err
	}
	if req.ExcludeDomains, err = toDomains(excluded); err != nil {
		return req, err
	}
	docs, _ := cmd.Flags().GetStringSlice("docs")
	req.Docs, err = parseDocs(docs)
	return req, err
}

func toDomains(vs []uint) ([]uint32, error) {
	out := make([]uint32, 0, len(vs))
	for _, v := range vs {
		if v > 1<<31-1 {
			return nil, fmt.Errorf("domain %d out of range", v)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func parseDocs(vs []string) ([]uint64, error) {
	out := make([]uint64, 0, len(vs))
	for _, v := range vs {
		id, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("document id %q: %w", v, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func printSearch(p *printer, res *searchResult) error {
	if p.structured() {
		return p.encode(res)
	}
	if len(res.Missing) > 0 {
		_, _ = fmt.Fprintf(p.w, "no matches: %s not indexed\n", strings.Join(res.Missing, ", "))
		return nil
	}
	rows := make([][]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		row := []string{
			strconv.FormatUint(h.Doc, 10),
			strconv.FormatUint(uint64(h.Domain), 10),
			strconv.FormatUint(uint64(h.Ordinal), 10),
			strconv.Itoa(h.Rank),
		}
		if h.Terms != nil {
			var parts []string
			for _, th := range h.Terms {
				parts = append(parts, fmt.Sprintf("%s@%v", th.Term, th.Positions))
			}
			row = append(row, strings.Join(parts, " "))
		}
		rows = append(rows, row)
	}
	header := []string{"DOC", "DOMAIN", "ORDINAL", "RANK"}
	if len(res.Hits) > 0 && res.Hits[0].Terms != nil {
		header = append(header, "POSITIONS")
	}
	p.table(header, rows)
	status := ""
	if res.Partial {
		status = " (partial: budget exhausted)"
	}
	_, _ = fmt.Fprintf(p.w, "\n%d hits in %s from generation %s%s\n", len(res.Hits), res.Elapsed.Round(time.Microsecond), res.Generation, status)
	return nil
}

// queryHandler serves GET /query?q=...&limit=...&domain=...&docs=...
func queryHandler(env *Env, mgr *generation.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := searchRequest{
			Text:      q.Get("q"),
			Limit:     20,
			Budget:    env.Config.Serve.QueryBudget,
			Positions: q.Get("positions") == "true",
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			req.Limit = n
		}
		if v := q.Get("budget"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				http.Error(w, "bad budget", http.StatusBadRequest)
				return
			}
			req.Budget = clampBudget(d, env.Config.Serve.QueryBudget)
		}
		var err error
		if req.Domains, err = parseDomainParams(q["domain"]); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.ExcludeDomains, err = parseDomainParams(q["exclude_domain"]); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Docs, err = parseDocs(q["docs"]); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		lease, err := mgr.Current(r.Context())
		if errors.Is(err, generation.ErrNoGeneration) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer lease.Release()

		res, err := search(r.Context(), lease, req)
		if errors.Is(err, errEmptyQuery) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			env.Logger.Warn("query failed", "component", "serve", "query", req.Text, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
}

// clampBudget bounds a client-requested budget by the server's. A zero
// server budget leaves queries unbounded.
func clampBudget(d, limit time.Duration) time.Duration {
	if limit > 0 && (d <= 0 || d > limit) {
		return limit
	}
	return d
}

func parseDomainParams(vs []string) ([]uint32, error) {
	out := make([]uint32, 0, len(vs))
	for _, v := range vs {
		d, err := strconv.ParseUint(v, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("domain %q: %w", v, err)
		}
		out = append(out, uint32(d))
	}
	return out, nil
}
