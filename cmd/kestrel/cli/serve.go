package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kestrel/internal/blockcache"
	"kestrel/internal/cert"
	"kestrel/internal/generation"
	"kestrel/internal/logging"
	"kestrel/internal/metrics"
	"kestrel/internal/postings"
	"kestrel/internal/reverse"
	"kestrel/internal/scheduler"
)

// NewServeCommand returns the "serve" command.
func NewServeCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve queries over HTTP, following published generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				env.Config.Serve.MetricsAddr = v
			}
			if v, _ := cmd.Flags().GetString("schedule"); v != "" {
				env.Config.Build.Schedule = v
			}
			if v, _ := cmd.Flags().GetString("tls-cert"); v != "" {
				env.Config.Serve.TLSCert = v
			}
			if v, _ := cmd.Flags().GetString("tls-key"); v != "" {
				env.Config.Serve.TLSKey = v
			}
			if env.Config.Serve.MetricsAddr == "" {
				return fmt.Errorf("serve needs a listen address (--addr or serve.metricsAddr)")
			}
			if (env.Config.Serve.TLSCert == "") != (env.Config.Serve.TLSKey == "") {
				return fmt.Errorf("--tls-cert and --tls-key must be given together")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, env)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address for /query, /healthz and /metrics")
	cmd.Flags().String("schedule", "", "cron expression for periodic rebuilds")
	cmd.Flags().String("tls-cert", "", "PEM certificate; serves HTTPS together with --tls-key")
	cmd.Flags().String("tls-key", "", "PEM private key")
	return cmd
}

func serve(ctx context.Context, env *Env) error {
	logger := env.Logger.With("component", "serve")

	cache, err := blockcache.New[postings.Block](env.Config.Serve.BlockCacheSize, env.Metrics)
	if err != nil {
		return err
	}
	mgr, err := env.manager(generation.Options{Index: reverse.Options{Cache: cache}})
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	if id, err := mgr.Reload(ctx); err == nil {
		logger.Info("serving generation", "generation", id)
	} else if errors.Is(err, generation.ErrNoGeneration) {
		logger.Warn("no generation published yet")
	} else {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if env.Config.Serve.Watch {
		g.Go(func() error { return mgr.Watch(ctx) })
	}

	if env.Config.Build.Schedule != "" {
		sched, err := scheduler.New(env.Logger)
		if err != nil {
			return err
		}
		err = sched.Add("rebuild", env.Config.Build.Schedule, func(ctx context.Context) error {
			res, err := rebuild(ctx, env, mgr, true)
			if err != nil {
				return err
			}
			logger.Info("scheduled rebuild published", "generation", res.Generation, "terms", res.Stats.Terms)
			return nil
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { _ = sched.Stop() }()
	}

	var tlsConfig *tls.Config
	if env.Config.Serve.TLSCert != "" {
		certs, err := cert.Load(env.Config.Serve.TLSCert, env.Config.Serve.TLSKey, env.Logger)
		if err != nil {
			return err
		}
		tlsConfig = certs.TLSConfig()
		g.Go(func() error { return certs.Watch(ctx) })
	}

	shutdown := metrics.StartServer(env.Config.Serve.MetricsAddr, env.Registry, env.Logger, map[string]http.Handler{
		"/query":    queryHandler(env, mgr),
		"/healthz":  healthHandler(mgr),
		"/loglevel": logLevelHandler(env),
	}, tlsConfig)

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("serve stopped")
	return err
}

// healthHandler reports 200 with the served generation id, or 503 while
// nothing is published.
func healthHandler(mgr *generation.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lease, err := mgr.Current(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer lease.Release()
		_, _ = fmt.Fprintln(w, lease.ID())
	})
}

// logLevelHandler changes a component's log level at runtime:
// POST /loglevel?component=preindex&level=debug. An empty level clears the
// override. GET reports the default level.
func logLevelHandler(env *Env) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		component := r.URL.Query().Get("component")
		switch r.Method {
		case http.MethodGet:
			if component == "" {
				_, _ = fmt.Fprintln(w, env.Filter.DefaultLevel())
				return
			}
			_, _ = fmt.Fprintln(w, env.Filter.Level(component))
		case http.MethodPost:
			if component == "" {
				http.Error(w, "component is required", http.StatusBadRequest)
				return
			}
			level := r.URL.Query().Get("level")
			if level == "" {
				env.Filter.ClearLevel(component)
			} else {
				env.Filter.SetLevel(component, logging.ParseLevel(level))
			}
			_, _ = fmt.Fprintln(w, env.Filter.Level(component))
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
