package metrics

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kestrel/internal/logging"
)

// StartServer serves /metrics for g, plus any extra routes, on addr in the
// background and returns a shutdown function. A non-nil tlsConfig serves
// HTTPS using its GetCertificate.
func StartServer(addr string, g prometheus.Gatherer, logger *slog.Logger, routes map[string]http.Handler, tlsConfig *tls.Config) (shutdown func(context.Context) error) {
	logger = logging.Default(logger).With("component", "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	for pattern, h := range routes {
		mux.Handle(pattern, h)
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		TLSConfig:    tlsConfig,
	}

	go func() {
		logger.Info("http server listening", "addr", server.Addr, "tls", tlsConfig != nil)
		var err error
		if tlsConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	return server.Shutdown
}
