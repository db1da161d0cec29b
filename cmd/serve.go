package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/driftwatch/internal/model"
	"github.com/sells-group/driftwatch/internal/monitoring"
	"github.com/sells-group/driftwatch/internal/store"
)

var servePort int

// shutdownTimeout bounds how long in-flight requests may drain on shutdown.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only HTTP API over check history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Handler:           newRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Background alert checker over the check history.
		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitor),
			cfg.Monitor,
		)
		go checker.Run(ctx)

		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return eris.Wrap(err, "server listen")
		}

		zap.L().Info("starting server", zap.Int("port", port))
		return runServer(ctx, srv, ln)
	},
}

// runServer serves until ctx is cancelled, then drains in-flight requests on
// a fresh timeout context. The signal context is already cancelled by the
// time shutdown starts, so it cannot be the shutdown deadline.
func runServer(ctx context.Context, srv *http.Server, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server shutdown", zap.Error(err))
		}
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/checks", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		checks, err := st.ListChecks(r.Context(), store.CheckFilter{
			Status: model.CheckStatus(r.URL.Query().Get("status")),
			Limit:  limit,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, checks)
	})

	r.Get("/checks/{id}", func(w http.ResponseWriter, r *http.Request) {
		check, err := st.GetCheck(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "check not found"})
			return
		}
		writeJSON(w, http.StatusOK, check)
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		lookback, _ := strconv.Atoi(r.URL.Query().Get("lookback_hours"))
		if lookback <= 0 {
			lookback = 24
		}
		snap, err := monitoring.NewCollector(st).Collect(r.Context(), lookback)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/verdict/latest", func(w http.ResponseWriter, r *http.Request) {
		checks, err := st.ListChecks(r.Context(), store.CheckFilter{
			Status: model.CheckStatusComplete,
			Limit:  1,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if len(checks) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed checks"})
			return
		}
		writeJSON(w, http.StatusOK, checks[0])
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
