package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reva-labs/dialer-cli/internal/scheduler"
	"github.com/reva-labs/dialer-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long:  "Serves the call-status webhook that reconciles provider outcomes onto leads, and a trigger endpoint that kicks off a scheduling pass.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		router := newRouter(st, newRunner(st))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the HTTP routes. Split out from RunE so handler tests can
// exercise the router directly.
func newRouter(st store.Store, runner *scheduler.Runner) chi.Router {
	reconciler := scheduler.NewReconciler(st)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhook/call-status", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			UserID  string `json:"user_id"`
			Phone   string `json:"phone"`
			Outcome string `json:"outcome"`
			CallID  string `json:"call_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.UserID == "" || body.Phone == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and phone are required"})
			return
		}

		status, err := reconciler.Apply(req.Context(), body.UserID, body.Phone, body.Outcome)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no lead matches phone"})
				return
			}
			zap.L().Error("reconcile call outcome failed",
				zap.String("user_id", body.UserID),
				zap.String("call_id", body.CallID),
				zap.Error(err),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reconcile failed"})
			return
		}

		if body.CallID != "" {
			zap.L().Info("call outcome reconciled",
				zap.String("user_id", body.UserID),
				zap.String("call_id", body.CallID),
				zap.String("status", string(status)),
			)
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
	})

	r.Post("/trigger/run", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.UserID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
			return
		}

		// Run the pass asynchronously; the caller only needs the claim
		// acknowledged. The pass must outlive the request.
		passCtx := context.WithoutCancel(req.Context())
		go func() {
			result, err := runner.RunOnce(passCtx, body.UserID)
			if err != nil {
				zap.L().Error("triggered scheduling pass failed",
					zap.String("user_id", body.UserID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("triggered scheduling pass complete",
				zap.String("user_id", body.UserID),
				zap.Int("claimed", result.Claimed),
				zap.Int("dialed", result.Dialed),
				zap.Int("failed", result.Failed),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"user_id": body.UserID,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
