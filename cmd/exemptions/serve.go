package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/diagnostics"
	"github.com/Sternrassler/nyc-exemptions/pkg/export"
	"github.com/Sternrassler/nyc-exemptions/pkg/metrics"
	"github.com/Sternrassler/nyc-exemptions/pkg/parcel"
	"github.com/Sternrassler/nyc-exemptions/pkg/repository"
	"github.com/Sternrassler/nyc-exemptions/pkg/service"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve lookups, exports and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if addr == "" {
				addr = a.cfg.ListenAddr
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newServer(a.svc, a.hub, a.cfg.AppToken != "", a.logger).routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().Str("addr", addr).Str("session", a.svc.SessionID()).Msg("Starting lookup server")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info().Msg("Shutting down lookup server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")

	return cmd
}

// server exposes one lookup session over HTTP.
type server struct {
	svc          *service.Service
	hub          *diagnostics.Hub
	tokenPresent bool
	logger       zerolog.Logger
}

func newServer(svc *service.Service, hub *diagnostics.Hub, tokenPresent bool, logger zerolog.Logger) *server {
	return &server{svc: svc, hub: hub, tokenPresent: tokenPresent, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/lookup", s.handleLookup)
	mux.HandleFunc("GET /api/year", s.handleYear)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		res service.Result
		err error
	)
	if parid := q.Get("parid"); parid != "" {
		res, err = s.svc.SearchParcel(r.Context(), parid)
	} else {
		res, err = s.svc.SearchBBL(r.Context(), q.Get("boro"), q.Get("block"), q.Get("lot"))
	}
	if err != nil {
		s.writeError(w, lookupStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) handleYear(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("year")

	var (
		view service.View
		err  error
	)
	switch raw {
	case "", "all":
		view, err = s.svc.AllYears()
	default:
		year, convErr := strconv.Atoi(raw)
		if convErr != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid year %q", raw))
			return
		}
		view, err = s.svc.SelectYear(year)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNoLookup) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, view)
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	var (
		file service.File
		err  error
	)
	if parid := r.URL.Query().Get("parid"); parid != "" {
		file, err = s.svc.ExportParcel(r.Context(), parid)
	} else {
		file, err = s.svc.Export(r.Context())
	}
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoParcel):
			s.writeError(w, http.StatusConflict, err)
		case errors.Is(err, export.ErrNoData):
			s.writeError(w, http.StatusNotFound, err)
		default:
			s.writeError(w, http.StatusBadGateway, err)
		}
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write export")
	}
}

type diagnosticsResponse struct {
	TokenPresent bool               `json:"token_present"`
	LastRequest  *diagnostics.Event `json:"last_request,omitempty"`
	CSVSources   string             `json:"csv_sources"`
}

func (s *server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	resp := diagnosticsResponse{
		TokenPresent: s.tokenPresent,
		CSVSources:   s.svc.CSVSourcesPreview(r.URL.Query().Get("parid")),
	}
	if ev, ok := s.hub.Last(); ok {
		resp.LastRequest = &ev
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func lookupStatus(err error) int {
	switch {
	case errors.Is(err, parcel.ErrInvalidParcelID),
		errors.Is(err, parcel.ErrMissingBBL),
		errors.Is(err, parcel.ErrInvalidBBL):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrSuperseded):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
