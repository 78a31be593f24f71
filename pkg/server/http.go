package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/NicolasHaas/gobans/pkg/crypto"
	"github.com/NicolasHaas/gobans/pkg/export"
)

// NewHTTPHandler builds the HTTP surface: /healthz, /metrics in Prometheus
// text exposition format and, when enabled, the ban-list export.
func (s *Server) NewHTTPHandler() *echo.Echo {
	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok\n")
	})
	e.GET("/metrics", s.handleMetrics)

	if s.cfg.Export.Enabled {
		var mw []echo.MiddlewareFunc
		if s.cfg.Export.Token != "" {
			mw = append(mw, bearerAuth(crypto.HashToken(s.cfg.Export.Token)))
		}
		e.GET(s.cfg.Export.Path, s.handleExport, mw...)
	}
	return e
}

// StartHTTP serves NewHTTPHandler on the configured address until the
// server shuts down. An empty address disables HTTP.
func (s *Server) StartHTTP() {
	addr := s.cfg.HTTPAddr
	if addr == "" {
		return
	}
	e := s.NewHTTPHandler()
	e.Server.ReadHeaderTimeout = 5 * time.Second

	go func() {
		s.log.Info("HTTP listening", "addr", addr, "export", s.cfg.Export.Enabled)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	}()
}

// bearerAuth requires "Authorization: Bearer <token>" whose hash equals
// wantHash.
func bearerAuth(wantHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			if !crypto.TokenMatches(token, wantHash) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return next(c)
		}
	}
}

func (s *Server) handleExport(c echo.Context) error {
	list, err := s.store.ListBans(c.Request().Context())
	if err != nil {
		s.metrics.StoreErrors.Add(1)
		s.log.Error("export: list bans", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list bans")
	}
	body := export.Text(list, s.cfg.BanMessageFormat, s.now())
	return c.String(http.StatusOK, body)
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(c echo.Context) error {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	// Write errors to the response are non-actionable.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("gobans_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("gobans_chat_events_total", "Chat lines received from the host.", "counter",
		m.ChatEvents.Load())
	write("gobans_connect_events_total", "Player connects received from the host.", "counter",
		m.ConnectEvents.Load())
	write("gobans_dropped_events_total", "Events discarded during shutdown.", "counter",
		m.DroppedEvents.Load())

	write("gobans_commands_total", "Prefixed chat commands.", "counter",
		m.Commands.Load())
	write("gobans_commands_denied_total", "Commands from unprivileged players.", "counter",
		m.CommandsDenied.Load())
	write("gobans_commands_rejected_total", "Commands refused with feedback.", "counter",
		m.CommandsRejected.Load())

	write("gobans_bans_issued_total", "Bans created.", "counter",
		m.BansIssued.Load())
	write("gobans_bans_removed_total", "Bans removed by command.", "counter",
		m.BansRemoved.Load())
	write("gobans_bans_swept_total", "Expired bans purged.", "counter",
		m.BansSwept.Load())

	write("gobans_enforcement_hits_total", "Banned players caught on connect.", "counter",
		m.EnforcementHits.Load())
	write("gobans_kicks_total", "Kicks sent to the host.", "counter",
		m.Kicks.Load())
	write("gobans_store_errors_total", "Ban store failures.", "counter",
		m.StoreErrors.Load())
	return nil
}
