package api

import (
	"context"
	"net/http"
	"time"

	"pasteward/cfg"
	"pasteward/svc/db"
	"pasteward/svc/lim"
	"pasteward/svc/render"
	"pasteward/svc/svc"
	"pasteward/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, p *svc.Paste, reg *render.Registry, hl *render.Chroma, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, c)
	s := &Server{router: r, cfg: c, db: sqlDB, rdb: rdb}
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.Mount("/debug", mw.BasicAuthMetrics(middleware.Profiler()))

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.RequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.AnomalyDetection)
		r.Use(mw.RequestMetrics)
		hdl := &Hdl{paste: p, registry: reg, cfg: c, css: hl.CSS()}
		r.Get(stylesheetPath, hdl.Stylesheet)
		r.Route("/New", func(r chi.Router) {
			r.Use(mw.LimitForm)
			r.Post("/", hdl.NewPaste(render.TypeScript))
			r.Post("/Script", hdl.NewPaste(render.TypeScript))
			r.Post("/Log", hdl.NewPaste(render.TypeLog))
			r.Post("/BBCode", hdl.NewPaste(render.TypeBBCode))
			r.Post("/Text", hdl.NewPaste(render.TypeText))
			r.Post("/Other", hdl.NewOther)
		})
		r.Route("/View/{id}", func(r chi.Router) {
			r.Get("/", hdl.View)
			r.Get("/raw", hdl.Raw)
			r.Get("/original", hdl.Original)
			r.With(mw.LimitForm).Post("/", hdl.Edit)
		})
	})
	s.httpServer = &http.Server{
		Addr:              ":" + c.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    256 * 1024,
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
