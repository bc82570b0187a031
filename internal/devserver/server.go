package devserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/spark-client/internal/config"
	"github.com/DoyleJ11/spark-client/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tokenTTL = time.Hour

type Server struct {
	cfg     config.DevServer
	log     *zap.Logger
	hub     *Hub
	mm      *Matchmaker
	handler http.Handler
}

// New wires the dev backend. With no database URL everything lives in
// memory.
func New(ctx context.Context, cfg config.DevServer, log *zap.Logger) (*Server, error) {
	var store Store = NewMemoryStore()
	if cfg.DatabaseURL != "" {
		gs, err := OpenGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = gs
		log.Info("using postgres store")
	}

	hub := NewHub(ctx, log.Named("hub"))
	mm := NewMatchmaker(store, hub, types.Config{
		TimeoutSeconds:      cfg.TimeoutSeconds,
		PollIntervalSeconds: cfg.PollIntervalSeconds,
	}, log.Named("matchmaker"))

	handler := SetupRoutes(Deps{
		Matchmaker: mm,
		Hub:        hub,
		Issuer:     NewIssuer(cfg.JWTSecret, tokenTTL),
		Log:        log,
		DevTokens:  cfg.Dev,
	})
	return &Server{cfg: cfg, log: log, hub: hub, mm: mm, handler: handler}, nil
}

func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is done, then drains connections and the hub.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.send(ShutdownHub{})
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
