package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/InsereNomen/AlderSync/internal/db"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

const (
	lockFileName    = "aldersync.lock"
	shutdownTimeout = 15 * time.Second
)

var ErrRootLocked = errors.New("storage root is in use by another server")

type Server struct {
	config *Config
	server *http.Server
	svc    *Services
	flock  *flock.Flock
}

func New(ctx context.Context, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	root, err := utils.ResolvePath(config.Storage.Root)
	if err != nil {
		return nil, err
	}
	config.Storage.Root = root
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	fl := flock.New(filepath.Join(root, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock storage root: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrRootLocked, root)
	}

	database, err := db.NewSqliteDB(db.WithPath(config.dbPath()))
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("open db: %w", err)
	}

	svc, err := NewServices(ctx, config, database, nil)
	if err != nil {
		database.Close()
		fl.Unlock()
		return nil, fmt.Errorf("services: %w", err)
	}

	handler, err := SetupRoutes(svc, config)
	if err != nil {
		svc.Shutdown(ctx)
		fl.Unlock()
		return nil, err
	}

	return &Server{
		config: config,
		svc:    svc,
		flock:  fl,
		server: &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("aldersync server start", "root", s.config.Storage.Root, "blob", s.config.Blob.Backend, "auth", s.config.Auth.Enabled)
	defer slog.Info("aldersync server stop")

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.svc.Start(egCtx)
	})

	eg.Go(func() error {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		return s.Stop(context.WithoutCancel(ctx))
	})

	return eg.Wait()
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.svc.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := s.flock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock storage root: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) runHttpServer() error {
	if s.config.TLS() {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
