// Package preview serves the site root over HTTP so generated folders can be
// checked locally before they are published.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/gurisko/demosite/internal/registry"
)

type Config struct {
	Root  string
	Addr  string
	Store *registry.Store
}

type Server struct {
	root      string
	addr      string
	store     *registry.Store
	server    *http.Server
	sites     *gocache.Cache // decoded registry keyed by file mtime and size
	startTime time.Time
}

func New(cfg Config) (*Server, error) {
	if cfg.Root == "" {
		return nil, errors.New("preview: root is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("preview: registry store is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	return &Server{
		root:      cfg.Root,
		addr:      cfg.Addr,
		store:     cfg.Store,
		sites:     gocache.New(time.Minute, 5*time.Minute),
		startTime: time.Now().UTC(),
	}, nil
}

// Handler returns the routes without binding a listener
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return mux
}

// ListenAndServe serves until ctx is done or SIGINT/SIGTERM arrives.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return context.Background() },
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("[INFO] preview: serving %s on http://%s", s.root, ln.Addr())
		serverErr <- s.server.Serve(ln)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		log.Printf("[INFO] preview: received signal %v, shutting down", sig)
	case <-ctx.Done():
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("preview server: %w", err)
		}
	}

	s.shutdown()
	return runErr
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Printf("[WARN] preview: shutdown error: %v", err)
	}
}

// hiddenFS refuses any path with a dot-prefixed element so .git, lock files
// and staging folders are never served
type hiddenFS struct {
	http.FileSystem
}

func isHidden(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

func (h hiddenFS) Open(name string) (http.File, error) {
	if isHidden(name) {
		return nil, fs.ErrNotExist
	}
	f, err := h.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	return hiddenFile{f}, nil
}

// hiddenFile drops dotfiles from directory listings
type hiddenFile struct {
	http.File
}

func (f hiddenFile) Readdir(n int) ([]fs.FileInfo, error) {
	infos, err := f.File.Readdir(n)
	visible := infos[:0]
	for _, fi := range infos {
		if !strings.HasPrefix(fi.Name(), ".") {
			visible = append(visible, fi)
		}
	}
	return visible, err
}
