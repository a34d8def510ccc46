package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/moyuren/calendar/metrics"
	"github.com/moyuren/calendar/sched"
)

// Obtainer is the gate surface the handlers call into
type Obtainer interface {
	Obtain(ctx context.Context, dateKey string, force bool) (payload []byte, contentType string, err error)
}

// Schedules manages the per-target daily send times
type Schedules interface {
	Set(sp sched.Spec)
	Remove(target string) bool
	Specs() []sched.Spec
}

// New creates a new server instance
func New(c *Config, gate Obtainer, schedules Schedules, persist func([]sched.Spec) error) (*Server, error) {
	if gate == nil {
		return nil, errors.New("no gate provided")
	}

	return &Server{
		c: c,
		h: newHandlers(gate, schedules, persist),
	}, nil
}

// Server represents a server instance
type Server struct {
	c *Config
	h *handlers
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/calendar", s.h.Calendar).Methods("GET")
	r.HandleFunc("/schedules", s.h.ListSchedules).Methods("GET")
	r.HandleFunc("/schedules/{target}", s.h.PutSchedule).Methods("PUT")
	r.HandleFunc("/schedules/{target}", s.h.DeleteSchedule).Methods("DELETE")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.h.Healthz).Methods("GET")

	return r
}

// ListenAndServe listens for new requests and serves them
func (s *Server) ListenAndServe() {
	r := s.router()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tlsEnabled := s.c.TLS != nil && s.c.TLS.CertFile != "" && s.c.TLS.KeyFile != ""
	if !s.c.TLSOnly {
		go listenAndServe(ctx, cancel, s.c.ListenAddr, r)
	}

	if tlsEnabled {
		go listenAndServeTLS(ctx, cancel, s.c.TLSListenAddr, s.c.TLS, r)
	}

	<-ctx.Done()
}

// listenAndServe serves a plain http webserver
func listenAndServe(ctx context.Context, cancel func(), addr string, handler http.Handler) {
	defer cancel()
	addrStr := getAddrString(addr)
	log.Infof("http server listening on: http://%s\n", addrStr)
	log.Error(http.ListenAndServe(addr, handler))
}

// listenAndServeTLS serves a tls webserver
func listenAndServeTLS(ctx context.Context, cancel func(), addr string, tls *TLSConfig, handler http.Handler) {
	defer cancel()
	addrStr := getAddrString(addr)
	log.Infof("https server listening on: https://%s\n", addrStr)
	log.Error(http.ListenAndServeTLS(addr, tls.CertFile, tls.KeyFile, handler))
}

func getAddrString(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = fmt.Sprintf("0.0.0.0%s", addr)
	}
	return addr
}
