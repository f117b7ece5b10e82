package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"vpngw/internal/api/dto"
	"vpngw/internal/domain"
	"vpngw/internal/ippool"
	"vpngw/internal/metrics"

	"github.com/charmbracelet/log"
	"golang.org/x/net/netutil"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// GatewayService is the provisioning surface exposed over HTTP.
type GatewayService interface {
	CreateGateway(ctx context.Context, commonName, ipAddress string) (*domain.Gateway, error)
	GetGateway(ctx context.Context, commonName string) (*domain.Gateway, error)
	ListGateways(ctx context.Context) ([]domain.Gateway, error)
	DeleteGateway(ctx context.Context, commonName string) error
	GetGatewayConfig(ctx context.Context, commonName string) (string, error)
	PoolStatus() ippool.Status
	Reconcile(ctx context.Context) (ippool.Status, error)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, dto.Error{Error: msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the API handler tree.
func NewRouter(service GatewayService) http.Handler {
	h := &gatewayHandlers{service: service}

	router := http.NewServeMux()
	handle := func(pattern string, fn http.HandlerFunc) {
		router.Handle(pattern, metrics.Instrument(pattern, fn))
	}

	handle("POST /gateway", h.createGateway)
	handle("GET /gateway/{commonName}", h.getGateway)
	handle("DELETE /gateway/{commonName}", h.deleteGateway)
	handle("GET /gateways", h.listGateways)
	handle("GET /gateway-config/{commonName}", h.getGatewayConfig)

	handle("GET /pool", h.getPool)
	handle("POST /pool/reconcile", h.reconcilePool)

	router.HandleFunc("GET /version", getVersion)
	router.HandleFunc("GET /healthz", healthz)
	router.Handle("GET /metrics", metrics.Handler())

	log.Debug("Routes opened")
	return enableCORS(router)
}

// OpenRoutes serves the API on port until ctx is done. At most
// maxConnections connections are accepted at once.
func OpenRoutes(ctx context.Context, port, maxConnections int, service GatewayService) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("api server listen: %w", err)
	}
	if maxConnections > 0 {
		listener = netutil.LimitListener(listener, maxConnections)
	}
	return serve(ctx, listener, NewRouter(service))
}

func serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("api server shutdown", "error", err)
		}
	}()

	log.Infof("Starting vpngw backend on %s", listener.Addr())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	<-shutdownDone
	return nil
}
