package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fabian4/gateway-homebrew-go/internal/model"
)

func listenerPort(t *testing.T, ln net.Listener) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return port
}

// TestProber_Convergence proves property #9: after a backend transitions
// permanently from alive to dead, within one probe period the registry
// reflects it.
func TestProber_Convergence(t *testing.T) {
	var alive atomic.Bool
	alive.Store(true)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if alive.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	srv.Start()
	defer srv.Close()

	port := listenerPort(t, srv.Listener)
	routes := []model.Route{
		{
			PathPrefix: "/",
			Backends:   []model.Backend{{Name: "only", Host: "127.0.0.1", Port: port, Weight: 1}},
		},
	}
	reg := NewRegistry(routes)
	p := NewProber(reg, routes, WithInterval(20*time.Millisecond), WithTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	defer func() {
		cancel()
		<-p.Stopped()
	}()

	// Give it a cycle to observe the initial healthy state.
	time.Sleep(60 * time.Millisecond)
	if !reg.IsHealthy("/", "only") {
		t.Fatal("want healthy before transition")
	}

	alive.Store(false)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !reg.IsHealthy("/", "only") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("registry never converged to unhealthy")
}

func TestProber_UnreachableBackendIsUnhealthy(t *testing.T) {
	routes := []model.Route{
		{
			PathPrefix: "/",
			// Nothing listens here.
			Backends: []model.Backend{{Name: "dead", Host: "127.0.0.1", Port: 1, Weight: 1}},
		},
	}
	reg := NewRegistry(routes)
	p := NewProber(reg, routes, WithTimeout(200*time.Millisecond))
	p.cycle(context.Background())
	if reg.IsHealthy("/", "dead") {
		t.Fatal("want unreachable backend unhealthy")
	}
}
