package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// BusStatus reports whether the MQTT connection is open.
type BusStatus interface {
	IsConnectionOpen() bool
}

// Pinger checks the system of record.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MirrorStatus reports how long ago the time-series mirror last failed.
type MirrorStatus interface {
	LastErrorAge() time.Duration
}

// Checker aggregates dependency state for /healthz, /readyz and gRPC health.
// Mirror may be nil when the mirror is disabled.
type Checker struct {
	Bus    BusStatus
	DB     Pinger
	Mirror MirrorStatus
	// MinErrorAge is how long the mirror must be error-free to count as ok.
	MinErrorAge time.Duration
}

type HealthStatus struct {
	Status          string  `json:"status"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	DatabaseOK      bool    `json:"database_ok"`
	MirrorOK        bool    `json:"mirror_ok"`
	LastWriteErrorS float64 `json:"last_mirror_error_age_sec,omitempty"`
}

func (c *Checker) Check(ctx context.Context) HealthStatus {
	st := HealthStatus{
		MQTTConnected: c.Bus != nil && c.Bus.IsConnectionOpen(),
		MirrorOK:      true,
	}
	if c.DB != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		st.DatabaseOK = c.DB.Ping(pctx) == nil
		cancel()
	}
	if c.Mirror != nil {
		age := c.Mirror.LastErrorAge()
		st.LastWriteErrorS = age.Seconds()
		st.MirrorOK = age > c.MinErrorAge
	}

	switch {
	case st.MQTTConnected && st.DatabaseOK && st.MirrorOK:
		st.Status = "ok"
	case st.MQTTConnected || st.DatabaseOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st
}

// Ready is true only when the bus and the database are both up. The mirror
// is best-effort and never blocks readiness.
func (c *Checker) Ready(ctx context.Context) bool {
	st := c.Check(ctx)
	return st.MQTTConnected && st.DatabaseOK
}

// HealthHandler serves /healthz. It always answers 200 with the detail.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.Check(r.Context()))
	})
}

// ReadyHandler serves /readyz: 503 until Ready.
func (c *Checker) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ready := c.Ready(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(struct {
			Ready bool `json:"ready"`
		}{Ready: ready})
	})
}

// WatchGRPC mirrors readiness into the gRPC health server until ctx ends.
func (c *Checker) WatchGRPC(ctx context.Context, hs *health.Server, every time.Duration) {
	update := func() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if c.Ready(ctx) {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus("", status)
	}
	update()

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			update()
		}
	}
}
