package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
)

type healthService struct {
	Status    string   `json:"status"`
	LatencyMS *float64 `json:"latency_ms,omitempty"`
}

type healthResponse struct {
	Status   string                   `json:"status"`
	Uptime   string                   `json:"uptime"`
	Services map[string]healthService `json:"services"`
}

// HealthHandler pings every registered dependency and reports per-service
// latency. Any failing probe degrades the overall status and the response
// code flips to 503 so load balancers stop routing here.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	ctx, f := a.logRequest(r.Context(), "API.HealthHandler", r)
	defer f(&err)

	resp := healthResponse{
		Status:   "ok",
		Uptime:   time.Since(a.startedAt).Truncate(time.Second).String(),
		Services: make(map[string]healthService, len(a.probes)),
	}

	for _, p := range a.probes {
		probeCtx, cancel := context.WithTimeout(ctx, a.cfg.HealthProbeTimeout)
		start := time.Now()
		pingErr := p.Ping(probeCtx)
		cancel()

		if pingErr != nil {
			level.Warn(a.logger).Log("msg", "health probe failed", "service", p.Name, "err", pingErr)
			resp.Status = "degraded"
			resp.Services[p.Name] = healthService{Status: fmt.Sprintf("error: %s", pingErr)}
			continue
		}

		latency := float64(time.Since(start).Microseconds()) / 1000.0
		resp.Services[p.Name] = healthService{Status: "ok", LatencyMS: &latency}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	err = writeJSON(w, code, resp)
}
