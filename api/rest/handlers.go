package rest

import (
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
)

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// getStatus handles GET /status
func (s *Server) getStatus(c *fiber.Ctx) error {
	snap := s.source.Snapshot()

	resp := StatusResponse{
		RunID:      s.source.ID(),
		Plan:       s.source.PlanName(),
		ElapsedMs:  s.source.Elapsed().Milliseconds(),
		Timestamp:  time.Now().Format(time.RFC3339),
		Scenarios:  make(map[string]ScenarioStatus),
		Metrics:    make(map[string]MetricStatus),
		Thresholds: s.source.LatestThresholds(),
	}

	for name, st := range s.source.ScenarioStates() {
		resp.Scenarios[name] = ScenarioStatus{
			Running:             st.Running,
			ActiveVUs:           st.ActiveVUs,
			AllocatedVUs:        st.AllocatedVUs,
			TargetVUs:           st.TargetVUs,
			CompletedIterations: st.CompletedIterations,
			CurrentRate:         st.CurrentRate,
			ElapsedMs:           st.ElapsedTime.Milliseconds(),
		}
	}

	for _, name := range snap.Names() {
		series := snap.Series[name]
		if series.Sink.IsEmpty() {
			continue
		}
		values := series.Values(snap.Elapsed)
		for k, v := range values {
			// JSON has no NaN or Inf
			if math.IsNaN(v) || math.IsInf(v, 0) {
				delete(values, k)
			}
		}
		resp.Metrics[name] = MetricStatus{
			Type:     string(series.Type),
			Contains: string(series.Contains),
			Values:   values,
		}
	}

	return c.JSON(resp)
}

// getTimeline handles GET /timeline
func (s *Server) getTimeline(c *fiber.Ctx) error {
	return c.JSON(s.source.Timeline())
}
