package runtime

import (
	"net/http"

	"github.com/drblury/predictflow/internal/runtime/jsoncodec"
	metricspkg "github.com/drblury/predictflow/internal/runtime/metrics"
)

// WorkerStats is the JSON document served on /api/stats.
type WorkerStats struct {
	Queue     string                  `json:"queue"`
	State     string                  `json:"state"`
	Connected bool                    `json:"connected"`
	Totals    metricspkg.WorkerTotals `json:"totals"`
}

// Stats returns a snapshot of the worker state and its counters.
func (s *Service) Stats() WorkerStats {
	stats := WorkerStats{
		Connected: s.broker != nil && s.broker.IsConnected(),
	}
	if s.Conf != nil {
		stats.Queue = s.Conf.RequestQueue
	}
	if s.worker != nil {
		stats.State = s.worker.State().String()
	}
	if s.metrics != nil {
		stats.Totals = s.metrics.Totals()
	}
	return stats
}

func (s *Service) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, s.Stats()); err != nil {
		s.Logger.Error("Failed to encode stats", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
