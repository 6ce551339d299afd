package s3api

import (
	"encoding/json"
	"net/http"
	"time"
)

// Healthz reports process liveness for load balancers and test harnesses.
func (s *S3Gateway) Healthz(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}
