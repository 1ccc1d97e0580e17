package handler

import (
	"encoding/json"
	"net/http"
)

// healthResponse は/healthzのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
}

// Healthz はBFF自身の生存確認に応答する。バックエンドの状態は確認しない。
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
}
