package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"autotrader/internal/models"
	gormrepository "autotrader/internal/repository/gorm"
)

func postStrategy(t *testing.T, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := &StrategyHandler{Repo: &gormrepository.Store{}}
	h.Register(engine)

	blob, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/strategies", bytes.NewReader(blob))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestCreateStrategyRejectsNegativeTargets(t *testing.T) {
	rec := postStrategy(t, map[string]any{
		"user_id":             1,
		"asset_id":            1,
		"name":                "btc",
		"algorithm":           models.AlgoThreshold,
		"params":              map[string]float64{"threshold_low": 100, "threshold_high": 200},
		"target_min_quantity": "-1",
		"target_max_quantity": "10",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for negative target_min_quantity", rec.Code)
	}
}

func TestCreateStrategyRejectsInvertedTargets(t *testing.T) {
	rec := postStrategy(t, map[string]any{
		"user_id":             1,
		"asset_id":            1,
		"name":                "btc",
		"algorithm":           models.AlgoThreshold,
		"params":              map[string]float64{"threshold_low": 100, "threshold_high": 200},
		"target_min_quantity": "10",
		"target_max_quantity": "5",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 when min exceeds max", rec.Code)
	}
}

func TestCreateStrategyAcceptsValidTargets(t *testing.T) {
	rec := postStrategy(t, map[string]any{
		"user_id":             1,
		"asset_id":            1,
		"name":                "btc",
		"algorithm":           models.AlgoThreshold,
		"params":              map[string]float64{"threshold_low": 100, "threshold_high": 200},
		"target_min_quantity": "0",
		"target_max_quantity": "10",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}
