package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"autotrader/internal/algo"
	"autotrader/internal/models"
	"autotrader/internal/repository"
	"autotrader/internal/service"
)

type StrategyHandler struct {
	Repo     repository.Repository
	Executor *service.StrategyService
	Logger   *zap.Logger
}

func (h *StrategyHandler) Register(r *gin.Engine) {
	group := r.Group("/api")
	group.GET("/strategies", h.list)
	group.POST("/strategies", h.create)
	group.POST("/strategies/:id/execute", h.execute)
	group.GET("/executions", h.listExecutions)
	group.GET("/algorithms", h.listAlgorithms)
}

func (h *StrategyHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	params := repository.ListStrategiesParams{
		Limit:   intQuery(c, "limit", 50),
		Offset:  intQuery(c, "offset", 0),
		UserID:  uintQueryPtr(c, "user_id"),
		AssetID: uintQueryPtr(c, "asset_id"),
		Status:  stringQueryPtr(c, "status"),
		OrderBy: c.Query("order_by"),
		Asc:     boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListStrategies(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

type createStrategyRequest struct {
	UserID            uint64             `json:"user_id" binding:"required"`
	AssetID           uint64             `json:"asset_id" binding:"required"`
	Name              string             `json:"name" binding:"required"`
	Algorithm         string             `json:"algorithm" binding:"required"`
	Params            map[string]float64 `json:"params"`
	CredentialID      *uint64            `json:"credential_id"`
	ExecutionMode     string             `json:"execution_mode"`
	CheckFrequency    int                `json:"check_frequency"`
	TargetMinQuantity decimal.Decimal    `json:"target_min_quantity"`
	TargetMaxQuantity decimal.Decimal    `json:"target_max_quantity"`
}

func (h *StrategyHandler) create(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	params := algo.Params{}
	for key, value := range req.Params {
		params[key] = value
	}
	if err := algo.ValidateParams(req.Algorithm, params); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.TargetMinQuantity.IsNegative() || req.TargetMaxQuantity.IsNegative() {
		Error(c, http.StatusBadRequest, "target quantities must not be negative", nil)
		return
	}
	if req.TargetMinQuantity.GreaterThan(req.TargetMaxQuantity) {
		Error(c, http.StatusBadRequest, "target_min_quantity must not exceed target_max_quantity", nil)
		return
	}
	mode := strings.TrimSpace(req.ExecutionMode)
	if mode == "" {
		mode = models.ModeSimulate
	}
	switch mode {
	case models.ModeSimulate, models.ModePaper, models.ModeLive:
	default:
		Error(c, http.StatusBadRequest, "invalid execution_mode", nil)
		return
	}
	if mode != models.ModeSimulate && req.CredentialID == nil {
		Error(c, http.StatusBadRequest, "paper and live strategies need a credential_id", nil)
		return
	}
	freq := req.CheckFrequency
	if freq <= 0 {
		freq = 60
	}

	var raw datatypes.JSON
	if len(req.Params) > 0 {
		blob, err := json.Marshal(req.Params)
		if err != nil {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		raw = blob
	}

	item := &models.Strategy{
		UserID:            req.UserID,
		AssetID:           req.AssetID,
		Name:              strings.TrimSpace(req.Name),
		Algorithm:         req.Algorithm,
		Params:            raw,
		CredentialID:      req.CredentialID,
		ExecutionMode:     mode,
		Status:            models.StrategyInactive,
		CheckFrequency:    freq,
		TargetMinQuantity: req.TargetMinQuantity,
		TargetMaxQuantity: req.TargetMaxQuantity,
		PortfolioQuantity: models.PortfolioUnknown,
	}
	if err := h.Repo.UpsertStrategy(c.Request.Context(), item); err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("strategy created",
			zap.Uint64("strategy_id", item.ID), zap.String("algorithm", item.Algorithm))
	}
	Ok(c, item, nil)
}

func (h *StrategyHandler) execute(c *gin.Context) {
	if h.Repo == nil || h.Executor == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	id := uintParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid strategy id", nil)
		return
	}
	strategy, err := h.Repo.GetStrategyByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if strategy == nil {
		Error(c, http.StatusNotFound, "strategy not found", nil)
		return
	}
	exec, err := h.Executor.ExecuteStrategy(c.Request.Context(), strategy)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, exec, nil)
}

func (h *StrategyHandler) listExecutions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	params := repository.ListExecutionsParams{
		Limit:      intQuery(c, "limit", 50),
		Offset:     intQuery(c, "offset", 0),
		StrategyID: uintQueryPtr(c, "strategy_id"),
		Signal:     stringQueryPtr(c, "signal"),
		Since:      timeQueryPtr(c, "since"),
		OrderBy:    c.Query("order_by"),
		Asc:        boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListStrategyExecutions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *StrategyHandler) listAlgorithms(c *gin.Context) {
	kinds := algo.Kinds()
	out := make([]gin.H, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, gin.H{
			"kind":           kind,
			"default_params": algo.DefaultParams(kind),
		})
	}
	Ok(c, out, nil)
}
