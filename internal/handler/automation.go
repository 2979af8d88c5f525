package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"autotrader/internal/models"
	"autotrader/internal/repository"
	"autotrader/internal/service"
)

type AutomationHandler struct {
	Repo    repository.Repository
	Service *service.AutomationService
	Logger  *zap.Logger
}

func (h *AutomationHandler) Register(r *gin.Engine) {
	group := r.Group("/api/automation")
	group.POST("/start", h.setState(func(cfg *models.AutomationConfig) {
		cfg.IsActive = true
		cfg.IsPaused = false
	}))
	group.POST("/stop", h.setState(func(cfg *models.AutomationConfig) {
		cfg.IsActive = false
		cfg.IsPaused = false
	}))
	group.POST("/pause", h.setState(func(cfg *models.AutomationConfig) {
		cfg.IsPaused = true
	}))
	group.POST("/resume", h.setState(func(cfg *models.AutomationConfig) {
		cfg.IsPaused = false
	}))
	group.GET("/status", h.status)
	group.GET("/logs", h.listLogs)
	group.POST("/run", h.run)
}

type automationStateRequest struct {
	UserID           uint64 `json:"user_id" binding:"required"`
	FrequencyMinutes int    `json:"frequency_minutes"`
}

// setState loads or creates the user's config, applies the mutation,
// and persists it.
func (h *AutomationHandler) setState(apply func(cfg *models.AutomationConfig)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Repo == nil {
			Error(c, http.StatusInternalServerError, "repository unavailable", nil)
			return
		}
		var req automationStateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		cfg, err := h.Repo.GetAutomationConfig(c.Request.Context(), req.UserID)
		if err != nil {
			Error(c, http.StatusInternalServerError, err.Error(), nil)
			return
		}
		if cfg == nil {
			cfg = &models.AutomationConfig{
				UserID:            req.UserID,
				FrequencyMinutes:  60,
				AutoRefreshTokens: true,
			}
		}
		if req.FrequencyMinutes > 0 {
			cfg.FrequencyMinutes = req.FrequencyMinutes
		}
		apply(cfg)
		if err := h.Repo.UpsertAutomationConfig(c.Request.Context(), cfg); err != nil {
			Error(c, http.StatusInternalServerError, err.Error(), nil)
			return
		}
		Ok(c, cfg, nil)
	}
}

func (h *AutomationHandler) status(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	userID := uintQueryPtr(c, "user_id")
	if userID == nil {
		Error(c, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	cfg, err := h.Repo.GetAutomationConfig(c.Request.Context(), *userID)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if cfg == nil {
		Error(c, http.StatusNotFound, "no automation config", nil)
		return
	}
	Ok(c, cfg, nil)
}

func (h *AutomationHandler) listLogs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	params := repository.ListAutomationLogsParams{
		Limit:   intQuery(c, "limit", 50),
		Offset:  intQuery(c, "offset", 0),
		UserID:  uintQueryPtr(c, "user_id"),
		Status:  stringQueryPtr(c, "status"),
		Since:   timeQueryPtr(c, "since"),
		OrderBy: c.Query("order_by"),
		Asc:     boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListAutomationLogs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

type runCycleRequest struct {
	Username string `json:"username" binding:"required"`
	Force    bool   `json:"force"`
}

func (h *AutomationHandler) run(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req runCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	report, err := h.Service.RunCycleForUser(c.Request.Context(), strings.TrimSpace(req.Username), req.Force)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("manual cycle failed", zap.String("username", req.Username), zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if report == nil {
		Ok(c, gin.H{"skipped": true}, nil)
		return
	}
	Ok(c, report, nil)
}
