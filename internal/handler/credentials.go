package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"autotrader/internal/broker/saxo"
	"autotrader/internal/config"
	"autotrader/internal/models"
	"autotrader/internal/repository"
	"autotrader/internal/service"
)

type CredentialHandler struct {
	Repo    repository.Repository
	Tokens  *service.TokenRefreshService
	Broker  config.BrokerConfig
	Logger  *zap.Logger
}

func (h *CredentialHandler) Register(r *gin.Engine) {
	group := r.Group("/api/credentials")
	group.GET("", h.list)
	group.POST("/:id/refresh", h.refresh)
	group.GET("/:id/history", h.history)
	group.GET("/:id/authorize-url", h.authorizeURL)
	group.POST("/:id/exchange", h.exchange)
}

// credentialView redacts tokens and secrets from API responses.
type credentialView struct {
	ID                   uint64     `json:"id"`
	UserID               uint64     `json:"user_id"`
	BrokerType           string     `json:"broker_type"`
	Name                 string     `json:"name"`
	Environment          string     `json:"environment"`
	HasToken             bool       `json:"has_token"`
	TwentyFourHourMode   bool       `json:"twenty_four_hour_mode"`
	TokenExpiresAt       *time.Time `json:"token_expires_at,omitempty"`
	AutoRefreshEnabled   bool       `json:"auto_refresh_enabled"`
	AutoRefreshFrequency int        `json:"auto_refresh_frequency"`
	IsActive             bool       `json:"is_active"`
}

func viewOf(cred *models.BrokerCredential) credentialView {
	return credentialView{
		ID:                   cred.ID,
		UserID:               cred.UserID,
		BrokerType:           cred.BrokerType,
		Name:                 cred.Name,
		Environment:          cred.Environment,
		HasToken:             cred.AccessToken != "" || cred.APIKey != "",
		TwentyFourHourMode:   cred.TwentyFourHourMode(),
		TokenExpiresAt:       cred.TokenExpiresAt,
		AutoRefreshEnabled:   cred.AutoRefreshEnabled,
		AutoRefreshFrequency: cred.AutoRefreshFrequency,
		IsActive:             cred.IsActive,
	}
}

func (h *CredentialHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	userID := uintQueryPtr(c, "user_id")
	if userID == nil {
		Error(c, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	activeOnly := false
	if flag := boolQueryPtr(c, "active"); flag != nil {
		activeOnly = *flag
	}
	creds, err := h.Repo.ListCredentialsByUser(c.Request.Context(), *userID, activeOnly)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	out := make([]credentialView, 0, len(creds))
	for i := range creds {
		out = append(out, viewOf(&creds[i]))
	}
	Ok(c, out, map[string]any{"count": len(out)})
}

func (h *CredentialHandler) refresh(c *gin.Context) {
	if h.Repo == nil || h.Tokens == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	cred := h.loadCredential(c)
	if cred == nil {
		return
	}
	if cred.TwentyFourHourMode() {
		Error(c, http.StatusConflict, "24-hour tokens cannot be refreshed", nil)
		return
	}
	if err := h.Tokens.RefreshCredential(c.Request.Context(), cred); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("manual token refresh failed",
				zap.Uint64("credential_id", cred.ID), zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, viewOf(cred), nil)
}

func (h *CredentialHandler) history(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	id := uintParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid credential id", nil)
		return
	}
	items, err := h.Repo.ListTokenRefreshHistory(c.Request.Context(), id, intQuery(c, "limit", 50))
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	// Never return token material through the API.
	for i := range items {
		items[i].NewAccessToken = ""
		items[i].NewRefreshToken = ""
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *CredentialHandler) authorizeURL(c *gin.Context) {
	cred := h.loadCredential(c)
	if cred == nil {
		return
	}
	if cred.BrokerType != models.PlatformSaxo {
		Error(c, http.StatusBadRequest, "authorize URL is only available for OAuth brokers", nil)
		return
	}
	adapter := saxo.New(cred, h.Broker.Timeout, h.Logger)
	state := strings.TrimSpace(c.Query("state"))
	Ok(c, gin.H{"authorize_url": adapter.AuthorizeURL(state)}, nil)
}

type exchangeCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *CredentialHandler) exchange(c *gin.Context) {
	cred := h.loadCredential(c)
	if cred == nil {
		return
	}
	if cred.BrokerType != models.PlatformSaxo {
		Error(c, http.StatusBadRequest, "code exchange is only available for OAuth brokers", nil)
		return
	}
	var req exchangeCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	adapter := saxo.New(cred, h.Broker.Timeout, h.Logger)
	tokens, res := adapter.ExchangeCode(c.Request.Context(), req.Code)
	if !res.OK {
		Error(c, http.StatusBadGateway, res.Detail, map[string]any{"kind": string(res.Kind)})
		return
	}
	expiresAt := tokens.ExpiresAt
	if err := h.Repo.UpdateCredentialTokens(c.Request.Context(), cred.ID, tokens.AccessToken, tokens.RefreshToken, &expiresAt); err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	cred.AccessToken = tokens.AccessToken
	cred.RefreshToken = tokens.RefreshToken
	cred.TokenExpiresAt = &expiresAt
	Ok(c, viewOf(cred), nil)
}

func (h *CredentialHandler) loadCredential(c *gin.Context) *models.BrokerCredential {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return nil
	}
	id := uintParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid credential id", nil)
		return nil
	}
	cred, err := h.Repo.GetCredentialByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return nil
	}
	if cred == nil {
		Error(c, http.StatusNotFound, "credential not found", nil)
		return nil
	}
	return cred
}
