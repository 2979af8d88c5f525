package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"autotrader/internal/repository"
	"autotrader/internal/service"
)

type CatalogHandler struct {
	Repo    repository.Repository
	Service *service.CatalogSyncService
	Logger  *zap.Logger
}

func (h *CatalogHandler) Register(r *gin.Engine) {
	group := r.Group("/api/catalog")
	group.GET("/search", h.search)
	group.POST("/sync", h.sync)
}

func (h *CatalogHandler) search(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	params := repository.SearchCatalogParams{
		Query:    strings.TrimSpace(c.Query("q")),
		Platform: stringQueryPtr(c, "platform"),
		Tradable: boolQueryPtr(c, "tradable"),
		Limit:    intQuery(c, "limit", 50),
		Offset:   intQuery(c, "offset", 0),
	}
	items, err := h.Repo.SearchCatalog(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{
		"count":  len(items),
		"limit":  params.Limit,
		"offset": params.Offset,
	})
}

func (h *CatalogHandler) sync(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	if err := h.Service.Sync(c.Request.Context()); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("catalog sync failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"synced": true}, nil)
}
