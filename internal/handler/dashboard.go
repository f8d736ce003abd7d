package handler

import (
	"cmp"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/handler/dto"
	"github.com/makkenzo/license-engine/internal/service"
	"go.uber.org/zap"
)

type DashboardHandler struct {
	manager      *service.LicenseManager
	expiryWindow time.Duration
	logger       *zap.Logger
}

func NewDashboardHandler(manager *service.LicenseManager, expiryWindow time.Duration, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		manager:      manager,
		expiryWindow: expiryWindow,
		logger:       logger.Named("DashboardHandler"),
	}
}

func (h *DashboardHandler) GetSummary(c *gin.Context) {
	h.logger.Debug("Received request for dashboard summary")

	active := h.manager.ActiveLicenses()
	summary := dto.DashboardSummaryResponse{
		Initialized:          h.manager.Initialized(),
		ActiveLicenses:       len(active),
		UsedLicenses:         len(h.manager.UsedLicenses()),
		PersistedLicenses:    len(h.manager.PersistedLicenseIDs()),
		UnusedLicenses:       len(h.manager.UnusedPersistedLicenseIDs()),
		TypeCounts:           make(map[string]int),
		UnlicensedComponents: make([]string, 0),
		ExpiringSoon:         dto.ExpiringSoonSummary{PeriodDays: int(h.expiryWindow.Hours() / 24)},
	}
	for _, l := range active {
		summary.TypeCounts[l.Type().String()]++
	}
	for name, l := range h.manager.Components() {
		if license.IsUnlicensed(l) {
			summary.UnlicensedComponents = append(summary.UnlicensedComponents, name)
		}
	}
	slices.Sort(summary.UnlicensedComponents)

	expiring := h.manager.Expiring(h.expiryWindow)
	summary.ExpiringSoon.Count = len(expiring)
	if len(expiring) > 0 {
		next := slices.MinFunc(expiring, func(a, b license.License) int {
			return cmp.Compare(a.ExpiresAt().UnixMilli(), b.ExpiresAt().UnixMilli())
		})
		summary.ExpiringSoon.NextToExpire = &dto.LicenseInfo{
			ID:        next.ID().String(),
			Type:      next.Type().String(),
			ExpiresAt: next.ExpiresAt(),
		}
	}

	c.JSON(http.StatusOK, summary)
}
