package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/handler/dto"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/service"
	"go.uber.org/zap"
)

const maxLicenseBodySize = 1 << 20

type LicenseHandler struct {
	service *service.LicenseService
	manager *service.LicenseManager
	logger  *zap.Logger
}

func NewLicenseHandler(service *service.LicenseService, manager *service.LicenseManager, logger *zap.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		manager: manager,
		logger:  logger.Named("LicenseHandler"),
	}
}

func (h *LicenseHandler) response(l license.License) *dto.LicenseResponse {
	return dto.NewLicenseResponse(l, h.manager.Usage(l.ID()))
}

// Upload accepts a raw license body: an XML document or a signed envelope.
func (h *LicenseHandler) Upload(c *gin.Context) {
	content, err := readBody(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	l, changed, err := h.service.Upload(c.Request.Context(), content)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	c.JSON(status, dto.UploadLicenseResponse{License: h.response(l), Changed: changed})
}

func (h *LicenseHandler) Inspect(c *gin.Context) {
	content, err := readBody(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	l, err := h.service.Inspect(content)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.response(l))
}

func (h *LicenseHandler) List(c *gin.Context) {
	var req dto.ListLicensesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Failed to bind or validate query parameters", zap.Error(err))
		_ = c.Error(bindError(err))
		return
	}

	var licenses []license.License
	switch req.Scope {
	case "used":
		licenses = h.manager.UsedLicenses()
	default:
		req.Scope = "active"
		licenses = h.manager.ActiveLicenses()
	}

	resp := dto.LicenseListResponse{Scope: req.Scope, Licenses: make([]*dto.LicenseResponse, len(licenses))}
	for i, l := range licenses {
		resp.Licenses[i] = h.response(l)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *LicenseHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = c.Error(fmt.Errorf("%w: invalid license id", ierr.ErrValidation))
		return
	}

	for _, l := range h.manager.ActiveLicenses() {
		if l.ID() == id {
			c.JSON(http.StatusOK, h.response(l))
			return
		}
	}
	_ = c.Error(fmt.Errorf("%w: license %s is not active", ierr.ErrNotFound, id))
}

func (h *LicenseHandler) Persisted(c *gin.Context) {
	c.JSON(http.StatusOK, dto.LicenseIDsResponse{IDs: nonNil(h.manager.PersistedLicenseIDs())})
}

func (h *LicenseHandler) Unused(c *gin.Context) {
	c.JSON(http.StatusOK, dto.LicenseIDsResponse{IDs: nonNil(h.manager.UnusedPersistedLicenseIDs())})
}

func (h *LicenseHandler) Purge(c *gin.Context) {
	purged := h.manager.PurgeUnused(c.Request.Context())
	h.logger.Info("Unused licenses purged on request", zap.Int("count", len(purged)))
	c.JSON(http.StatusOK, dto.PurgeResponse{Purged: nonNil(purged)})
}

func readBody(c *gin.Context) ([]byte, error) {
	content, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxLicenseBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable request body: %v", ierr.ErrValidation, err)
	}
	return content, nil
}

func nonNil(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

// bindError keeps validator errors intact for field-level details and maps
// everything else a binder returns to a plain validation failure.
func bindError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return err
	}
	return fmt.Errorf("%w: %v", ierr.ErrValidation, err)
}
