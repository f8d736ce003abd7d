package handler

import (
	"cmp"
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/license-engine/internal/handler/dto"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/registry"
	"github.com/makkenzo/license-engine/internal/service"
	"go.uber.org/zap"
)

// ComponentRegistry is a registry that installs and removes components at runtime.
type ComponentRegistry interface {
	registry.Registry
	Register(c registry.Component)
	Remove(name string)
}

type ComponentHandler struct {
	manager  *service.LicenseManager
	registry ComponentRegistry
	logger   *zap.Logger
}

func NewComponentHandler(manager *service.LicenseManager, reg ComponentRegistry, logger *zap.Logger) *ComponentHandler {
	return &ComponentHandler{
		manager:  manager,
		registry: reg,
		logger:   logger.Named("ComponentHandler"),
	}
}

func (h *ComponentHandler) componentResponse(name string) dto.ComponentLicenseResponse {
	resp := dto.ComponentLicenseResponse{Component: name}
	if l, ok := h.manager.Get(name); ok {
		resp.License = dto.NewLicenseResponse(l, h.manager.Usage(l.ID()))
	}
	return resp
}

func (h *ComponentHandler) List(c *gin.Context) {
	components := h.manager.Components()
	resp := make([]dto.ComponentLicenseResponse, 0, len(components))
	for name, l := range components {
		resp = append(resp, dto.ComponentLicenseResponse{
			Component: name,
			License:   dto.NewLicenseResponse(l, h.manager.Usage(l.ID())),
		})
	}
	slices.SortFunc(resp, func(a, b dto.ComponentLicenseResponse) int { return cmp.Compare(a.Component, b.Component) })
	c.JSON(http.StatusOK, resp)
}

func (h *ComponentHandler) Get(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.manager.Get(name); !ok {
		_ = c.Error(fmt.Errorf("%w: %s", ierr.ErrNoRecord, name))
		return
	}
	c.JSON(http.StatusOK, h.componentResponse(name))
}

func (h *ComponentHandler) Install(c *gin.Context) {
	var req dto.ComponentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind or validate request body", zap.Error(err))
		_ = c.Error(bindError(err))
		return
	}

	component := req.Component()
	h.registry.Register(component)
	if _, tracked := h.manager.InstallComponent(component); !tracked {
		h.logger.Info("Component registered without licensing", zap.String("component", component.Name))
		c.JSON(http.StatusOK, dto.ComponentLicenseResponse{Component: component.Name})
		return
	}
	c.JSON(http.StatusCreated, h.componentResponse(component.Name))
}

func (h *ComponentHandler) Upgrade(c *gin.Context) {
	oldName := c.Param("name")
	if _, ok := h.registry.Lookup(oldName); !ok {
		_ = c.Error(fmt.Errorf("%w: component %s", ierr.ErrNotFound, oldName))
		return
	}

	var req dto.ComponentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind or validate request body", zap.Error(err))
		_ = c.Error(bindError(err))
		return
	}

	component := req.Component()
	if component.Name != oldName {
		if _, taken := h.registry.Lookup(component.Name); taken {
			_ = c.Error(fmt.Errorf("%w: component %s is already installed", ierr.ErrConflict, component.Name))
			return
		}
	}
	h.registry.Remove(oldName)
	h.registry.Register(component)
	h.manager.UpgradeComponent(oldName, component)
	c.JSON(http.StatusOK, h.componentResponse(component.Name))
}

func (h *ComponentHandler) Uninstall(c *gin.Context) {
	name := c.Param("name")
	_, registered := h.registry.Lookup(name)
	tracked := h.manager.UninstallComponent(name)
	if !registered && !tracked {
		_ = c.Error(fmt.Errorf("%w: component %s", ierr.ErrNotFound, name))
		return
	}
	h.registry.Remove(name)
	c.Status(http.StatusNoContent)
}

// ResolveFeature reports the license governing a concrete feature version.
func (h *ComponentHandler) ResolveFeature(c *gin.Context) {
	var req dto.ResolveFeatureRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	l := h.manager.ResolveFeature(c.Param("name"), req.Version)
	c.JSON(http.StatusOK, dto.NewLicenseResponse(l, h.manager.Usage(l.ID())))
}
