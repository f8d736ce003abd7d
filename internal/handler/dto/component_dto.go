package dto

import "github.com/makkenzo/license-engine/internal/registry"

type FeatureRequest struct {
	Name    string `json:"name" binding:"required"`
	Version string `json:"version"`
}

type ComponentRequest struct {
	Name     string           `json:"name" binding:"required"`
	Version  string           `json:"version"`
	Features []FeatureRequest `json:"features" binding:"omitempty,dive"`
	Licensed *bool            `json:"licensed" binding:"required"`
}

func (r *ComponentRequest) Component() registry.Component {
	c := registry.Component{
		Name:     r.Name,
		Version:  r.Version,
		Licensed: *r.Licensed,
	}
	for _, f := range r.Features {
		c.Features = append(c.Features, registry.Feature{Name: f.Name, Version: f.Version})
	}
	return c
}

type ComponentLicenseResponse struct {
	Component string           `json:"component"`
	License   *LicenseResponse `json:"license"`
}

type ResolveFeatureRequest struct {
	Version string `form:"version"`
}
