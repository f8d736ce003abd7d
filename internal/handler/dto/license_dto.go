package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/domain/license"
)

type FeatureResponse struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
}

type LicenseResponse struct {
	ID         uuid.UUID         `json:"id"`
	Type       string            `json:"type"`
	Signed     bool              `json:"signed"`
	Unlicensed bool              `json:"unlicensed,omitempty"`
	Features   []FeatureResponse `json:"features"`
	Instances  []string          `json:"instances,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	MaxUsers   *int64            `json:"max_users,omitempty"`
	Licensee   map[string]string `json:"licensee,omitempty"`
	Usage      int               `json:"usage"`
	Signer     string            `json:"signer,omitempty"`
}

// NewLicenseResponse renders l. Unlimited users and a missing expiration are
// left out rather than rendered as sentinel values.
func NewLicenseResponse(l license.License, usage int) *LicenseResponse {
	resp := &LicenseResponse{
		ID:         l.ID(),
		Type:       l.Type().String(),
		Signed:     l.IsSigned(),
		Unlicensed: license.IsUnlicensed(l),
		Features:   make([]FeatureResponse, 0),
		Licensee:   l.Licensee(),
		Usage:      usage,
	}
	for _, f := range l.Features() {
		resp.Features = append(resp.Features, FeatureResponse{Name: f.Name, Constraint: f.Constraint})
	}
	for _, inst := range l.Instances() {
		resp.Instances = append(resp.Instances, string(inst))
	}
	if exp := l.ExpiresAt(); !exp.Equal(license.NeverExpires) {
		resp.ExpiresAt = &exp
	}
	if users := l.MaxUsers(); users != license.Unlimited {
		resp.MaxUsers = &users
	}
	if s, ok := l.(*license.Signed); ok {
		if chain := s.Chain(); len(chain) > 0 {
			resp.Signer = chain[len(chain)-1].Subject.CommonName
		}
	}
	return resp
}

type ListLicensesRequest struct {
	Scope string `form:"scope,default=active" binding:"omitempty,oneof=active used"`
}

type LicenseListResponse struct {
	Scope    string             `json:"scope"`
	Licenses []*LicenseResponse `json:"licenses"`
}

type LicenseIDsResponse struct {
	IDs []uuid.UUID `json:"ids"`
}

type UploadLicenseResponse struct {
	License *LicenseResponse `json:"license"`
	Changed bool             `json:"changed"`
}

type PurgeResponse struct {
	Purged []uuid.UUID `json:"purged"`
}
