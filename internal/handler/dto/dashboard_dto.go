package dto

import "time"

type DashboardSummaryResponse struct {
	Initialized          bool                `json:"initialized"`
	ActiveLicenses       int                 `json:"activeLicenses"`
	UsedLicenses         int                 `json:"usedLicenses"`
	PersistedLicenses    int                 `json:"persistedLicenses"`
	UnusedLicenses       int                 `json:"unusedLicenses"`
	TypeCounts           map[string]int      `json:"typeCounts"`
	UnlicensedComponents []string            `json:"unlicensedComponents"`
	ExpiringSoon         ExpiringSoonSummary `json:"expiringSoon"`
}

type ExpiringSoonSummary struct {
	Count        int          `json:"count"`
	PeriodDays   int          `json:"periodDays"`
	NextToExpire *LicenseInfo `json:"nextToExpire,omitempty"`
}

type LicenseInfo struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expiresAt"`
}
