package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_verifications_total",
		Help: "Signed license verification attempts by outcome.",
	}, []string{"outcome"})

	IngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_ingested_total",
		Help: "Licenses ingested into the resolution index by result.",
	}, []string{"result"})

	ActiveLicenses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "license_active",
		Help: "Licenses currently winning at least one feature.",
	})

	ExpiringLicenses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "license_expiring",
		Help: "Active licenses that are expired or expire within the configured window.",
	})

	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_store_errors_total",
		Help: "License store failures that were logged and skipped.",
	}, []string{"operation"})
)

const (
	OutcomeTrusted     = "trusted"
	OutcomeUntrusted   = "untrusted"
	OutcomeMalformed   = "malformed"
	OutcomeUndecodable = "undecodable"
)
