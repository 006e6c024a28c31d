package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TenantsProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenants_provisioned_total",
			Help: "Total number of tenant provisioning outcomes by status",
		},
		[]string{"status"},
	)
	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenant_provisioning_duration_seconds",
			Help:    "Duration of a single deploy call against the platform in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2m
		},
	)
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_jobs_total",
			Help: "Total number of processed jobs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	JobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_job_retries_total",
			Help: "Total number of scheduled job retries by kind",
		},
		[]string{"kind"},
	)
	PlatformRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_requests_total",
			Help: "Total number of platform API requests by operation and result code",
		},
		[]string{"op", "code"},
	)
)

func InitMetrics() {
	collectors := map[string]prometheus.Collector{
		"TenantsProvisioned":   TenantsProvisioned,
		"ProvisioningDuration": ProvisioningDuration,
		"JobsProcessed":        JobsProcessed,
		"JobRetries":           JobRetries,
		"PlatformRequests":     PlatformRequests,
	}
	for name, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
}
