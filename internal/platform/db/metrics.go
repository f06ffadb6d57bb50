package db

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tenantHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ilpi_tenant_handles",
		Help: "Number of cached tenant namespace handles",
	})

	tenantHandleCreations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ilpi_tenant_handle_creations_total",
		Help: "Tenant namespace handle constructions by result",
	}, []string{"result"})

	namespaceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ilpi_namespace_operations_total",
		Help: "Namespace provisioning and teardown operations",
	}, []string{"operation", "result"})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
