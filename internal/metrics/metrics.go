// Package metrics records operation and resource outcomes. The tool is a
// batch CLI, so a run pushes its registry to a Pushgateway before exiting.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/rowjay/supa-backup/internal/report"
)

const (
	namespace = "sbu"

	labelOperation = "operation"
	labelResource  = "resource"
	labelStatus    = "status"
	labelProject   = "project"
)

// Operation outcome values.
const (
	StatusSuccess   = "success"
	StatusDegraded  = "degraded"
	StatusFailure   = "failure"
	StatusCancelled = "cancelled"
)

type Recorder struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ResourcesTotal    *prometheus.CounterVec
	ResourceItems     *prometheus.GaugeVec
	LastSuccess       *prometheus.GaugeVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations by kind and outcome",
		}, []string{labelOperation, labelProject, labelStatus}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of an operation",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{labelOperation, labelProject}),
		ResourcesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_outcomes_total",
			Help:      "Resource outcomes by status",
		}, []string{labelOperation, labelResource, labelStatus}),
		ResourceItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_items",
			Help:      "Items handled per resource in the last operation",
		}, []string{labelOperation, labelResource}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last fully successful operation",
		}, []string{labelOperation, labelProject}),
	}
	r.registry.MustRegister(r.OperationsTotal, r.OperationDuration, r.ResourcesTotal, r.ResourceItems, r.LastSuccess)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveReport records every outcome of an operation report.
func (r *Recorder) ObserveReport(operation string, rep *report.Report) {
	if rep == nil {
		return
	}
	for _, o := range rep.Outcomes {
		r.ResourcesTotal.WithLabelValues(operation, string(o.Resource), string(o.Status)).Inc()
		r.ResourceItems.WithLabelValues(operation, string(o.Resource)).Set(float64(o.Items))
	}
}

// ObserveOperation records the end of an operation.
func (r *Recorder) ObserveOperation(operation, project, status string, elapsed time.Duration, end time.Time) {
	r.OperationsTotal.WithLabelValues(operation, project, status).Inc()
	r.OperationDuration.WithLabelValues(operation, project).Observe(elapsed.Seconds())
	if status == StatusSuccess {
		r.LastSuccess.WithLabelValues(operation, project).Set(float64(end.Unix()))
	}
}

// Push sends the registry to a Pushgateway, grouped by operation id.
func (r *Recorder) Push(ctx context.Context, url, job, opID string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}
	p := push.New(url, job).Gatherer(r.registry)
	if opID != "" {
		p = p.Grouping("op", opID)
	}
	return p.PushContext(ctx)
}

// StatusFor maps an operation result onto an outcome label.
func StatusFor(err error, rep *report.Report, cancelled bool) string {
	switch {
	case cancelled:
		return StatusCancelled
	case err != nil:
		return StatusFailure
	case rep != nil && rep.Degraded():
		return StatusDegraded
	default:
		return StatusSuccess
	}
}
