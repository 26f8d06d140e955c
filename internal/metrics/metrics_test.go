package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/supa-backup/internal/report"
)

func TestObserveReport(t *testing.T) {
	r := New()
	rep := &report.Report{}
	rep.Add(report.Outcome{Resource: report.ResourceDatabase, Items: 1})
	rep.Add(report.Outcome{Resource: report.ResourceStorage, Items: 7, Failures: 3})
	rep.Add(report.Skipped(report.ResourceAuth, "not requested"))

	r.ObserveReport("backup", rep)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ResourcesTotal.WithLabelValues("backup", "database", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ResourcesTotal.WithLabelValues("backup", "storage", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ResourcesTotal.WithLabelValues("backup", "auth", "skipped")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.ResourceItems.WithLabelValues("backup", "storage")))
}

func TestObserveOperation(t *testing.T) {
	r := New()
	end := time.Unix(1700000000, 0)
	r.ObserveOperation("restore", "shop", StatusSuccess, 3*time.Second, end)
	r.ObserveOperation("restore", "shop", StatusFailure, time.Second, end)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.OperationsTotal.WithLabelValues("restore", "shop", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OperationsTotal.WithLabelValues("restore", "shop", StatusFailure)))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.LastSuccess.WithLabelValues("restore", "shop")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.OperationDuration))
}

func TestStatusFor(t *testing.T) {
	degraded := &report.Report{}
	degraded.Add(report.Failed(report.ResourceAuth, errors.New("boom")))

	assert.Equal(t, StatusCancelled, StatusFor(nil, nil, true))
	assert.Equal(t, StatusFailure, StatusFor(errors.New("x"), nil, false))
	assert.Equal(t, StatusDegraded, StatusFor(nil, degraded, false))
	assert.Equal(t, StatusSuccess, StatusFor(nil, &report.Report{}, false))
}

func TestPush(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.ObserveOperation("backup", "shop", StatusSuccess, time.Second, time.Now())
	require.NoError(t, r.Push(context.Background(), srv.URL, "", "op-1"))
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/sbu/op/op-1"), path)

	assert.NoError(t, r.Push(context.Background(), "", "sbu", "op-1"))
}
