package openwebnet

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeSend("gw", Scs, "sent")
		m.observeRetry("gw", Scs, KindInvalidFrame)
		m.observeReopen("gw", GenericKind)
		m.observeState("gw", GenericKind, Open)
	})
}

func TestMetrics_ObserveSend_IncrementsLabeledCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observeSend("gw", Scs, "sent")
	m.observeSend("gw", Scs, "sent")

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "openwebnet_sends_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter().GetValue() == 2 {
				found = true
			}
		}
	}
	assert.True(t, found, "expected openwebnet_sends_total{gateway=gw,protocol=scs,result=sent} to equal 2")
}

func TestMetrics_ObserveState_ZeroesOtherStates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observeState("gw", GenericKind, Open)
	m.observeState("gw", GenericKind, Faulted)

	openValue := testutilGaugeValue(t, reg, "gw", GenericKind.String(), Open.String())
	faultedValue := testutilGaugeValue(t, reg, "gw", GenericKind.String(), Faulted.String())

	assert.Equal(t, 0.0, openValue)
	assert.Equal(t, 1.0, faultedValue)
}

func testutilGaugeValue(t *testing.T, reg *prometheus.Registry, gateway, kind, state string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "openwebnet_session_state" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["gateway"] == gateway && labels["kind"] == kind && labels["state"] == state {
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("no gauge series found for gateway=%s kind=%s state=%s", gateway, kind, state)
	return 0
}
