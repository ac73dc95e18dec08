package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	Transitions.WithLabelValues("idle", "initializing").Inc()
	Notifications.WithLabelValues("connected", "sent").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(Notifications.WithLabelValues("connected", "sent")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tgw_session_transitions_total"])
	assert.True(t, names["tgw_notifications_total"])
	assert.True(t, names["tgw_active_sessions"])

	assert.Panics(t, func() { Register(reg) }, "повторная регистрация")
}
