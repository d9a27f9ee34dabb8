package tcp

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func counterValue(f *dto.MetricFamily, label, value string) float64 {
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == label && l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetrics_CountTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	registry := NewClientRegistry()
	conn := newFakeConn("10.1.1.1:1000")
	_, err := registry.Register(conn)
	require.NoError(t, err)

	d := NewDispatcher(registry, WithMetrics(metrics))
	d.RegisterTemplate("PING", &recordingTemplate{reply: CodeSuccess})
	d.RegisterTemplate("NOTICE", &recordingTemplate{})
	require.NoError(t, RegisterStateGauges(reg, registry, d))

	ctx := context.Background()
	require.NoError(t, d.OnMessage(ctx, conn, `{"requestName":"PING","requestId":1,"requestStatus":false}`))
	_ = d.OnMessage(ctx, conn, `garbage`)
	_ = d.OnMessage(ctx, conn, answerLine(77, CodeSuccess))
	_, err = d.SendRequest(ctx, "NOTICE", conn)
	require.NoError(t, err)

	families := gather(t, reg)
	assert.Equal(t, 1.0, counterValue(families["pkthub_dispatcher_messages_received_total"], "kind", kindRequest))
	assert.Equal(t, 1.0, counterValue(families["pkthub_dispatcher_messages_dropped_total"], "reason", reasonMalformed))
	assert.Equal(t, 1.0, counterValue(families["pkthub_dispatcher_messages_dropped_total"], "reason", reasonUnmatchedAnswer))
	assert.Equal(t, 1.0, counterValue(families["pkthub_dispatcher_answers_sent_total"], "code", string(CodeSuccess)))
	assert.Equal(t, 1.0, counterValue(families["pkthub_dispatcher_requests_sent_total"], "request_name", "NOTICE"))

	require.Contains(t, families, "pkthub_server_clients_connected")
	assert.Equal(t, 1.0, families["pkthub_server_clients_connected"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, families["pkthub_dispatcher_requests_pending"].GetMetric()[0].GetGauge().GetValue())
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.received(kindRequest)
		m.dropped(reasonOversize)
		m.answerSent(CodeError)
		m.requestSent("NOTICE")
		m.timedOut()
		m.throttled()
	})
}

func TestRedisSessionStore_NilIsNoop(t *testing.T) {
	var store *RedisSessionStore
	ctx := context.Background()

	assert.NoError(t, store.Save(ctx, &Session{SessionID: "abc"}))
	assert.NoError(t, store.Delete(ctx, "abc"))
	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
