package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PartialWrite("post.comments")
	m.PartialWrite("post.comments")
	m.ResetToken("issued")
	m.NotificationFailed("reset_link")

	require.Equal(t, 2.0, testutil.ToFloat64(m.partialWrites.WithLabelValues("post.comments")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.resetTokens.WithLabelValues("issued")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.notificationFailure.WithLabelValues("reset_link")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.PartialWrite("user.posts")
	m.ResetToken("consumed")
	m.NotificationFailed("password_changed")
}
