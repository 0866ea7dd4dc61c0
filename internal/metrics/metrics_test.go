package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncEnqueued("ok")
		IncDrain("clean")
		IncBackgroundTask()
	})

	before := testutil.ToFloat64(channelPushes.WithLabelValues("authoritative", "error"))
	IncChannelPush("authoritative", false)
	assert.Equal(t, before+1, testutil.ToFloat64(channelPushes.WithLabelValues("authoritative", "error")))

	SetPending(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(pendingRecords))

	SetRetryDelay(10 * time.Second)
	assert.Equal(t, 10.0, testutil.ToFloat64(retryDelay))
}
