package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOperation(t *testing.T) {
	before := testutil.ToFloat64(Engine.OperationsTotal.WithLabelValues("ApplyPayment", "success"))
	RecordOperation("ApplyPayment", "success", 10*time.Millisecond)
	after := testutil.ToFloat64(Engine.OperationsTotal.WithLabelValues("ApplyPayment", "success"))
	assert.Equal(t, before+1, after)
}

func TestRecordPaymentComponent_IgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(Engine.PaymentAmount.WithLabelValues("mora"))
	RecordPaymentComponent("mora", 0)
	RecordPaymentComponent("mora", 12.5)
	assert.Equal(t, before+12.5, testutil.ToFloat64(Engine.PaymentAmount.WithLabelValues("mora")))
}

func TestRecordBatchRun(t *testing.T) {
	RecordBatchRun(7, 2, 3*time.Second)
	assert.Equal(t, float64(7), testutil.ToFloat64(Batch.LastRunMembers.WithLabelValues("success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(Batch.LastRunMembers.WithLabelValues("failure")))
	assert.Equal(t, float64(3), testutil.ToFloat64(Batch.LastRunDuration))
}
