package runtime

import (
	"context"
	sterrors "errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/transport"
)

func TestBusMetrics_RegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBusMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	// A second collector set on the same registry collides on every
	// metric name; Register tolerates that.
	other := NewBusMetrics(reg)
	assert.NoError(t, other.Register())
}

func TestBusMetrics_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBusMetrics(reg)
	require.NoError(t, m.Register())

	ctx := ContextWithDispatchInfo(context.Background(), DispatchInfo{
		RoutingKey: "users:create",
		Method:     "POST",
	})

	ok := m.Middleware()(func(ctx context.Context, d transport.Delivery) (any, error) {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
		return "done", nil
	})
	out, err := ok(ctx, transport.Delivery{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	failing := m.Middleware()(func(ctx context.Context, d transport.Delivery) (any, error) {
		return nil, errors.E(errors.KindNotFound, "Not Found")
	})
	_, err = failing(ctx, transport.Delivery{})
	require.Error(t, err)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveriesTotal.WithLabelValues("users:create", "POST", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveriesTotal.WithLabelValues("users:create", "POST", "not_found")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.durationSeconds))
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, "success"},
		{"typed not found", errors.E(errors.KindNotFound, "x"), "not_found"},
		{"typed validation", errors.E(errors.KindValidation, "x"), "validation"},
		{"untyped", sterrors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeLabel(tt.err))
		})
	}
}
