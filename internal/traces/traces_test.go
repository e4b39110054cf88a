package traces

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpanDecoratesContext(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "escrow.CreateOrder",
		UserID("usr_1"), OrderID("ord_1"), Amount(5000))
	defer span.End()

	require.NotNil(t, span)
	assert.Equal(t, span, trace.SpanFromContext(ctx))
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, "user.id", string(UserID("u").Key))
	assert.Equal(t, "order.id", string(OrderID("o").Key))
	assert.Equal(t, "payment.reference", string(Reference("r").Key))
	assert.Equal(t, "amount_minor", string(Amount(1).Key))
	assert.Equal(t, "dispute.id", string(DisputeID("d").Key))
}
