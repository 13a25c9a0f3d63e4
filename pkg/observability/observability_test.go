package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackSettlement(context.Background(),
		attribute.String("agent_id", "agent-1"))
	assert.NotNil(t, ctx)
	p.RecordSettlement(ctx, "EXECUTED")
	p.RecordError(ctx, errors.New("boom"))
	finish(errors.New("boom"))

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNilConfigDefaults(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}
