package requestid

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatureio/armature/pkg/domain"
)

func runStamp(t *testing.T, ec *domain.ExecutionContext) {
	t.Helper()
	c := New()
	require.NoError(t, c.OnAttach(context.Background(), nil))

	contribs := c.ContributeBehaviors()
	require.Len(t, contribs, 1)

	_, err := contribs[0].Behavior.Execute(context.Background(), ec, func(context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
}

func TestStampsMissingRequestID(t *testing.T) {
	ec := domain.NewExecutionContext("msg")
	runStamp(t, ec)

	v, ok := ec.Value(domain.ValueRequestID)
	require.True(t, ok)
	id, ok := v.(string)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	assert.NoError(t, err, "stamped id is a valid UUID")
}

func TestKeepsExistingRequestID(t *testing.T) {
	ec := domain.NewExecutionContext("msg")
	ec.SetValue(domain.ValueRequestID, "upstream-id")
	runStamp(t, ec)

	v, _ := ec.Value(domain.ValueRequestID)
	assert.Equal(t, "upstream-id", v)
}

func TestContributionShape(t *testing.T) {
	contribs := New().ContributeBehaviors()
	require.Len(t, contribs, 1)
	assert.Equal(t, Priority, contribs[0].Priority)
	assert.True(t, contribs[0].Enabled)
	assert.Empty(t, New().Dependencies())
}
