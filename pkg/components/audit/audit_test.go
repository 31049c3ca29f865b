package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatureio/armature/pkg/component"
	"github.com/armatureio/armature/pkg/domain"
)

func attach(t *testing.T, buf *bytes.Buffer) *Component {
	t.Helper()
	c := New()
	require.NoError(t, c.OnAttach(context.Background(), &component.AttachContext{
		Logger: slog.New(slog.NewJSONHandler(buf, nil)),
	}))
	return c
}

func TestSummaryCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	c := attach(t, &buf)

	ec := domain.NewExecutionContext("msg")
	ec.SetValue(domain.ValueRequestID, "req-123")

	contribs := c.ContributeBehaviors()
	require.Len(t, contribs, 1)
	_, err := contribs[0].Behavior.Execute(context.Background(), ec, func(context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "chain run complete")
	assert.Contains(t, out, "req-123")
}

func TestSummaryReportsDownstreamFault(t *testing.T) {
	var buf bytes.Buffer
	c := attach(t, &buf)

	ec := domain.NewExecutionContext("msg")
	contribs := c.ContributeBehaviors()
	_, err := contribs[0].Behavior.Execute(context.Background(), ec, func(context.Context) (any, error) {
		return nil, errors.New("downstream broke")
	})
	require.Error(t, err, "the fault passes through untouched")

	out := buf.String()
	assert.Contains(t, out, "chain run failed")
	assert.Contains(t, out, "downstream broke")
}

func TestDependsOnRequestID(t *testing.T) {
	assert.Equal(t, []string{"requestid"}, New().Dependencies())
}
