package throttle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatureio/armature/pkg/component"
	"github.com/armatureio/armature/pkg/domain"
)

func attach(t *testing.T, settings map[string]any) *Component {
	t.Helper()
	c := New()
	require.NoError(t, c.OnAttach(context.Background(), &component.AttachContext{Settings: settings}))
	return c
}

func admit(c *Component) error {
	contribs := c.ContributeBehaviors()
	_, err := contribs[0].Behavior.Execute(context.Background(), domain.NewExecutionContext("msg"),
		func(context.Context) (any, error) { return nil, nil })
	return err
}

func TestRejectsOverBurst(t *testing.T) {
	c := attach(t, map[string]any{"per_second": 1, "burst": 2})

	require.NoError(t, admit(c))
	require.NoError(t, admit(c))
	assert.ErrorIs(t, admit(c), ErrThrottled)
}

func TestBurstDefaultsToRate(t *testing.T) {
	c := attach(t, map[string]any{"per_second": 3})

	for i := 0; i < 3; i++ {
		require.NoError(t, admit(c), "admission %d", i)
	}
	assert.ErrorIs(t, admit(c), ErrThrottled)
}

func TestAttachValidatesSettings(t *testing.T) {
	cases := []struct {
		name     string
		settings map[string]any
	}{
		{"missing per_second", nil},
		{"zero per_second", map[string]any{"per_second": 0}},
		{"non-numeric per_second", map[string]any{"per_second": "lots"}},
		{"non-numeric burst", map[string]any{"per_second": 10, "burst": "big"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := New().OnAttach(context.Background(), &component.AttachContext{Settings: tc.settings})
			assert.Error(t, err)
		})
	}
}

func TestStats(t *testing.T) {
	c := attach(t, map[string]any{"per_second": 10, "burst": 4})
	require.NoError(t, admit(c))

	stats := c.Stats()
	require.Contains(t, stats, "chain")
	assert.Equal(t, 4, stats["chain"].Burst)
	assert.Less(t, stats["chain"].Available, 4.0)

	assert.Nil(t, New().Stats(), "no stats before attach")
}
