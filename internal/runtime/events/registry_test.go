package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type counter struct{ calls []string }

func TestRegistryDispatchOrder(t *testing.T) {
	reg := NewRegistry[*counter]().
		On(Start, func(c *counter, _ Event) error { c.calls = append(c.calls, "first"); return nil }).
		On(Start, func(c *counter, _ Event) error { c.calls = append(c.calls, "second"); return nil })

	c := &counter{}
	assert.NoError(t, reg.Dispatch(c, New(Start)))
	assert.Equal(t, []string{"first", "second"}, c.calls)

	assert.NoError(t, reg.Dispatch(c, New(Kill)))
	assert.Len(t, c.calls, 2)
}

func TestRegistryMergeKeepsBaseFirst(t *testing.T) {
	base := NewRegistry[*counter]().On(Stop, func(c *counter, _ Event) error { c.calls = append(c.calls, "base"); return nil })
	sub := NewRegistry[*counter]().
		On(Stop, func(c *counter, _ Event) error { c.calls = append(c.calls, "sub"); return nil }).
		On(UpdateFPS, func(c *counter, _ Event) error { return nil })

	merged := base.Merge(sub, nil)
	c := &counter{}
	assert.NoError(t, merged.Dispatch(c, New(Stop)))
	assert.Equal(t, []string{"base", "sub"}, c.calls)
	assert.Equal(t, []string{Stop, UpdateFPS}, merged.Names())
	assert.Equal(t, []string{Stop}, base.Names())
}

func TestRegistryRunsAllHandlersAndReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	ran := 0
	reg := NewRegistry[*counter]().
		On(Start, func(*counter, Event) error { ran++; return boom }).
		On(Start, func(*counter, Event) error { ran++; return errors.New("later") })

	assert.ErrorIs(t, reg.Dispatch(&counter{}, New(Start)), boom)
	assert.Equal(t, 2, ran)
}

func TestRegistryNilSafety(t *testing.T) {
	var reg *Registry[*counter]
	assert.NoError(t, reg.Dispatch(&counter{}, New(Start)))
	assert.Nil(t, reg.Names())
	assert.False(t, reg.Has(Start))

	assert.False(t, NewRegistry[*counter]().On(Start, nil).Has(Start))
}
