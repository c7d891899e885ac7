package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversByType(t *testing.T) {
	b := New()

	var saved, all []string
	_, err := b.Subscribe("save.failed", func(e Event) error {
		saved = append(saved, e.Data().(string))
		return nil
	})
	require.NoError(t, err)
	_, err = b.SubscribeAll(func(e Event) error {
		all = append(all, e.Type())
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewEvent("save.failed", "engine", "503")))
	require.NoError(t, b.Publish(NewEvent("edit.sent", "engine", nil)))

	assert.Equal(t, []string{"503"}, saved)
	assert.Equal(t, []string{"save.failed", "edit.sent"}, all)
}

func TestBus_JoinsHandlerErrors(t *testing.T) {
	b := New()
	first, second := errors.New("first"), errors.New("second")
	_, _ = b.Subscribe("x", func(Event) error { return first })
	_, _ = b.Subscribe("x", func(Event) error { return second })

	err := b.Publish(NewEvent("x", "test", nil))
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	count := 0
	sub, err := b.Subscribe("x", func(Event) error { count++; return nil })
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())

	_ = b.Publish(NewEvent("x", "test", nil))
	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, sub.Cancel())
	_ = b.Publish(NewEvent("x", "test", nil))

	assert.Equal(t, 1, count)
	assert.False(t, sub.IsActive())
	assert.NoError(t, b.Unsubscribe(nil))
}

func TestBus_RejectsBadSubscriptions(t *testing.T) {
	b := New()
	_, err := b.Subscribe("", func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyEventType)
	_, err = b.Subscribe("x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}
