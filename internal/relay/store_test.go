package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/docsync/pkg/delta"
)

func TestStore_Apply(t *testing.T) {
	store := NewStore()
	_, err := store.Put(1, "", delta.New().Insert("hi\n", nil))
	require.NoError(t, err)

	t.Run("composes into the document", func(t *testing.T) {
		require.NoError(t, store.Apply(1, delta.New().Retain(2, nil).Insert("!", nil)))
		doc, err := store.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "hi!\n", doc.Content.Text())
	})

	rejected := map[string]*delta.Delta{
		"retain past the end": delta.New().Retain(10, nil).Insert("x", nil),
		"delete past the end": delta.New().Retain(3, nil).Delete(2),
		"malformed":           delta.FromOps(delta.Op{}),
	}
	for name, op := range rejected {
		t.Run("rejects "+name, func(t *testing.T) {
			err := store.Apply(1, op)
			assert.ErrorIs(t, err, ErrInvalidDocument)

			doc, err := store.Get(1)
			require.NoError(t, err)
			assert.True(t, doc.Content.IsDocument())
			assert.Equal(t, "hi!\n", doc.Content.Text())
		})
	}

	t.Run("unknown document starts empty", func(t *testing.T) {
		assert.Error(t, store.Apply(2, delta.New().Retain(1, nil)))
		_, err := store.Get(2)
		assert.ErrorIs(t, err, ErrDocumentNotFound)

		require.NoError(t, store.Apply(2, delta.New().Insert("new\n", nil)))
		doc, err := store.Get(2)
		require.NoError(t, err)
		assert.Equal(t, "new\n", doc.Content.Text())
	})
}
