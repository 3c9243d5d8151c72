package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json logger", func(t *testing.T) {
		lg, err := New("info", "json")
		require.NoError(t, err)
		assert.NotNil(t, lg)
	})

	t.Run("console logger honours level", func(t *testing.T) {
		lg, err := New("warn", "console")
		require.NoError(t, err)
		assert.False(t, lg.Core().Enabled(-1))
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := New("loud", "json")
		assert.Error(t, err)
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := New("info", "xml")
		assert.Error(t, err)
	})
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "***", MaskKey("abcd"))
	assert.Equal(t, "ad***ey", MaskKey("admin-key"))
}
