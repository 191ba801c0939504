package httpx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPagination(t *testing.T) {
	t.Run("exact multiple", func(t *testing.T) {
		p := NewPagination(1, 20, 40)
		require.Equal(t, 2, p.TotalPages)
		require.True(t, p.HasNext)
		require.False(t, p.HasPrev)
	})

	t.Run("partial last page", func(t *testing.T) {
		p := NewPagination(3, 20, 41)
		require.Equal(t, 3, p.TotalPages)
		require.False(t, p.HasNext)
		require.True(t, p.HasPrev)
	})

	t.Run("empty result", func(t *testing.T) {
		p := NewPagination(1, 20, 0)
		require.Equal(t, 0, p.TotalPages)
		require.False(t, p.HasNext)
		require.False(t, p.HasPrev)
	})
}
