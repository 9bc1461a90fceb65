package id_test

import (
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobcore/pkg/id"
)

func TestNewULID(t *testing.T) {
	t.Parallel()

	t.Run("length and alphabet", func(t *testing.T) {
		t.Parallel()

		ulid := id.NewULID()
		assert.Len(t, ulid, id.ULIDLength)
		require.Regexp(t, regexp.MustCompile(`^[0-9A-HJ-NP-TV-Z]+$`), ulid)
	})

	t.Run("unique", func(t *testing.T) {
		t.Parallel()

		seen := make(map[string]struct{}, 1000)
		for range 1000 {
			ulid := id.NewULID()
			_, dup := seen[ulid]
			require.False(t, dup, "duplicate ULID %s", ulid)
			seen[ulid] = struct{}{}
		}
	})

	t.Run("sortable by time", func(t *testing.T) {
		t.Parallel()

		base := time.Now()
		ids := make([]string, 0, 50)
		for i := range 50 {
			ids = append(ids, id.NewULIDAt(base.Add(time.Duration(i)*time.Millisecond)))
		}
		assert.True(t, sort.StringsAreSorted(ids))
	})
}

func TestULIDTime(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1_700_000_000_123)
	got, err := id.ULIDTime(id.NewULIDAt(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(got), "want %v, got %v", at, got)

	_, err = id.ULIDTime("short")
	require.ErrorIs(t, err, id.ErrInvalidULID)

	_, err = id.ULIDTime("0000000000000000000000000U")
	require.NoError(t, err, "only the timestamp part is decoded")

	_, err = id.ULIDTime("U000000000000000000000000A")
	require.ErrorIs(t, err, id.ErrInvalidULID)
}
