package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{string(FlagDisableAutoBalance)})

	t.Run("is set", func(t *testing.T) {
		require.True(t, f.IsSet(FlagDisableAutoBalance))
		require.False(t, f.IsSet(FlagDisableSnapshotRestore))

		var empty FeatureFlag
		require.False(t, empty.IsSet(FlagDisableAutoBalance))
	})

	t.Run("run if enabled", func(t *testing.T) {
		var runAutoBalance bool
		f.IfSet(FlagDisableAutoBalance, func() {
			runAutoBalance = true
		})
		require.True(t, runAutoBalance)

		var runStream bool
		f.IfSet(FlagDisableStream, func() {
			runStream = true
		})
		require.False(t, runStream)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var runAutoBalance bool
		f.IfNotSet(FlagDisableAutoBalance, func() {
			runAutoBalance = true
		})
		require.False(t, runAutoBalance)

		var runStream bool
		f.IfNotSet(FlagDisableStream, func() {
			runStream = true
		})
		require.True(t, runStream)
	})
}
