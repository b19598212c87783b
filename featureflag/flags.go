package featureflag

type Flag string

const (
	// Spaces never rebalance on their own, only on explicit requests.
	FlagDisableAutoBalance Flag = "DISABLE_AUTO_BALANCE"

	// Snapshots are still written but not loaded at startup.
	FlagDisableSnapshotRestore Flag = "DISABLE_SNAPSHOT_RESTORE"

	// Rejects websocket box streams.
	FlagDisableStream Flag = "DISABLE_STREAM"
)
