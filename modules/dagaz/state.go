package dagaz

// State is the dagaz data kept by a space.
type State struct {
	SpatialPartition SpatialPartition
}
