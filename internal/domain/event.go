package domain

import "time"

// TileState is a step of the per-tile processing state machine:
//
//	PENDING -> SKIPPED
//	PENDING -> FETCHED -> KEYED -> ATTRIBUTED -> AGGREGATED -> JOINED -> WRITTEN
//
// SKIPPED and WRITTEN are terminal. FAILED marks a tile that aborted the run.
type TileState string

const (
	TileStatePending    TileState = "PENDING"
	TileStateSkipped    TileState = "SKIPPED"
	TileStateFetched    TileState = "FETCHED"
	TileStateKeyed      TileState = "KEYED"
	TileStateAttributed TileState = "ATTRIBUTED"
	TileStateAggregated TileState = "AGGREGATED"
	TileStateJoined     TileState = "JOINED"
	TileStateWritten    TileState = "WRITTEN"
	TileStateFailed     TileState = "FAILED"
)

// Terminal reports whether the state contributes a file to the run result.
func (s TileState) Terminal() bool {
	return s == TileStateSkipped || s == TileStateWritten
}

// TileEvent announces that a tile reached a terminal or failed state.
type TileEvent struct {
	RunID          string        `json:"run_id"`
	FeatureType    FeatureType   `json:"feature_type"`
	Tile           Tile          `json:"tile"`
	File           string        `json:"file,omitempty"`
	State          TileState     `json:"state"`
	Mapunits       int           `json:"mapunits"`
	FeaturesJoined int           `json:"features_joined"`
	Duration       time.Duration `json:"duration_ns"`
	Error          string        `json:"error,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}
