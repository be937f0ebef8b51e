package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	event := domain.TileEvent{
		RunID:       "run-7",
		FeatureType: domain.MapunitPolyExtended,
		Tile:        domain.Tile{BoundingBox: domain.BoundingBox{MinX: -1, MinY: 1, MaxX: 0, MaxY: 2, SRS: "EPSG:4326"}},
		State:       domain.TileStateSkipped,
		File:        "MapunitPolyExtended_bbox_-1.0_1.0_0.0_2.0-attr.gml",
		OccurredAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	msg, err := newMessage("ssurgo.tiles", event)
	require.NoError(t, err)

	assert.Equal(t, "ssurgo.tiles.skipped", msg.Subject)
	assert.Equal(t, "run-7", msg.Header.Get("Run-Id"))
	assert.Equal(t, "MapunitPolyExtended", msg.Header.Get("Feature-Type"))

	var decoded domain.TileEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, event, decoded)
}
