package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithFields_Enriches_Context_Logger(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "debug", ServiceName: "delivery-service", InstanceID: "i-1"}, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithFields(ctx, FieldConnID, "c1", FieldEvent, "join", "dangling")
	l := Ctx(ctx)
	l.Info().Msg("hello")

	var entry map[string]interface{}
	req.NoError(json.Unmarshal(buf.Bytes(), &entry))
	req.Equal("c1", entry[FieldConnID])
	req.Equal("join", entry[FieldEvent])
	req.Equal("delivery-service", entry[FieldService])
	req.Equal("i-1", entry[FieldInstance])
	req.NotContains(entry, "dangling")
}

func TestNewWithWriter_Respects_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "warn"}, &buf)

	logger.Info().Msg("dropped")

	require.Zero(t, buf.Len())
}
