package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	tests := []struct {
		name     string
		wantName string
		wantErr  bool
	}{
		{name: "", wantName: NameJSON},
		{name: "json", wantName: NameJSON},
		{name: "msgpack", wantName: NameMsgpack},
		{name: "protobuf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Get(tt.name)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown codec")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, c.Name())
		})
	}
}

func TestVariables(t *testing.T) {
	for _, c := range []Codec{JSON{}, Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := EncodeVariables(c, map[string]any{
				"orderId":  "A-1",
				"approved": true,
				"items":    []any{"x", "y"},
				"customer": map[string]any{"name": "Ana"},
			})
			require.NoError(t, err)

			got, err := DecodeVariables(c, data)
			require.NoError(t, err)
			assert.Equal(t, "A-1", got["orderId"])
			assert.Equal(t, true, got["approved"])
			assert.Equal(t, []any{"x", "y"}, got["items"])

			customer, ok := got["customer"].(map[string]any)
			require.True(t, ok, "nested documents decode as map[string]any")
			assert.Equal(t, "Ana", customer["name"])
		})
	}
}

func TestVariables_Empty(t *testing.T) {
	for _, c := range []Codec{JSON{}, Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := EncodeVariables(c, nil)
			require.NoError(t, err)

			got, err := DecodeVariables(c, data)
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)

			got, err = DecodeVariables(c, nil)
			require.NoError(t, err)
			assert.NotNil(t, got)
		})
	}
}

func TestDecodeVariables_Malformed(t *testing.T) {
	_, err := DecodeVariables(JSON{}, []byte("{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode variables with json")
}

func TestMsgpack_UsesJSONTags(t *testing.T) {
	type event struct {
		JobKey     int64     `json:"job_key"`
		Outcome    string    `json:"outcome"`
		OccurredAt time.Time `json:"occurred_at"`
	}

	c := Msgpack{}
	now := time.Now().UTC().Truncate(time.Millisecond)
	data, err := c.Marshal(event{JobKey: 42, Outcome: "complete", OccurredAt: now})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, c.Unmarshal(data, &raw))
	assert.Contains(t, raw, "job_key")
	assert.Contains(t, raw, "outcome")

	var decoded event
	require.NoError(t, c.Unmarshal(data, &decoded))
	assert.Equal(t, int64(42), decoded.JobKey)
	assert.True(t, now.Equal(decoded.OccurredAt))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", JSON{}.ContentType())
	assert.Equal(t, "application/msgpack", Msgpack{}.ContentType())
}
