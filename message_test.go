package cloudaws

import (
	"testing"
	"time"

	"github.com/Songmu/flextime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMimeType(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantType    string
		wantSubtype string
		wantCharset string
		wantErr     bool
	}{
		{name: "plain", input: "text/plain", wantType: "text", wantSubtype: "plain"},
		{name: "with charset", input: "text/plain;charset=UTF-8", wantType: "text", wantSubtype: "plain", wantCharset: "UTF-8"},
		{name: "json", input: "application/json", wantType: "application", wantSubtype: "json"},
		{name: "missing subtype", input: "text", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMimeType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, m.Type)
			assert.Equal(t, tt.wantSubtype, m.Subtype)
			assert.Equal(t, tt.wantCharset, m.Charset())
		})
	}
}

func TestMimeType_String(t *testing.T) {
	m, err := ParseMimeType("text/plain; charset=UTF-8")
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=UTF-8", m.String())

	var nilType *MimeType
	assert.Equal(t, "", nilType.String())
	assert.Equal(t, "", nilType.Charset())
}

func TestNewMessage(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	restore := flextime.Fix(now)
	defer restore()

	msg := NewMessage("hello")
	assert.Equal(t, "hello", msg.Payload)
	assert.Equal(t, now, msg.Timestamp)
	assert.NotEmpty(t, msg.ID)
	assert.NotNil(t, msg.Headers)

	other := NewMessage("hello")
	assert.NotEqual(t, msg.ID, other.ID, "message ids must be unique")
}

func TestMessage_Headers(t *testing.T) {
	msg := &Message{}
	_, ok := msg.Header("foo")
	assert.False(t, ok)

	msg.SetHeader("foo", "bar")
	msg.SetHeader("SenderId", "123")
	v, ok := msg.Header("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", v)
	assert.Equal(t, []string{"SenderId", "foo"}, msg.HeaderNames())
}

func TestLifecycleState_String(t *testing.T) {
	assert.Equal(t, "CREATED", StateCreated.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "STOPPING", StateStopping.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "LifecycleState(9)", LifecycleState(9).String())

	text, err := StateRunning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", string(text))
}
