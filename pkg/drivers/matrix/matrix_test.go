package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/event"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
)

func TestMxcToHTTP(t *testing.T) {
	d := &Driver{cfg: &config.MatrixConfig{Homeserver: "https://matrix.org/"}}
	assert.Equal(t, "https://matrix.org/_matrix/media/v3/download/matrix.org/abc123",
		d.mxcToHTTP("mxc://matrix.org/abc123"))
}

func TestMxcToHTTPRejectsNonMxc(t *testing.T) {
	d := &Driver{cfg: &config.MatrixConfig{Homeserver: "https://matrix.org"}}
	assert.Equal(t, "", d.mxcToHTTP("https://example.com/x"))
}

func TestAttTypeFor(t *testing.T) {
	assert.Equal(t, bridge.AttachmentImage, attTypeFor(event.MsgImage))
	assert.Equal(t, bridge.AttachmentVoice, attTypeFor(event.MsgAudio))
	assert.Equal(t, bridge.AttachmentType(""), attTypeFor(event.MsgText))
}

func TestMsgTypeFor(t *testing.T) {
	assert.Equal(t, event.MsgVideo, msgTypeFor(bridge.AttachmentVideo))
	assert.Equal(t, event.MsgFile, msgTypeFor(bridge.AttachmentFile))
}

func TestSendFailsWithoutClient(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.MatrixConfig{}}
	_, err := d.send(nil, bridge.Channel{"room_id": "!x:matrix.org"}, "hi", nil, nil)
	assert.Error(t, err)
}
