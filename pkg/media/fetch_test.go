package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbridge/bridge/pkg/bridge"
)

func TestFetchAttachmentSmall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-png-bytes"))
	}))
	defer srv.Close()

	att := &bridge.Attachment{URL: srv.URL + "/pic.png"}
	data, mimeType := FetchAttachment(context.Background(), att, 1<<20)

	require.NotNil(t, data)
	assert.Equal(t, "fake-png-bytes", string(data))
	assert.Equal(t, "image/png", mimeType)
}

func TestFetchAttachmentAbortsOverCap(t *testing.T) {
	body := strings.Repeat("x", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	att := &bridge.Attachment{URL: srv.URL + "/big.bin"}
	data, mimeType := FetchAttachment(context.Background(), att, 100)

	assert.Nil(t, data, "a rejected fetch must return none, never a truncated buffer")
	assert.Empty(t, mimeType)
}

func TestFetchAttachmentNeverExceedsCapFromHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "12000000")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(make([]byte, 12_000_000))
	}))
	defer srv.Close()

	att := &bridge.Attachment{URL: srv.URL + "/huge.bin"}
	data, _ := FetchAttachment(context.Background(), att, 8_000_000)
	assert.Nil(t, data, "HEAD content-length over the cap must reject without a GET body")
}

func TestFetchAttachmentUsesPrefetchedData(t *testing.T) {
	att := &bridge.Attachment{URL: "http://example.invalid/never-hit", Data: []byte("already have it"), Name: "note.txt"}
	data, mimeType := FetchAttachment(context.Background(), att, 1<<20)
	require.NotNil(t, data)
	assert.Equal(t, "already have it", string(data))
	assert.Equal(t, "text/plain", mimeType)
}

func TestFetchAttachmentPrefetchedOverCapRejected(t *testing.T) {
	att := &bridge.Attachment{Data: make([]byte, 200)}
	data, _ := FetchAttachment(context.Background(), att, 100)
	assert.Nil(t, data)
}

func TestFetchAttachmentNoURLOrData(t *testing.T) {
	att := &bridge.Attachment{}
	data, mimeType := FetchAttachment(context.Background(), att, 100)
	assert.Nil(t, data)
	assert.Empty(t, mimeType)
}

func TestFilenameForRewritesTmpSuffix(t *testing.T) {
	assert.Equal(t, "photo.jpg", FilenameFor("photo.tmp", "image/jpeg"))
}

func TestFilenameForKeepsExistingName(t *testing.T) {
	assert.Equal(t, "photo.jpg", FilenameFor("photo.jpg", "image/png"))
}

func TestFilenameForDefaultsWhenMissing(t *testing.T) {
	assert.Equal(t, "attachment.bin", FilenameFor("", "application/x-unknown"))
}

func TestFilenameForSynthesizesFromMime(t *testing.T) {
	assert.Equal(t, "voice.ogg", FilenameFor("", "audio/ogg"))
	assert.Equal(t, "photo.jpg", FilenameFor("", "image/jpeg"))
}

func TestMimeToAttTypeClassifiesByPrefix(t *testing.T) {
	assert.Equal(t, bridge.AttachmentImage, MimeToAttType("image/jpeg"))
	assert.Equal(t, bridge.AttachmentVideo, MimeToAttType("video/mp4"))
	assert.Equal(t, bridge.AttachmentVoice, MimeToAttType("audio/ogg"))
	assert.Equal(t, bridge.AttachmentFile, MimeToAttType("application/pdf"))
}
