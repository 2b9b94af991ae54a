package media

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowbridge/bridge/pkg/bridge"
)

func TestPreviewRejectsEmptyData(t *testing.T) {
	_, err := Preview(&bridge.Attachment{Name: "doc.pdf"})
	assert.Error(t, err)
}

func TestPreviewUnsupportedKind(t *testing.T) {
	_, err := Preview(&bridge.Attachment{Name: "pic.jpg", Data: []byte{0xFF, 0xD8, 0xFF}})
	assert.ErrorIs(t, err, ErrUnsupportedPreview)
}

func TestTruncatePreviewKeepsUnderLimit(t *testing.T) {
	short := "hello world"
	assert.Equal(t, short, truncatePreview(short))
}

func TestTruncatePreviewCapsLongText(t *testing.T) {
	long := make([]byte, MaxPreviewChars+500)
	for i := range long {
		long[i] = 'a'
	}
	out := truncatePreview(string(long))
	assert.Less(t, len(out), len(long))
	assert.Contains(t, out, "…")
}
