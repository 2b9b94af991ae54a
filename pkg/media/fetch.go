// Package media implements attachment retrieval: fetching a URL-referenced
// attachment's bytes under a hard size cap, classifying its MIME type, and
// synthesizing a filename when the source doesn't supply one.
package media

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/logger"
)

const (
	headTimeout = 10 * time.Second
	getTimeout  = 60 * time.Second
)

var httpClient = &http.Client{}

// FetchAttachment resolves att's bytes, honoring a hard maxBytes cap. It
// returns (nil, "") — "none" — if the attachment has no retrievable content,
// exceeds maxBytes, or any I/O error occurs; errors are logged, never
// returned, since a fetch failure degrades to "skip this attachment" rather
// than aborting the caller.
//
// If att.Data is already populated the fetch is local: no network I/O is
// performed, and an over-cap buffer is rejected exactly as a remote one
// would be.
func FetchAttachment(ctx context.Context, att *bridge.Attachment, maxBytes int64) ([]byte, string) {
	if len(att.Data) > 0 {
		if int64(len(att.Data)) > maxBytes {
			return nil, ""
		}
		return att.Data, GuessMimeFromName(att.Name)
	}
	if att.URL == "" {
		return nil, ""
	}

	if mime := headPreflight(ctx, att.URL, maxBytes); mime == headRejected {
		return nil, ""
	}

	return getWithCap(ctx, att.URL, maxBytes)
}

type headResult string

const headRejected headResult = "rejected"

// headPreflight issues a best-effort HEAD request; a Content-Length over
// maxBytes rejects the fetch without ever issuing the GET. Any other
// outcome (success under the cap, missing header, transport failure) allows
// the caller to proceed to the GET.
func headPreflight(ctx context.Context, url string, maxBytes int64) headResult {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return ""
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		logger.WarnCF("media.fetch", "HEAD preflight failed, continuing to GET", map[string]any{
			"url": url, "error": err.Error(),
		})
		return ""
	}
	resp.Body.Close()

	if resp.ContentLength > 0 && resp.ContentLength > maxBytes {
		return headRejected
	}
	return ""
}

// getWithCap performs the streaming GET, aborting as soon as the read
// exceeds maxBytes rather than buffering past it.
func getWithCap(ctx context.Context, url string, maxBytes int64) ([]byte, string) {
	ctx, cancel := context.WithTimeout(ctx, getTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logger.ErrorCF("media.fetch", "building GET request failed", map[string]any{"url": url, "error": err.Error()})
		return nil, ""
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		logger.ErrorCF("media.fetch", "GET failed", map[string]any{"url": url, "error": err.Error()})
		return nil, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.ErrorCF("media.fetch", "GET returned non-success status", map[string]any{"url": url, "status": resp.StatusCode})
		return nil, ""
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		logger.ErrorCF("media.fetch", "reading body failed", map[string]any{"url": url, "error": err.Error()})
		return nil, ""
	}
	if int64(len(data)) > maxBytes {
		return nil, ""
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
			ct = kind.MIME.Value
		} else if isWebP(data) {
			ct = "image/webp"
		}
	}
	return data, ct
}

// GuessMimeFromName infers a MIME type from a filename's extension,
// defaulting to "application/octet-stream" when unrecognized.
func GuessMimeFromName(name string) string {
	ext := extOf(name)
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return strings.SplitN(t, ";", 2)[0]
	}
	return "application/octet-stream"
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i:])
}

// isWebP performs the manual RIFF/WEBP container check filetype's sniffing
// table misses for some encoder variants.
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// mimeToExt maps a coarse set of common MIME types to the filename
// extension used to rewrite a ".tmp" hint (e.g. Yunhu CDN serving every
// image under a ".tmp" suffix) to the extension its actual content implies.
var mimeToExt = map[string]string{
	"image/jpeg":  ".jpg",
	"image/png":   ".png",
	"image/gif":   ".gif",
	"image/webp":  ".webp",
	"video/mp4":   ".mp4",
	"video/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/aac":   ".aac",
	"audio/amr":   ".amr",
}

// mimeToFallbackName maps a MIME type to the full filename FilenameFor
// synthesizes when no hint at all is available, by category the way a
// person would name it (a voice note is "voice.ogg", not "attachment.ogg").
var mimeToFallbackName = map[string]string{
	"image/jpeg": "photo.jpg",
	"image/png":  "photo.png",
	"image/gif":  "image.gif",
	"image/webp": "image.webp",
	"video/mp4":  "video.mp4",
	"video/webm": "video.webm",
	"audio/ogg":  "voice.ogg",
	"audio/mpeg": "audio.mp3",
	"audio/aac":  "audio.aac",
	"audio/amr":  "voice.amr",
}

// FilenameFor returns nameHint as-is, except that a ".tmp" suffix some
// platforms use for unclassified uploads is rewritten to the extension
// mimeType implies. With no hint at all, a name is synthesized per
// mimeType's category (image/jpeg -> "photo.jpg", audio/ogg -> "voice.ogg",
// ...), falling back to "attachment.bin" for unrecognized types.
func FilenameFor(nameHint, mimeType string) string {
	ct := strings.SplitN(mimeType, ";", 2)[0]

	if nameHint != "" {
		if !strings.HasSuffix(strings.ToLower(nameHint), ".tmp") {
			return nameHint
		}
		if ext, ok := mimeToExt[ct]; ok {
			return nameHint[:len(nameHint)-len(".tmp")] + ext
		}
		return nameHint
	}

	if name, ok := mimeToFallbackName[ct]; ok {
		return name
	}
	return "attachment.bin"
}

// MimeToAttType classifies a MIME type into the bridge's coarse attachment
// kinds, defaulting to file.
func MimeToAttType(mimeType string) bridge.AttachmentType {
	ct := strings.ToLower(strings.SplitN(mimeType, ";", 2)[0])
	switch {
	case strings.HasPrefix(ct, "image/"):
		return bridge.AttachmentImage
	case strings.HasPrefix(ct, "video/"):
		return bridge.AttachmentVideo
	case strings.HasPrefix(ct, "audio/"):
		return bridge.AttachmentVoice
	default:
		return bridge.AttachmentFile
	}
}
