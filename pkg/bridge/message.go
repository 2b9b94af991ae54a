// Package bridge implements the platform-agnostic message substrate: the
// normalized message model and the rule-matching router that fans inbound
// messages out to registered driver senders.
package bridge

// AttachmentType classifies a media blob carried alongside a message.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentVoice AttachmentType = "voice"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is a media blob associated with a NormalizedMessage.
//
// At least one of URL or Data must be non-empty; an attachment satisfying
// neither is ignored on send (see media.FetchAttachment).
type Attachment struct {
	Type AttachmentType
	URL  string
	Name string
	// Size is the byte count, or -1 if unknown.
	Size int64
	// Data holds pre-fetched bytes. When present the media fetcher skips
	// network I/O entirely. Not a cache — its lifetime is the message's.
	Data []byte
}

// Empty reports whether the attachment carries neither a URL nor inline data,
// in which case it must be dropped before sending.
func (a Attachment) Empty() bool {
	return a.URL == "" && len(a.Data) == 0
}

// Channel identifies a location within a platform — a group, room, or
// conversation. Keys vary by platform (chat_id, room_id, group_id,
// channel_id, space_name, ...); matching is purely structural.
type Channel map[string]any

// Equal reports deep equality between two channel address maps, comparing
// values by their string form so "123" and the number 123 are equivalent.
func (c Channel) Equal(other Channel) bool {
	if len(c) != len(other) {
		return false
	}
	for k, v := range c {
		ov, ok := other[k]
		if !ok || stringify(v) != stringify(ov) {
			return false
		}
	}
	return true
}

// Get returns the string form of key, or "" if absent.
func (c Channel) Get(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	return stringify(v)
}

// NormalizedMessage is the bridge's lingua franca: every driver translates
// its platform's wire event into one of these before calling Router.OnMessage.
// It is created by a driver on receive, passed once to the router, and
// discarded — the router never retains it.
type NormalizedMessage struct {
	// Platform is the driver kind tag (e.g. "discord"); informational only.
	Platform string
	// InstanceID uniquely identifies the source driver instance; it matches
	// a key in configuration.
	InstanceID string
	Channel    Channel

	User       string
	UserID     string
	UserAvatar string

	Text        string
	Attachments []Attachment

	// MessageID and ReplyParent are optional, used for reply threading via
	// the ID mapping store. The router only passes them through. ReplyParent
	// holds the BridgeID of the message being replied to: a source driver
	// that supports threading resolves the platform-local id it observed to
	// a BridgeID before calling OnMessage.
	MessageID   string
	ReplyParent string

	// BridgeID is the cross-platform correlation id for this message. It is
	// assigned by Router.OnMessage if left empty, and exposed to senders via
	// the "_bridge_id" extra field so a driver that records it in the ID
	// mapping store (pkg/store) can thread replies later. The router itself
	// never reads or writes the store.
	BridgeID string
}
