// Package store persists the cross-platform message-ID correspondence that
// lets a driver thread replies back to the right platform-specific message.
// The router itself never consults it; only drivers do.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/flowbridge/bridge/pkg/logger"
)

// MessageDB maps a synthetic bridge ID to the platform-specific message ID
// each target instance produced when it relayed that message, so a later
// reply on any one platform can be threaded to the corresponding message on
// every other platform.
type MessageDB struct {
	db *sql.DB
}

// Open creates (if absent) and opens the message-mapping database at
// <dataDir>/messages.db.
func Open(dataDir string) (*MessageDB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating data dir: %w", err)
	}
	path := filepath.Join(dataDir, "messages.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	m := &MessageDB{db: db}
	if err := m.init(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *MessageDB) init() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS message_mappings (
			bridge_id TEXT,
			instance_id TEXT,
			channel_id TEXT,
			platform_msg_id TEXT,
			PRIMARY KEY (instance_id, platform_msg_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("store: creating message_mappings: %w", err)
	}
	_, err = m.db.Exec(`CREATE INDEX IF NOT EXISTS idx_bridge_id ON message_mappings (bridge_id)`)
	if err != nil {
		return fmt.Errorf("store: creating bridge_id index: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (m *MessageDB) Close() error {
	return m.db.Close()
}

// SaveMapping records that bridgeID's relay to instanceID/channelID produced
// platformMsgID, replacing any prior mapping for the same
// (instanceID, platformMsgID) pair. Failures are logged, not returned — a
// lost mapping only degrades reply threading, it must not abort delivery.
func (m *MessageDB) SaveMapping(bridgeID, instanceID, channelID, platformMsgID string) {
	_, err := m.db.Exec(`
		INSERT OR REPLACE INTO message_mappings (bridge_id, instance_id, channel_id, platform_msg_id)
		VALUES (?, ?, ?, ?)
	`, bridgeID, instanceID, channelID, platformMsgID)
	if err != nil {
		logger.ErrorCF("store.messagedb", "failed to save message mapping", map[string]any{"error": err.Error()})
	}
}

// BridgeIDFor looks up the bridge ID that produced platformMsgID on
// instanceID, the first step in threading a reply: the replying driver
// resolves its own platform_msg_id back to the shared bridge_id.
func (m *MessageDB) BridgeIDFor(instanceID, platformMsgID string) (string, bool) {
	var bridgeID string
	err := m.db.QueryRow(`
		SELECT bridge_id FROM message_mappings WHERE instance_id = ? AND platform_msg_id = ?
	`, instanceID, platformMsgID).Scan(&bridgeID)
	if err != nil {
		return "", false
	}
	return bridgeID, true
}

// PlatformMsgIDFor looks up the platform-specific message ID a target
// instance produced for bridgeID — the second step in threading a reply:
// each target driver resolves the shared bridge_id to its own local id.
// channelID, if non-empty, further scopes the lookup to one channel within
// the instance.
func (m *MessageDB) PlatformMsgIDFor(bridgeID, instanceID, channelID string) (string, bool) {
	var query string
	args := []any{bridgeID, instanceID}
	if channelID != "" {
		query = `SELECT platform_msg_id FROM message_mappings WHERE bridge_id = ? AND instance_id = ? AND channel_id = ?`
		args = append(args, channelID)
	} else {
		query = `SELECT platform_msg_id FROM message_mappings WHERE bridge_id = ? AND instance_id = ?`
	}

	var platformMsgID string
	if err := m.db.QueryRow(query, args...).Scan(&platformMsgID); err != nil {
		return "", false
	}
	return platformMsgID, true
}
