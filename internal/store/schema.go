package store

import (
	"fmt"
	"time"

	"github.com/dyluth/hivemind/pkg/knowledge"
)

// Redis key pattern helpers
//
// All keys and Pub/Sub channels are namespaced so several swarms can share
// one Redis server.
//
// Key pattern: hivemind:{namespace}:{entity}:{id}
// Channel pattern: hivemind:{namespace}:{event_type}_events

// EntryKey returns the Redis key for an entry hash.
// Pattern: hivemind:{namespace}:entry:{entry_id}
func EntryKey(namespace, entryID string) string {
	return fmt.Sprintf("hivemind:%s:entry:%s", namespace, entryID)
}

// IdentityKey returns the Redis key mapping an identity hash to the id of
// the entry that first claimed it.
// Pattern: hivemind:{namespace}:identity:{identity_hash}
func IdentityKey(namespace, identityHash string) string {
	return fmt.Sprintf("hivemind:%s:identity:%s", namespace, identityHash)
}

// AllIndexKey returns the ZSET of every entry id scored by timestamp.
// Pattern: hivemind:{namespace}:index:all
func AllIndexKey(namespace string) string {
	return fmt.Sprintf("hivemind:%s:index:all", namespace)
}

// KindIndexKey returns the ZSET of entry ids of one kind.
// Pattern: hivemind:{namespace}:index:kind:{kind}
func KindIndexKey(namespace string, kind knowledge.Kind) string {
	return fmt.Sprintf("hivemind:%s:index:kind:%s", namespace, kind)
}

// TagIndexKey returns the ZSET of entry ids carrying a tag.
// Pattern: hivemind:{namespace}:index:tag:{tag}
func TagIndexKey(namespace, tag string) string {
	return fmt.Sprintf("hivemind:%s:index:tag:%s", namespace, tag)
}

// DuplicatesKey returns the counter of rejected duplicate writes.
// Pattern: hivemind:{namespace}:stats:duplicates
func DuplicatesKey(namespace string) string {
	return fmt.Sprintf("hivemind:%s:stats:duplicates", namespace)
}

// EntryEventsChannel returns the Pub/Sub channel for newly stored entries.
// Pattern: hivemind:{namespace}:entry_events
func EntryEventsChannel(namespace string) string {
	return fmt.Sprintf("hivemind:%s:entry_events", namespace)
}

// TimestampScore converts an entry timestamp into a ZSET score (Unix ms).
func TimestampScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}
