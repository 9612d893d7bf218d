// Package livestate holds realtime session state in Redis: last-known
// locations with TTL, presence sets, connection bindings, activity stamps
// and the cross-node pub/sub channels.
package livestate

import "strings"

// SessionChannelPattern is the pattern every node subscribes to for
// cross-node fan-in.
const SessionChannelPattern = "channel:session:*"

const sessionChannelPrefix = "channel:session:"

// LocationKey is the key for a participant's last-known location:
// locations:{session_id}:{user_id}.
func LocationKey(sessionID, userID string) string {
	return "locations:" + sessionID + ":" + userID
}

// PresenceKey is the key for a session's presence set:
// session_participants:{session_id}.
func PresenceKey(sessionID string) string {
	return "session_participants:" + sessionID
}

// ConnectionKey is the key for a user's connection binding:
// connections:{user_id}.
func ConnectionKey(userID string) string {
	return "connections:" + userID
}

// ActivityKey is the key for a session's activity stamp:
// session_activity:{session_id}.
func ActivityKey(sessionID string) string {
	return "session_activity:" + sessionID
}

// SessionChannel is the pub/sub channel carrying serialized server→client
// envelopes for a session: channel:session:{session_id}.
func SessionChannel(sessionID string) string {
	return sessionChannelPrefix + sessionID
}

// SessionIDFromChannel extracts the session id from a channel name.
// Returns false for channels outside the session namespace.
func SessionIDFromChannel(channel string) (string, bool) {
	id := strings.TrimPrefix(channel, sessionChannelPrefix)
	if id == channel || id == "" {
		return "", false
	}
	return id, true
}

// userIDFromLocationKey extracts the user id from a location key
// (locations:{session_id}:{user_id}). User ids contain no colons.
func userIDFromLocationKey(key string) (string, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
