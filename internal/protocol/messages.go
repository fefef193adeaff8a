// Package protocol defines the JSON messages exchanged on the bus.
package protocol

import "time"

// SpeakRequest asks the daemon to synthesize and play text. Empty voice and
// zero speed fall back to the configured defaults.
type SpeakRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Speed     int    `json:"speed,omitempty"`
	SSML      *bool  `json:"ssml,omitempty"`
}

// SpeakReply reports the outcome of a SpeakRequest. It is the request/reply
// response and is also published on the status subject.
type SpeakReply struct {
	RequestID string    `json:"request_id"`
	OK        bool      `json:"ok"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaybackControl acts on the active playback session.
type PlaybackControl struct {
	Action string `json:"action"`
}

const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
)

// Announce advertises a speaker daemon and what it can play.
type Announce struct {
	NodeID    string    `json:"node_id"`
	Version   string    `json:"version,omitempty"`
	Voices    []string  `json:"voices"`
	Playback  string    `json:"playback"`
	Timestamp time.Time `json:"timestamp"`
}

type Heartbeat struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Speaker is one entry of a presence query reply.
type Speaker struct {
	NodeID   string    `json:"node_id"`
	Version  string    `json:"version,omitempty"`
	Voices   []string  `json:"voices,omitempty"`
	Playback string    `json:"playback,omitempty"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

const (
	SubjectSpeakRequest     = "speak.request"
	SubjectSpeakStatus      = "speak.status"
	SubjectPlaybackControl  = "playback.control"
	SubjectPresenceAnnounce = "presence.announce"
	SubjectPresenceQuery    = "presence.query"
	// SubjectPresenceHeartbeat is followed by ".<node_id>".
	SubjectPresenceHeartbeat = "presence.heartbeat"
)

// Subject joins prefix and name into a full subject.
func Subject(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
