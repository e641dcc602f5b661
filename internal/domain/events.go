package domain

import (
	"encoding/json"
	"time"
)

// Event names emitted by the mutation kernel.
const (
	EventChannelCreated       = "channel.created"
	EventTopicCreated         = "topic.created"
	EventTopicRenamed         = "topic.renamed"
	EventTopicAttachmentAdded = "topic.attachment_added"
	EventMessageCreated       = "message.created"
	EventMessageEdited        = "message.edited"
	EventMessageDeleted       = "message.deleted"
	EventMessageEnriched      = "message.enriched"
	EventMessageMovedTopic    = "message.moved_topic"
)

// EventScope is the routing tuple attached to every event. TopicID2 is
// only set on message.moved_topic, where TopicID is the old topic and
// TopicID2 the new one, so subscribers of either topic see the move.
type EventScope struct {
	ChannelID string `json:"channel_id,omitempty"`
	TopicID   string `json:"topic_id,omitempty"`
	TopicID2  string `json:"topic_id2,omitempty"`
}

// EventEntity identifies the row an event is about.
type EventEntity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Event is one immutable record in the append-only log. EventID is
// assigned by the store on append and is strictly increasing across the
// life of the store. Data is opaque at the log layer; known event names
// carry the payloads documented on the kernel operations.
type Event struct {
	EventID int64           `json:"event_id"`
	TS      time.Time       `json:"ts"`
	Name    string          `json:"name"`
	Scope   EventScope      `json:"scope"`
	Entity  EventEntity     `json:"entity,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// scopeRequirement describes which scope fields a known event name must
// carry. Unknown names are accepted with any scope so plugins can extend
// the log additively.
type scopeRequirement struct {
	channel bool
	topic   bool
	topic2  bool
}

var knownEventScopes = map[string]scopeRequirement{
	EventChannelCreated:       {channel: true},
	EventTopicCreated:         {channel: true, topic: true},
	EventTopicRenamed:         {channel: true, topic: true},
	EventTopicAttachmentAdded: {channel: true, topic: true},
	EventMessageCreated:       {channel: true, topic: true},
	EventMessageEdited:        {channel: true, topic: true},
	EventMessageDeleted:       {channel: true, topic: true},
	EventMessageEnriched:      {channel: true, topic: true},
	EventMessageMovedTopic:    {channel: true, topic: true, topic2: true},
}

// MissingScopeField returns the name of the first required scope field the
// event name demands but the scope does not carry, or "" when the scope is
// acceptable. Names outside the known catalog never report a missing field.
func MissingScopeField(name string, scope EventScope) string {
	req, known := knownEventScopes[name]
	if !known {
		return ""
	}
	if req.channel && scope.ChannelID == "" {
		return "channel_id"
	}
	if req.topic && scope.TopicID == "" {
		return "topic_id"
	}
	if req.topic2 && scope.TopicID2 == "" {
		return "topic_id2"
	}
	return ""
}

// Matches implements scope routing: an event matches a subscription when
// any subscribed channel equals the event's channel, or any subscribed
// topic equals the event's topic_id or topic_id2. An empty subscription
// matches every event.
func (s EventScope) Matches(channelIDs, topicIDs []string) bool {
	if len(channelIDs) == 0 && len(topicIDs) == 0 {
		return true
	}
	for _, id := range channelIDs {
		if id != "" && id == s.ChannelID {
			return true
		}
	}
	for _, id := range topicIDs {
		if id == "" {
			continue
		}
		if id == s.TopicID || id == s.TopicID2 {
			return true
		}
	}
	return false
}
