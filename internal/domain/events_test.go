package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMissingScopeField(t *testing.T) {
	tests := []struct {
		name  string
		event string
		scope EventScope
		want  string
	}{
		{"channel created ok", EventChannelCreated, EventScope{ChannelID: "c1"}, ""},
		{"channel created missing channel", EventChannelCreated, EventScope{}, "channel_id"},
		{"topic created ok", EventTopicCreated, EventScope{ChannelID: "c1", TopicID: "t1"}, ""},
		{"topic created missing topic", EventTopicCreated, EventScope{ChannelID: "c1"}, "topic_id"},
		{"message created missing channel", EventMessageCreated, EventScope{TopicID: "t1"}, "channel_id"},
		{"moved topic ok", EventMessageMovedTopic, EventScope{ChannelID: "c1", TopicID: "t1", TopicID2: "t2"}, ""},
		{"moved topic missing topic2", EventMessageMovedTopic, EventScope{ChannelID: "c1", TopicID: "t1"}, "topic_id2"},
		{"unknown name passes empty scope", "plugin.custom", EventScope{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MissingScopeField(tt.event, tt.scope))
		})
	}
}

func TestScopeMatches(t *testing.T) {
	scope := EventScope{ChannelID: "c1", TopicID: "t-old", TopicID2: "t-new"}

	// Empty subscription matches everything.
	assert.True(t, scope.Matches(nil, nil))
	assert.True(t, EventScope{}.Matches(nil, nil))

	// Channel match.
	assert.True(t, scope.Matches([]string{"c1"}, nil))
	assert.False(t, scope.Matches([]string{"c2"}, nil))

	// Topic match covers both sides of a move.
	assert.True(t, scope.Matches(nil, []string{"t-old"}))
	assert.True(t, scope.Matches(nil, []string{"t-new"}))
	assert.False(t, scope.Matches(nil, []string{"t-other"}))

	// OR composition.
	assert.True(t, scope.Matches([]string{"c2"}, []string{"t-new"}))
	assert.False(t, scope.Matches([]string{"c2"}, []string{"t-other"}))

	// Empty ids never match scope fields that are empty.
	assert.False(t, EventScope{ChannelID: "c1"}.Matches([]string{"c2"}, []string{""}))
}

func TestRetopicModeValid(t *testing.T) {
	assert.True(t, RetopicOne.Valid())
	assert.True(t, RetopicLater.Valid())
	assert.True(t, RetopicAll.Valid())
	assert.False(t, RetopicMode("sideways").Valid())
	assert.False(t, RetopicMode("").Valid())
}

func TestMessageDeleted(t *testing.T) {
	m := Message{}
	assert.False(t, m.Deleted())
}
