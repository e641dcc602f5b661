// Package search maintains an optional full-text index over message
// bodies. The index is derived state: it is updated from newly committed
// events and its loss never affects the log or the entities. A lost
// index is not repopulated from events already in the log.
package search

import (
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// IndexDirName is the index directory inside the workspace dot-dir.
const IndexDirName = "search.bleve"

// MessageDoc is the indexed projection of a message.
type MessageDoc struct {
	MessageID string    `json:"message_id"`
	TopicID   string    `json:"topic_id"`
	ChannelID string    `json:"channel_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is one search result.
type Hit struct {
	MessageID string  `json:"message_id"`
	Score     float64 `json:"score"`
}

// Index wraps a bleve index keyed by message id.
type Index struct {
	idx bleve.Index
}

// Open opens or creates the index at path.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("search: create index: %w", err)
		}
	}
	return &Index{idx: idx}, nil
}

// Close releases the index.
func (i *Index) Close() error {
	return i.idx.Close()
}

// buildIndexMapping creates the document mapping for messages.
func buildIndexMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "standard"

	keywordField := bleve.NewKeywordFieldMapping()

	dateField := bleve.NewDateTimeFieldMapping()

	msgMapping := bleve.NewDocumentMapping()
	msgMapping.AddFieldMappingsAt("message_id", keywordField)
	msgMapping.AddFieldMappingsAt("topic_id", keywordField)
	msgMapping.AddFieldMappingsAt("channel_id", keywordField)
	msgMapping.AddFieldMappingsAt("sender", keywordField)
	msgMapping.AddFieldMappingsAt("content", textField)
	msgMapping.AddFieldMappingsAt("created_at", dateField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = msgMapping
	return indexMapping
}

// Upsert indexes or reindexes one message document.
func (i *Index) Upsert(doc MessageDoc) error {
	if err := i.idx.Index(doc.MessageID, doc); err != nil {
		return fmt.Errorf("search: index message %s: %w", doc.MessageID, err)
	}
	return nil
}

// Delete removes a message document; unknown ids are a no-op.
func (i *Index) Delete(messageID string) error {
	if err := i.idx.Delete(messageID); err != nil {
		return fmt.Errorf("search: delete message %s: %w", messageID, err)
	}
	return nil
}

// Query runs a match query over message content, optionally restricted to
// one topic, and returns hits by descending score.
func (i *Index) Query(q, topicID string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 25
	}

	match := bleve.NewMatchQuery(q)
	match.SetField("content")

	var query bleve.SearchRequest
	if topicID != "" {
		topicQ := bleve.NewTermQuery(topicID)
		topicQ.SetField("topic_id")
		query = *bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(match, topicQ), limit, 0, false)
	} else {
		query = *bleve.NewSearchRequestOptions(match, limit, 0, false)
	}

	res, err := i.idx.Search(&query)
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{MessageID: h.ID, Score: h.Score})
	}
	return hits, nil
}
