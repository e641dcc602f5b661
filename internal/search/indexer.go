package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/store"
)

// backlogSize bounds the pending commit ranges. Search is best-effort
// derived state, so overflow drops the range with a warning instead of
// back-pressuring the mutation path.
const backlogSize = 1024

type idRange struct {
	first, last int64
}

// Indexer consumes the post-commit event stream and keeps the bleve
// index in sync with message state. It implements store.CommitPublisher
// so it can be fanned the same ranges as the WebSocket distributor.
type Indexer struct {
	index  *Index
	store  *store.Store
	logger *slog.Logger

	backlog chan idRange
	done    chan struct{}
	once    sync.Once
}

// NewIndexer builds the indexer and starts its worker goroutine.
func NewIndexer(index *Index, st *store.Store, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Indexer{
		index:   index,
		store:   st,
		logger:  logger.With("component", "search-indexer"),
		backlog: make(chan idRange, backlogSize),
		done:    make(chan struct{}),
	}
	go ix.run()
	return ix
}

// PublishCommitted implements store.CommitPublisher.
func (ix *Indexer) PublishCommitted(firstEventID, lastEventID int64) {
	select {
	case ix.backlog <- idRange{first: firstEventID, last: lastEventID}:
	default:
		ix.logger.Warn("search backlog full, dropping range",
			"first", firstEventID, "last", lastEventID)
	}
}

// Close stops the worker after draining the backlog.
func (ix *Indexer) Close() {
	ix.once.Do(func() { close(ix.backlog) })
	<-ix.done
}

func (ix *Indexer) run() {
	defer close(ix.done)
	for r := range ix.backlog {
		ix.apply(r)
	}
}

func (ix *Indexer) apply(r idRange) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := ix.store.GetEvents(ctx, r.first, r.last)
	if err != nil {
		ix.logger.Error("load events for indexing", "error", err)
		return
	}

	for _, ev := range events {
		switch ev.Name {
		case domain.EventMessageCreated, domain.EventMessageEdited, domain.EventMessageMovedTopic:
			ix.reindex(ctx, ev.Entity.ID)
		case domain.EventMessageDeleted:
			if err := ix.index.Delete(ev.Entity.ID); err != nil {
				ix.logger.Error("deindex message", "error", err, "message_id", ev.Entity.ID)
			}
		}
	}
}

// reindex re-reads the message row and upserts its current projection.
// Reading current state rather than replaying event payloads keeps the
// index correct regardless of event ordering within the range.
func (ix *Indexer) reindex(ctx context.Context, messageID string) {
	msg, err := ix.store.GetMessage(ctx, messageID)
	if err != nil {
		ix.logger.Error("read message for indexing", "error", err, "message_id", messageID)
		return
	}
	if msg.Deleted() {
		if err := ix.index.Delete(msg.ID); err != nil {
			ix.logger.Error("deindex message", "error", err, "message_id", msg.ID)
		}
		return
	}
	err = ix.index.Upsert(MessageDoc{
		MessageID: msg.ID,
		TopicID:   msg.TopicID,
		ChannelID: msg.ChannelID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		ix.logger.Error("index message", "error", err, "message_id", msg.ID)
	}
}
