// Package hub assembles the server: store, distributor, search indexer,
// HTTP router, and the workspace descriptor. The same assembly backs the
// serve command and the integration test harness.
package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/phosphorco/agenthub/internal/api"
	"github.com/phosphorco/agenthub/internal/api/handlers"
	"github.com/phosphorco/agenthub/internal/api/middleware"
	"github.com/phosphorco/agenthub/internal/config"
	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/metrics"
	"github.com/phosphorco/agenthub/internal/search"
	"github.com/phosphorco/agenthub/internal/store"
	"github.com/phosphorco/agenthub/internal/streaming"
	"github.com/phosphorco/agenthub/internal/workspace"
)

// ErrLockConflict is returned by Start when another daemon owns the
// workspace store. The serve command maps it to exit code 10.
var ErrLockConflict = errors.New("hub: another daemon owns this workspace")

// Hub is a running server instance.
type Hub struct {
	Store       *store.Store
	Distributor *streaming.Distributor
	Metrics     *metrics.Metrics
	Descriptor  *workspace.Descriptor

	root      string
	index     *search.Index
	indexer   *search.Indexer
	server    *http.Server
	listener  net.Listener
	logger    *slog.Logger
	serveErr  chan error
	startedAt time.Time
}

// Start opens the workspace at root, binds the listener, writes the
// descriptor, and begins serving. Port 0 picks an ephemeral port.
func Start(ctx context.Context, root string, cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}

	markerDir, err := workspace.Init(root)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, markerDir)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return nil, ErrLockConflict
		}
		return nil, err
	}

	h := &Hub{
		Store:     st,
		Metrics:   metrics.New(),
		root:      root,
		logger:    logger,
		serveErr:  make(chan error, 1),
		startedAt: time.Now().UTC(),
	}
	h.Distributor = streaming.NewDistributor(st, logger, h.Metrics)

	publishers := store.Publishers{h.Distributor}
	if cfg.SearchEnabled {
		idx, err := search.Open(filepath.Join(markerDir, search.IndexDirName))
		if err != nil {
			st.Close()
			return nil, err
		}
		h.index = idx
		h.indexer = search.NewIndexer(idx, st, logger)
		publishers = append(publishers, h.indexer)
	}
	st.SetPublisher(publishers)

	instanceID := uuid.NewString()
	token, err := mintToken()
	if err != nil {
		h.closeQuietly()
		return nil, err
	}

	authMW := middleware.NewAuthMiddleware(token)
	channelH := handlers.NewChannelHandlers(st)
	topicH := handlers.NewTopicHandlers(st)
	messageH := handlers.NewMessageHandlers(st)

	router := api.NewRouter(api.RouterConfig{
		AuthToken:     token,
		RateRPS:       cfg.RateRPS,
		RateBurst:     cfg.RateBurst,
		OnRateLimited: h.Metrics.RequestRateLimited,

		HealthHandler:  handlers.NewHealthHandler(st, instanceID, h.startedAt),
		MetricsHandler: h.Metrics.Handler(),

		CreateChannelHandler: channelH.CreateChannel(),
		ListChannelsHandler:  channelH.ListChannels(),
		CreateTopicHandler:   channelH.CreateTopic(),
		ListTopicsHandler:    channelH.ListTopics(),

		RenameTopicHandler:     topicH.RenameTopic(),
		AddAttachmentHandler:   topicH.AddAttachment(),
		ListAttachmentsHandler: topicH.ListAttachments(),

		SendMessageHandler:    messageH.SendMessage(),
		ListMessagesHandler:   messageH.ListMessages(),
		GetMessageHandler:     messageH.GetMessage(),
		EditMessageHandler:    messageH.EditMessage(),
		DeleteMessageHandler:  messageH.DeleteMessage(),
		RetopicMessageHandler: messageH.RetopicMessage(),
		EnrichMessageHandler:  messageH.EnrichMessage(),

		EventsHandler: handlers.NewEventsHandler(st),
		SearchHandler: handlers.NewSearchHandler(h.index, st),
		WSHandler:     handlers.NewStreamHandler(h.Distributor, authMW, instanceID),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		h.closeQuietly()
		return nil, fmt.Errorf("hub: listen on %s: %w", addr, err)
	}
	h.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	schemaVersion, err := st.SchemaVersion(ctx)
	if err != nil {
		listener.Close()
		h.closeQuietly()
		return nil, err
	}

	h.Descriptor = &workspace.Descriptor{
		InstanceID:      instanceID,
		DBID:            st.DBID(),
		Host:            cfg.Host,
		Port:            port,
		AuthToken:       token,
		PID:             os.Getpid(),
		StartedAt:       h.startedAt,
		ProtocolVersion: domain.ProtocolVersion,
		SchemaVersion:   schemaVersion,
	}
	if err := workspace.WriteDescriptor(root, h.Descriptor); err != nil {
		listener.Close()
		h.closeQuietly()
		return nil, err
	}

	h.server = &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.serveErr <- err
		}
		close(h.serveErr)
	}()

	logger.Info("hub started",
		"workspace", root,
		"addr", fmt.Sprintf("%s:%d", cfg.Host, port),
		"instance_id", instanceID,
		"db_id", st.DBID(),
	)
	return h, nil
}

// ServeErr reports a fatal server error, if any, once serving stops.
func (h *Hub) ServeErr() <-chan error { return h.serveErr }

// Shutdown closes sessions with a going-away code, stops the HTTP
// server, flushes the search indexer, and releases the store.
func (h *Hub) Shutdown(ctx context.Context) {
	h.Distributor.Shutdown()
	if h.server != nil {
		if err := h.server.Shutdown(ctx); err != nil {
			h.logger.Warn("http shutdown", "error", err)
		}
	}
	workspace.RemoveDescriptor(h.root)
	h.closeQuietly()
	h.logger.Info("hub stopped", "workspace", h.root)
}

func (h *Hub) closeQuietly() {
	if h.indexer != nil {
		h.indexer.Close()
		h.indexer = nil
	}
	if h.index != nil {
		if err := h.index.Close(); err != nil {
			h.logger.Warn("close search index", "error", err)
		}
		h.index = nil
	}
	if h.Store != nil {
		if err := h.Store.Close(); err != nil {
			h.logger.Warn("close store", "error", err)
		}
	}
}

// mintToken generates the workspace bearer token.
func mintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("hub: mint token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
