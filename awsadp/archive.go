package awsadp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/mashiike/cloudaws"
)

// ArchiveHandlerConfig holds configuration for ArchiveHandler
type ArchiveHandlerConfig struct {
	Loader *S3ResourceLoader
	Bucket string
	Prefix string
	// ContentType is used when the message carries no contentType header.
	// When both are empty the type is detected from the payload.
	ContentType string
	Logger      *slog.Logger
}

// ArchiveHandler stores every message payload as an S3 object at
// s3://<bucket>/<prefix>/<queue>/<message id> and replies with the object location.
type ArchiveHandler struct {
	cfg ArchiveHandlerConfig
}

var _ cloudaws.ReplyHandler = (*ArchiveHandler)(nil)

// NewArchiveHandler creates a new archive handler
func NewArchiveHandler(cfg ArchiveHandlerConfig) (*ArchiveHandler, error) {
	if cfg.Loader == nil {
		return nil, errors.New("resource loader is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ArchiveHandler{cfg: cfg}, nil
}

// Location returns the s3:// location msg is archived to
func (h *ArchiveHandler) Location(msg *cloudaws.Message) string {
	queue := msg.Queue
	if queue == "" {
		queue = "_"
	}
	return "s3://" + h.cfg.Bucket + "/" + path.Join(h.cfg.Prefix, queue, msg.ID)
}

// HandleMessage implements cloudaws.Handler
func (h *ArchiveHandler) HandleMessage(ctx context.Context, msg *cloudaws.Message) error {
	_, err := h.archive(ctx, msg)
	return err
}

// HandleMessageWithReply implements cloudaws.ReplyHandler
func (h *ArchiveHandler) HandleMessageWithReply(ctx context.Context, msg *cloudaws.Message) (*cloudaws.Message, error) {
	uri, err := h.archive(ctx, msg)
	if err != nil {
		return nil, err
	}
	reply := cloudaws.NewMessage(uri)
	reply.SetHeader(cloudaws.HeaderContentType, "text/uri-list")
	return reply, nil
}

func (h *ArchiveHandler) archive(ctx context.Context, msg *cloudaws.Message) (string, error) {
	res, err := h.cfg.Loader.GetResource(h.Location(msg))
	if err != nil {
		return "", err
	}
	contentType := h.cfg.ContentType
	if msg.ContentType != nil {
		contentType = msg.ContentType.String()
	}
	w, err := res.NewWriter(ctx, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to create writer for %s: %w", res.URI(), err)
	}
	if _, err := io.WriteString(w, msg.Payload); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write %s: %w", res.URI(), err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", res.URI(), err)
	}
	h.cfg.Logger.DebugContext(ctx, "Message archived", "message_id", msg.ID, "location", res.URI(), "size", len(msg.Payload))
	return res.URI(), nil
}
