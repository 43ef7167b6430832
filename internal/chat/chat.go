// Package chat defines the transport boundary between the agent host and a
// chat system. A Transport delivers inbound messages and exposes the small
// set of outbound operations the runner needs: post, edit, delete, thread
// replies, uploads, typing. Rate limiting is the transport's job; callers
// may edit the same message aggressively.
package chat

import (
	"context"
	"time"
)

// MessageHandle identifies one posted message so it can be edited, deleted,
// or used as a thread anchor later.
type MessageHandle struct {
	ChannelID string
	MessageID string
}

// IsZero reports whether the handle refers to nothing.
func (h MessageHandle) IsZero() bool { return h.MessageID == "" }

// InboundFile is an attachment on an inbound message, still at its remote
// URL. Downloading is the store's concern.
type InboundFile struct {
	Name string
	URL  string
}

// InboundMessage is a normalized message from the chat system, already
// filtered to ones addressed to the bot (DM or mention) and stripped of the
// mention token.
type InboundMessage struct {
	ChannelID   string
	TS          string // transport message id; snowflakes sort lexically
	UserID      string
	UserName    string
	DisplayName string
	Text        string
	Files       []InboundFile
	IsDM        bool
	Time        time.Time
	IsBot       bool
}

// Handler receives inbound messages. Implementations must not block; the
// orchestrator hands work to per-channel queues.
type Handler func(msg InboundMessage)

// Transport is the chat system seen from the core.
type Transport interface {
	// Name identifies the transport ("discord", "cli") in logs.
	Name() string

	// BotName is the display name used for the stop hint in prompts.
	BotName() string

	// Run connects and pumps inbound messages into handler until ctx ends.
	Run(ctx context.Context, handler Handler) error

	PostMessage(ctx context.Context, channelID, text string) (MessageHandle, error)
	UpdateMessage(ctx context.Context, handle MessageHandle, text string) error
	DeleteMessage(ctx context.Context, handle MessageHandle) error

	// PostInThread replies under parent, creating the thread on first use
	// when the transport supports threads.
	PostInThread(ctx context.Context, parent MessageHandle, text string) (MessageHandle, error)

	UploadFile(ctx context.Context, channelID, path, title string) error
	SetTyping(ctx context.Context, channelID string, typing bool) error
}
