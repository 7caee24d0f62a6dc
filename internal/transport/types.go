// Package transport defines the chat-transport contract the rest of the bot
// is written against. The Telegram implementation lives in
// internal/transport/telegram.
package transport

import "context"

// TextLimit is the outgoing message budget in runes, shared by the adapter
// and everything that pre-chunks text for it. It stays under Telegram's
// 4096 cap with a margin so upstream formatting slips never bounce a whole
// notification.
const TextLimit = 4000

// Message is one incoming text message from a user.
type Message struct {
	ID            int
	ChatID        int64
	FromID        int64
	FromUsername  string
	FromFirstName string
	FromLastName  string
	Text          string
}

// Update is a single incoming transport event.
type Update struct {
	Message *Message
}

// ChatTarget addresses an outgoing message.
type ChatTarget struct {
	ChatID int64
}

// SendOptions tweak outgoing message rendering.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// BotCommand is a single entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// Adapter is the messaging collaborator: it receives user commands and
// delivers notification text. A failed SendText means the message was not
// delivered; callers must not treat it as sent.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt SendOptions) error
}

// CommandMenuUpdater is an optional interface adapters can implement to
// publish the command menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
