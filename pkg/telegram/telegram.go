// Package telegram defines the boundary to the remote messaging platform.
//
// telegrab does not implement the platform's wire protocol. Everything the
// core needs from the network is expressed as the interfaces in this
// package: Bot for the bot-account delivery surface, UserClient for an
// authenticated per-user connection, LoginClient for the multi-step login
// handshake, and Connector as the factory for the latter two. A concrete
// implementation backed by an MTProto library is wired in at startup;
// tests substitute fakes.
package telegram

import (
	"context"
	"strconv"
)

// Scope identifies a chat, channel, or group on the platform. Public scopes
// carry a username; private scopes carry a numeric chat id that already
// includes the -100 channel prefix.
type Scope struct {
	Username string
	ChatID   int64
}

// PublicScope returns a Scope addressing a public username.
func PublicScope(username string) Scope {
	return Scope{Username: username}
}

// PrivateScope returns a Scope addressing a private numeric chat id.
func PrivateScope(chatID int64) Scope {
	return Scope{ChatID: chatID}
}

// IsPrivate reports whether the scope addresses a private chat id.
func (s Scope) IsPrivate() bool {
	return s.Username == ""
}

func (s Scope) String() string {
	if s.IsPrivate() {
		return strconv.FormatInt(s.ChatID, 10)
	}
	return s.Username
}

// MediaKind classifies the payload of a message.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaVideo
	MediaPhoto
	MediaDocument
	MediaAudio
)

func (k MediaKind) String() string {
	switch k {
	case MediaVideo:
		return "video"
	case MediaPhoto:
		return "photo"
	case MediaDocument:
		return "document"
	case MediaAudio:
		return "audio"
	default:
		return "none"
	}
}

// FileRef is an opaque handle to a downloadable file on the platform.
type FileRef struct {
	ID   string
	Size int64
}

// Media describes the downloadable payload of a message, including the
// metadata captured before the main transfer for video-like items.
type Media struct {
	Kind     MediaKind
	MIMEType string
	FileName string
	Size     int64

	// Video metadata, zero for non-video items
	Duration int
	Width    int
	Height   int

	// Thumbnail provided by the platform, nil if absent.
	// Thumbnails are relayed as-is, never re-encoded.
	Thumbnail *FileRef

	File FileRef
}

// IsVideo reports whether the media should be delivered as a streamable
// video. Some videos arrive typed as documents with a video MIME type.
func (m *Media) IsVideo() bool {
	if m == nil {
		return false
	}
	if m.Kind == MediaVideo {
		return true
	}
	return m.Kind == MediaDocument && len(m.MIMEType) >= 6 && m.MIMEType[:6] == "video/"
}

// Message is a platform message as seen by the core.
type Message struct {
	ID           int
	Caption      string
	MediaGroupID int64
	Media        *Media
}

// Chat describes the target of a resolved scope.
type Chat struct {
	ID        int64
	Username  string
	Broadcast bool // true for broadcast channels, false for groups
}

// MemberStatus is the membership state returned by get-chat-member.
type MemberStatus string

const (
	MemberStatusMember MemberStatus = "member"
	MemberStatusAdmin  MemberStatus = "administrator"
	MemberStatusOwner  MemberStatus = "creator"
	MemberStatusLeft   MemberStatus = "left"
	MemberStatusKicked MemberStatus = "kicked"
)

// Joined reports whether the status counts as channel membership.
func (s MemberStatus) Joined() bool {
	return s != MemberStatusLeft && s != MemberStatusKicked
}

// ProgressFunc reports fractional transfer progress. It is invoked with the
// bytes transferred so far and the total payload size.
type ProgressFunc func(current, total int64)

// UploadOptions carries caption, thumbnail, and video metadata for an
// outbound media delivery.
type UploadOptions struct {
	Caption   string
	ThumbPath string
	Duration  int
	Width     int
	Height    int
	Progress  ProgressFunc
}

// Update is an inbound event from the bot account: a command, a link, or
// free text feeding an open login handshake.
type Update struct {
	UserID int64
	ChatID int64
	Text   string
}

// Bot is the bot-account delivery surface.
type Bot interface {
	// SendMessage sends text to a chat and returns the sent message id.
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)

	// EditMessage replaces the text of a previously sent message.
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error

	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error

	// CopyMessage performs a server-side copy of a single message into the
	// destination chat, without a local round trip.
	CopyMessage(ctx context.Context, toChatID int64, from Scope, messageID int) error

	// CopyMediaGroup performs a server-side copy of a whole album.
	CopyMediaGroup(ctx context.Context, toChatID int64, from Scope, messageID int) error

	// SendVideo uploads a local file as a streamable video.
	SendVideo(ctx context.Context, chatID int64, path string, opts UploadOptions) error

	// SendPhoto uploads a local file as a photo.
	SendPhoto(ctx context.Context, chatID int64, path string, opts UploadOptions) error

	// SendDocument uploads a local file as a document.
	SendDocument(ctx context.Context, chatID int64, path string, opts UploadOptions) error

	// GetChatMember returns the membership status of a user in a chat,
	// used for the subscription gate.
	GetChatMember(ctx context.Context, chat string, userID int64) (MemberStatus, error)

	// GetChat resolves a public scope to chat details.
	GetChat(ctx context.Context, scope Scope) (*Chat, error)
}

// UserClient is an authenticated per-user connection capable of reading
// restricted content the bot account cannot see.
type UserClient interface {
	// GetMessage fetches a single message from a scope.
	GetMessage(ctx context.Context, scope Scope, messageID int) (*Message, error)

	// GetMediaGroup fetches all messages of the album containing messageID.
	GetMediaGroup(ctx context.Context, scope Scope, messageID int) ([]*Message, error)

	// DownloadFile downloads a file to dest, reporting progress.
	DownloadFile(ctx context.Context, file FileRef, dest string, progress ProgressFunc) error

	// Close terminates the connection. Safe to call more than once.
	Close() error
}

// LoginClient is a transient unauthenticated connection driving the login
// handshake for one user.
type LoginClient interface {
	// SendCode requests a one-time code for the phone number and returns
	// the code hash required for SignIn.
	SendCode(ctx context.Context, phone string) (codeHash string, err error)

	// SignIn submits the one-time code. Returns ErrPasswordNeeded when the
	// account has two-factor protection, ErrCodeInvalid on a wrong code.
	SignIn(ctx context.Context, phone, codeHash, code string) error

	// CheckPassword submits the two-factor password. Returns
	// ErrPasswordInvalid on a wrong password.
	CheckPassword(ctx context.Context, password string) error

	// ExportCredential exports the durable session credential after a
	// successful sign-in.
	ExportCredential(ctx context.Context) (string, error)

	// Close terminates the transient connection. Safe to call more than once.
	Close() error
}

// Connector creates platform connections.
type Connector interface {
	// Dial opens an authenticated UserClient from a stored credential.
	Dial(ctx context.Context, credential string) (UserClient, error)

	// StartLogin opens a transient connection for a fresh login handshake.
	StartLogin(ctx context.Context) (LoginClient, error)
}
