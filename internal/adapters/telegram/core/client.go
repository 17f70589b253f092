// Package core wraps gotd's network client and RPC client into the single
// Telegram capability the rest of sakaibot depends on: connect/authenticate,
// send/edit/delete messages, upload files (including voice notes), fetch
// messages, forward messages and download media.
package core

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"

	"sakaibot/internal/telegram/auth"

	"github.com/gotd/td/telegram"
	tgauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// sendRateLimit caps outbound message/edit/upload/forward calls so a burst
// of dispatcher activity doesn't look like a flood to Telegram's anti-abuse
// systems. One call roughly every third of a second, with a small burst
// allowance for the occasional back-to-back pair (placeholder + final edit).
const (
	sendRateLimit = rate.Limit(3) // events per second
	sendRateBurst = 2
)

// ClientCore is a thin wrapper around gotd's network client and RPC client.
// It carries the session/phone details needed for interactive login and
// session teardown.
type ClientCore struct {
	Client *telegram.Client
	API    *tg.Client

	phone       string
	sessionFile string
	log         *zap.Logger
	sendLimiter *rate.Limiter
}

// New creates the gotd network client for apiID/apiHash with opts, and
// returns a ClientCore wrapping it. Client.Run must still be called by the
// caller to bring up the MTProto connection; New only constructs the value.
func New(apiID int, apiHash, phone, sessionFile string, opts telegram.Options, log *zap.Logger) *ClientCore {
	if log == nil {
		log = zap.NewNop()
	}
	client := telegram.NewClient(apiID, apiHash, opts)
	return &ClientCore{
		Client:      client,
		API:         client.API(),
		phone:       phone,
		sessionFile: sessionFile,
		log:         log,
		sendLimiter: rate.NewLimiter(sendRateLimit, sendRateBurst),
	}
}

// Login performs interactive authentication if the restored session isn't
// already authorized: checks Auth().Status, and if not authorized, runs the
// terminal auth flow (phone, code, optional 2FA, ToS acceptance).
func (c *ClientCore) Login(ctx context.Context) error {
	status, err := c.Client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		c.log.Debug("telegram session restored, already authorized")
		return nil
	}

	flow := tgauth.NewFlow(
		auth.TerminalAuthenticator{PhoneNumber: c.phone},
		tgauth.SendCodeOptions{},
	)
	return c.Client.Auth().IfNecessary(ctx, flow)
}

// Logout revokes the current session server-side and removes the local
// session file so a subsequent run starts a fresh login.
func (c *ClientCore) Logout(ctx context.Context) error {
	if _, err := c.API.AuthLogOut(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if err := os.Remove(c.sessionFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	c.log.Info("logged out, session file removed")
	return nil
}

// Self is the "who am I" probe used by the connection health monitor.
func (c *ClientCore) Self(ctx context.Context) (*tg.User, error) {
	return c.Client.Self(ctx)
}

// SendMessage sends plain text to peer, optionally as a reply to replyToMsgID
// (0 means no reply). Returns the sent message's id so callers can later
// edit or delete it.
func (c *ClientCore) SendMessage(ctx context.Context, peer tg.InputPeerClass, text string, replyToMsgID int) (int, error) {
	if err := c.sendLimiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
	}
	if replyToMsgID != 0 {
		req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyToMsgID}
	}
	upd, err := c.API.MessagesSendMessage(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return extractMessageID(upd), nil
}

// EditMessage edits an existing message's text in place.
func (c *ClientCore) EditMessage(ctx context.Context, peer tg.InputPeerClass, msgID int, text string) error {
	if err := c.sendLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	req := &tg.MessagesEditMessageRequest{Peer: peer, ID: msgID}
	req.SetMessage(text)
	if _, err := c.API.MessagesEditMessage(ctx, req); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// DeleteMessage deletes one message by id, for the caller's own account.
func (c *ClientCore) DeleteMessage(ctx context.Context, msgID int) error {
	_, err := c.API.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
		ID:     []int{msgID},
		Revoke: true,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SendFile uploads the file at localPath to peer as a reply to replyToMsgID.
// When asVoiceNote is set, the upload is sent as a round voice-note document
// (opus) instead of a generic document attachment.
func (c *ClientCore) SendFile(ctx context.Context, peer tg.InputPeerClass, localPath string, asVoiceNote bool, caption string, replyToMsgID int) error {
	if err := c.sendLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("send file: %w", err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat upload file: %w", err)
	}

	up := uploader.NewUploader(c.API)
	upload, err := up.FromReader(ctx, stat.Name(), f)
	if err != nil {
		return fmt.Errorf("upload file: %w", err)
	}

	var media tg.InputMediaClass
	if asVoiceNote {
		media = &tg.InputMediaUploadedDocument{
			File:     upload,
			MimeType: "audio/ogg",
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeAudio{Voice: true},
			},
		}
	} else {
		media = &tg.InputMediaUploadedDocument{
			File:       upload,
			MimeType:   "image/png",
			Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: stat.Name()}},
		}
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    media,
		Message:  caption,
		RandomID: randomID(),
	}
	if replyToMsgID != 0 {
		req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyToMsgID}
	}
	if _, err := c.API.MessagesSendMedia(ctx, req); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	return nil
}

// DownloadMedia downloads the document referenced by loc to destPath.
func (c *ClientCore) DownloadMedia(ctx context.Context, loc tg.InputFileLocationClass, destPath string) error {
	d := downloader.NewDownloader()
	if _, err := d.Download(c.API, loc).ToPath(ctx, destPath); err != nil {
		return fmt.Errorf("download media: %w", err)
	}
	return nil
}

// ForwardMessages forwards message ids from fromPeer to toPeer, optionally
// into a forum topic (topMsgID != 0).
func (c *ClientCore) ForwardMessages(ctx context.Context, fromPeer, toPeer tg.InputPeerClass, ids []int, topMsgID int) error {
	if err := c.sendLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("forward messages: %w", err)
	}
	req := &tg.MessagesForwardMessagesRequest{
		FromPeer: fromPeer,
		ID:       ids,
		ToPeer:   toPeer,
		RandomID: randomIDs(len(ids)),
	}
	if topMsgID != 0 {
		req.SetTopMsgID(topMsgID)
	}
	if _, err := c.API.MessagesForwardMessages(ctx, req); err != nil {
		return fmt.Errorf("forward messages: %w", err)
	}
	return nil
}

// GetMessages fetches specific message ids out of peer's history.
func (c *ClientCore) GetMessages(ctx context.Context, peer tg.InputPeerClass, ids []int) ([]tg.MessageClass, error) {
	inputIDs := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		inputIDs = append(inputIDs, &tg.InputMessageID{ID: id})
	}

	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		res, err := c.API.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      inputIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("get channel messages: %w", err)
		}
		return messagesFromClass(res)
	}

	res, err := c.API.MessagesGetMessages(ctx, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return messagesFromClass(res)
}

// GetHistory fetches up to limit of the most recent messages in peer,
// newest first, as needed by /analyze and /tellme.
func (c *ClientCore) GetHistory(ctx context.Context, peer tg.InputPeerClass, limit int) ([]tg.MessageClass, error) {
	res, err := c.API.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return messagesFromClass(res)
}

func messagesFromClass(res tg.MessagesMessagesClass) ([]tg.MessageClass, error) {
	switch m := res.(type) {
	case *tg.MessagesMessages:
		return m.Messages, nil
	case *tg.MessagesMessagesSlice:
		return m.Messages, nil
	case *tg.MessagesChannelMessages:
		return m.Messages, nil
	default:
		return nil, fmt.Errorf("unexpected messages response type %T", res)
	}
}

// Run blocks running the client's connection loop until ctx is cancelled or
// handler returns, matching gotd's Client.Run contract.
func (c *ClientCore) Run(ctx context.Context, handler func(ctx context.Context) error) error {
	return c.Client.Run(ctx, handler)
}

func extractMessageID(u tg.UpdatesClass) int {
	switch v := u.(type) {
	case *tg.Updates:
		for _, up := range v.Updates {
			if nm, ok := up.(*tg.UpdateMessageID); ok {
				return nm.ID
			}
		}
	case *tg.UpdateShortSentMessage:
		return v.ID
	}
	return 0
}

func randomID() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func randomIDs(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = randomID()
	}
	return out
}
