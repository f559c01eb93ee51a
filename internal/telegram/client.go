// Package telegram adapts the Bot API client to the pipeline and fan-out
// interfaces.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/autorename/internal/pipeline"
)

// MaxCaption is the Bot API caption limit in characters.
const MaxCaption = 1024

// ErrCannotPost is returned by CheckDestination when the bot may not post.
var ErrCannotPost = errors.New("bot cannot post in that chat")

type Client struct {
	api  *tgbotapi.BotAPI
	http *http.Client
}

// New authorizes token. endpoint, when set, points at a local Bot API server
// ("http://host:8081/bot%s/%s").
func New(token, endpoint string) (*Client, error) {
	var (
		api *tgbotapi.BotAPI
		err error
	)
	if endpoint != "" {
		api, err = tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	} else {
		api, err = tgbotapi.NewBotAPI(token)
	}
	if err != nil {
		return nil, err
	}
	api.Debug = false
	return &Client{api: api, http: &http.Client{}}, nil
}

func (c *Client) API() *tgbotapi.BotAPI { return c.api }
func (c *Client) Self() tgbotapi.User   { return c.api.Self }

func (c *Client) send(m tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, err := c.api.Send(m)
	return msg, classify(err)
}

// Reply sends text as a reply to replyTo (0 for none).
func (c *Client) Reply(chatID int64, replyTo int, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.AllowSendingWithoutReply = true
	return c.send(msg)
}

func (c *Client) SendStatus(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m, err := c.Reply(chatID, replyTo, text)
	if err != nil {
		return 0, err
	}
	return m.MessageID, nil
}

func (c *Client) EditStatus(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	if notModified(err) {
		return nil
	}
	return err
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SendPhoto replies with an image given by path or file id.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, replyTo int, photo tgbotapi.RequestFileData, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := tgbotapi.NewPhoto(chatID, photo)
	p.Caption = truncate(caption, MaxCaption)
	p.ReplyToMessageID = replyTo
	p.AllowSendingWithoutReply = true
	_, err := c.send(p)
	return err
}

// Download fetches fileID into dst. Files a local Bot API server keeps on
// its own disk are copied instead of fetched over HTTP.
func (c *Client) Download(ctx context.Context, fileID, dst string, size int64, progress pipeline.ProgressFunc) error {
	f, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return classify(err)
	}
	if filepath.IsAbs(f.FilePath) {
		if _, err := os.Stat(f.FilePath); err == nil {
			return copyLocal(f.FilePath, dst, progress)
		}
	}
	if size <= 0 {
		size = int64(f.FileSize)
	}
	return fetch(ctx, c.http, f.Link(c.api.Token), dst, size, progress)
}

// Upload sends u.Path as a video or document with streaming progress.
func (c *Client) Upload(ctx context.Context, u pipeline.Upload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	var total int64
	if fi, err := f.Stat(); err == nil {
		total = fi.Size()
	}
	file := tgbotapi.FileReader{
		Name:   filepath.Base(u.Path),
		Reader: &progressReader{r: f, c: &counter{total: total, progress: u.Progress}},
	}
	_, err = c.send(c.media(u.ChatID, u.ReplyTo, file, u.Caption, u.ThumbPath, u.AsVideo, u.Duration))
	return err
}

// SendFile posts a finished artifact without progress reporting.
func (c *Client) SendFile(ctx context.Context, chatID int64, path, caption, thumb string, asVideo bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	_, err := c.send(c.media(chatID, 0, tgbotapi.FilePath(path), caption, thumb, asVideo, 0))
	return err
}

func (c *Client) media(chatID int64, replyTo int, file tgbotapi.RequestFileData, caption, thumb string, asVideo bool, duration int) tgbotapi.Chattable {
	caption = truncate(caption, MaxCaption)
	if asVideo {
		v := tgbotapi.NewVideo(chatID, file)
		v.Caption = caption
		v.Duration = duration
		v.SupportsStreaming = true
		v.ReplyToMessageID = replyTo
		if thumb != "" {
			v.Thumb = tgbotapi.FilePath(thumb)
		}
		return v
	}
	d := tgbotapi.NewDocument(chatID, file)
	d.Caption = caption
	d.ReplyToMessageID = replyTo
	if thumb != "" {
		d.Thumb = tgbotapi.FilePath(thumb)
	}
	return d
}

// CheckDestination verifies the bot can see chatID and post there.
func (c *Client) CheckDestination(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, err := c.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return fmt.Errorf("chat %d not accessible: %w", chatID, classify(err))
	}
	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: c.api.Self.ID},
	})
	if err != nil {
		return fmt.Errorf("membership in %d: %w", chatID, classify(err))
	}
	if !canPost(chat, member) {
		return ErrCannotPost
	}
	return nil
}

func canPost(chat tgbotapi.Chat, m tgbotapi.ChatMember) bool {
	if m.HasLeft() || m.WasKicked() {
		return false
	}
	if chat.IsChannel() {
		return m.IsCreator() || (m.IsAdministrator() && m.CanPostMessages)
	}
	if m.Status == "restricted" {
		return m.CanSendMessages
	}
	return true
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
