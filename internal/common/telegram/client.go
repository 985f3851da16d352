package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	httpclient "podpiska-billing/internal/common/http"
	"podpiska-billing/internal/common/logger"

	"golang.org/x/time/rate"
)

type Config struct {
	BotToken      string
	APIURL        string
	RatePerSecond float64
	Timeout       time.Duration
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// Client is a minimal Bot API client. Outbound calls share one rate limiter.
type Client struct {
	config  *Config
	http    *httpclient.Client
	limiter *rate.Limiter
	logger  logger.Logger
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type inviteLinkRequest struct {
	ChatID      string `json:"chat_id"`
	Name        string `json:"name,omitempty"`
	MemberLimit int    `json:"member_limit,omitempty"`
}

type inviteLink struct {
	InviteLink string `json:"invite_link"`
}

type memberRequest struct {
	ChatID       string `json:"chat_id"`
	UserID       int64  `json:"user_id"`
	OnlyIfBanned bool   `json:"only_if_banned,omitempty"`
}

type messageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func NewClient(config *Config, log logger.Logger) *Client {
	limit := rate.Inf
	burst := 1
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
		burst = int(config.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		config:  config,
		http:    httpclient.NewClient(config.Timeout),
		limiter: rate.NewLimiter(limit, burst),
		logger:  log.WithFields(map[string]interface{}{"component": "telegram"}),
	}
}

// CreateInviteLink creates a single-use invite link to chatID.
func (c *Client) CreateInviteLink(ctx context.Context, chatID, name string) (string, error) {
	var link inviteLink
	err := c.call(ctx, "createChatInviteLink", inviteLinkRequest{
		ChatID:      chatID,
		Name:        name,
		MemberLimit: 1,
	}, &link)
	if err != nil {
		return "", err
	}
	if link.InviteLink == "" {
		return "", fmt.Errorf("telegram createChatInviteLink returned no link")
	}
	return link.InviteLink, nil
}

// BanMember removes userID from chatID.
func (c *Client) BanMember(ctx context.Context, chatID string, userID int64) error {
	return c.call(ctx, "banChatMember", memberRequest{ChatID: chatID, UserID: userID}, nil)
}

// UnbanMember lifts a ban so the user can join again with a new invite.
func (c *Client) UnbanMember(ctx context.Context, chatID string, userID int64) error {
	return c.call(ctx, "unbanChatMember", memberRequest{ChatID: chatID, UserID: userID, OnlyIfBanned: true}, nil)
}

// SendMessage delivers an HTML formatted text to a private chat.
func (c *Client) SendMessage(ctx context.Context, userID int64, text string) error {
	return c.call(ctx, "sendMessage", messageRequest{ChatID: userID, Text: text, ParseMode: "HTML"}, nil)
}

func (c *Client) call(ctx context.Context, method string, payload interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram %s: rate limiter: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(c.config.APIURL, "/"), c.config.BotToken, method)
	resp, err := c.http.PostJSON(ctx, url, payload)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, redact(err, c.config.BotToken))
	}

	var parsed apiResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return fmt.Errorf("telegram %s: invalid response (status %d): %w", method, resp.StatusCode, err)
	}
	if !parsed.OK {
		c.logger.Debug("bot api call rejected", map[string]interface{}{
			"method":      method,
			"code":        parsed.ErrorCode,
			"description": parsed.Description,
		})
		return &APIError{Method: method, Code: parsed.ErrorCode, Description: parsed.Description}
	}

	if result != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("telegram %s: failed to decode result: %w", method, err)
		}
	}
	return nil
}

// redact strips the bot token from transport errors, which embed the URL.
func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
