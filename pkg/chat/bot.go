package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Bot drives a OneBot-compatible chat gateway over its HTTP action API. It
// implements verification.Transport.
type Bot struct {
	apiURL      string
	accessToken string
	selfID      string
	client      *http.Client
	logger      *logrus.Logger
}

// BotOptions configures a Bot.
type BotOptions struct {
	// APIURL is the base URL of the gateway's HTTP action API, e.g.
	// "http://localhost:5700".
	APIURL string
	// AccessToken is sent as a bearer token when non-empty.
	AccessToken string
	// SelfID is the bot's own chat user ID.
	SelfID string
	Logger *logrus.Logger
}

// NewBot creates a Bot for the given gateway.
func NewBot(opts BotOptions) *Bot {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Bot{
		apiURL:      opts.APIURL,
		accessToken: opts.AccessToken,
		selfID:      opts.SelfID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: opts.Logger,
	}
}

// SelfID returns the bot's own chat user ID.
func (b *Bot) SelfID() string {
	return b.selfID
}

// actionResponse is the gateway's envelope for every action call.
type actionResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
}

// call POSTs a single action to the gateway and decodes its data payload
// into out when out is non-nil.
func (b *Bot) call(ctx context.Context, action string, params any, out any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal %s params: %w", action, err)
	}

	url := b.apiURL + "/" + action
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.accessToken)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", action, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", action, err)
	}

	var envelope actionResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	if envelope.Retcode != 0 {
		return fmt.Errorf("%s rejected by gateway: status=%s retcode=%d", action, envelope.Status, envelope.Retcode)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", action, err)
		}
	}
	return nil
}

// SendGroupMessage posts a message into the group.
func (b *Bot) SendGroupMessage(ctx context.Context, groupID, message string) error {
	return b.call(ctx, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  message,
	}, nil)
}

// KickMember removes the user from the group without banning rejoins.
func (b *Bot) KickMember(ctx context.Context, groupID, userID string) error {
	return b.call(ctx, "set_group_kick", map[string]any{
		"group_id":           groupID,
		"user_id":            userID,
		"reject_add_request": false,
	}, nil)
}

type memberInfo struct {
	Card     string `json:"card"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

// MemberDisplayName resolves a member's display name: group card first, then
// nickname, then the bare user ID.
func (b *Bot) MemberDisplayName(ctx context.Context, groupID, userID string) (string, error) {
	var info memberInfo
	if err := b.call(ctx, "get_group_member_info", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"no_cache": true,
	}, &info); err != nil {
		return "", err
	}
	if info.Card != "" {
		return info.Card, nil
	}
	if info.Nickname != "" {
		return info.Nickname, nil
	}
	return userID, nil
}

// SelfIsAdmin reports whether the bot is a group admin or owner.
func (b *Bot) SelfIsAdmin(ctx context.Context, groupID string) (bool, error) {
	var info memberInfo
	if err := b.call(ctx, "get_group_member_info", map[string]any{
		"group_id": groupID,
		"user_id":  b.selfID,
		"no_cache": true,
	}, &info); err != nil {
		return false, err
	}
	return info.Role == "admin" || info.Role == "owner", nil
}

// Mention renders the gateway's @-mention segment for a user.
func (b *Bot) Mention(userID string) string {
	return fmt.Sprintf("[CQ:at,qq=%s]", userID)
}
