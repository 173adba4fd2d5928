package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

type discordConfig struct {
	BotToken  string `json:"botToken"`
	ChannelID string `json:"channelId"`
}

type discordSender struct {
	channelID string
	session   *discordgo.Session
}

func newDiscordSender(raw json.RawMessage) (sender, error) {
	var cfg discordConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("discord: decode config: %w", err)
	}
	if cfg.BotToken == "" || cfg.ChannelID == "" {
		return nil, fmt.Errorf("discord: botToken and channelId are required")
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	return &discordSender{channelID: cfg.ChannelID, session: session}, nil
}

// Send posts a plain-text message over Discord's REST API. No gateway
// connection (Session.Open) is opened: ChannelMessageSend only needs the
// bot token's HTTP credentials, not the websocket event stream.
func (s *discordSender) Send(ctx context.Context, subject, body string) error {
	content := fmt.Sprintf("**%s**\n%s", subject, body)
	_, err := s.session.ChannelMessageSend(s.channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	return nil
}
