package platforms

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

type DiscordPlatform struct {
	botToken string
	sleep    time.Duration
	session  *discordgo.Session
}

func NewDiscordPlatform(botToken, sleepStr string) (*DiscordPlatform, error) {
	if botToken == "" {
		return nil, fmt.Errorf("discord platform: bot_token is required")
	}

	sleep := 1 * time.Second
	if sleepStr != "" {
		if s, err := time.ParseDuration(sleepStr); err == nil {
			sleep = s
		}
	}

	return &DiscordPlatform{
		botToken: botToken,
		sleep:    sleep,
	}, nil
}

func (p *DiscordPlatform) Initialize(ctx context.Context) error {
	session, err := discordgo.New("Bot " + p.botToken)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}

	p.session = session

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	return nil
}

func (p *DiscordPlatform) Close(ctx context.Context) error {
	if p.session != nil {
		return p.session.Close()
	}
	return nil
}

func (p *DiscordPlatform) Session() *discordgo.Session {
	return p.session
}

func (p *DiscordPlatform) SleepDuration() time.Duration {
	return p.sleep
}
