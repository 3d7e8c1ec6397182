package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"gazeta/internal/platforms"
	"gazeta/internal/types"
)

const maxEmbedStories = 8

// DiscordDestination posts one embed per newsletter, either as a
// channel message or a new forum thread.
type DiscordDestination struct {
	name        string
	platform    *platforms.DiscordPlatform
	channelID   string
	channelType string
}

func NewDiscordDestination(name string, platform *platforms.DiscordPlatform, channelID, channelType string) (*DiscordDestination, error) {
	if channelID == "" {
		return nil, fmt.Errorf("discord destination %s: channel_id is required", name)
	}
	if channelType == "" {
		channelType = "text"
	}

	return &DiscordDestination{
		name:        name,
		platform:    platform,
		channelID:   channelID,
		channelType: channelType,
	}, nil
}

func (d *DiscordDestination) Name() string {
	return d.name
}

func (d *DiscordDestination) Initialize(ctx context.Context) error {
	return d.platform.Initialize(ctx)
}

func (d *DiscordDestination) Publish(ctx context.Context, pub *types.Publication) (string, error) {
	embed := d.buildEmbed(pub)

	var messageID string
	var err error
	switch d.channelType {
	case "forum":
		var thread *discordgo.Channel
		thread, err = d.platform.Session().ForumThreadStartEmbed(d.channelID, clampTitle(pub.Subject), 1440, embed)
		if err == nil {
			messageID = thread.ID
		}
	case "text":
		var msg *discordgo.Message
		msg, err = d.platform.Session().ChannelMessageSendEmbed(d.channelID, embed)
		if err == nil {
			messageID = msg.ID
		}
	default:
		return "", fmt.Errorf("unsupported channel type: %s", d.channelType)
	}
	if err != nil {
		return "", fmt.Errorf("failed to post to channel %s: %w", d.channelID, err)
	}

	time.Sleep(d.platform.SleepDuration())

	return messageID, nil
}

func (d *DiscordDestination) Shutdown(ctx context.Context) error {
	return d.platform.Close(ctx)
}

func (d *DiscordDestination) buildEmbed(pub *types.Publication) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       clampTitle(pub.Subject),
		Description: clamp(pub.Result.ExecutiveSummary, 4096),
		Timestamp:   pub.ReceivedAt.UTC().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%s | %s | %d stories", pub.SourceName, pub.Model, len(pub.Result.Stories)),
		},
	}
	if pub.Link != "" {
		embed.URL = pub.Link
	}

	for i, story := range pub.Result.Stories {
		if i >= maxEmbedStories {
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  clamp(story.Title, 256),
			Value: clamp(story.Summary, 1024),
		})
	}

	return embed
}

func clampTitle(s string) string {
	if s == "" {
		return "Untitled"
	}
	return clamp(s, 100)
}

func clamp(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
