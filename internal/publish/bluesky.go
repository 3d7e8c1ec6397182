package publish

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"

	"gazeta/internal/platforms"
	"gazeta/internal/types"
)

const maxPostGraphemes = 300

// BlueskyDestination posts a short digest of the newsletter.
type BlueskyDestination struct {
	name      string
	platform  *platforms.BlueskyPlatform
	languages []string
}

func NewBlueskyDestination(name string, platform *platforms.BlueskyPlatform, languages []string) *BlueskyDestination {
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	return &BlueskyDestination{
		name:      name,
		platform:  platform,
		languages: languages,
	}
}

func (d *BlueskyDestination) Name() string {
	return d.name
}

func (d *BlueskyDestination) Initialize(ctx context.Context) error {
	return d.platform.Initialize(ctx)
}

func (d *BlueskyDestination) Publish(ctx context.Context, pub *types.Publication) (string, error) {
	client := d.platform.Client()
	if client == nil || client.Auth == nil {
		return "", fmt.Errorf("bluesky session is not initialized")
	}

	post := &bsky.FeedPost{
		Text:      postText(pub),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Langs:     d.languages,
	}

	resp, err := atproto.RepoCreateRecord(ctx, client, &atproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       client.Auth.Did,
		Record:     &lexutil.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}

	return resp.Uri, nil
}

func (d *BlueskyDestination) Shutdown(ctx context.Context) error {
	return d.platform.Close(ctx)
}

func postText(pub *types.Publication) string {
	text := pub.Subject
	if pub.Result.ExecutiveSummary != "" {
		text += "\n\n" + pub.Result.ExecutiveSummary
	}

	if utf8.RuneCountInString(text) <= maxPostGraphemes {
		return text
	}

	runes := []rune(text)
	return string(runes[:maxPostGraphemes-1]) + "…"
}
