package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gazeta/internal/config"
	"gazeta/internal/types"
)

const notionVersion = "2022-06-28"

// NotionDestination creates one page per newsletter in the newsletters
// database and one page per extracted story in the stories database,
// related back to the newsletter page.
type NotionDestination struct {
	name          string
	token         string
	newslettersDB string
	storiesDB     string
	baseURL       string
	client        *http.Client
}

func NewNotionDestination(name string, cfg config.NotionDestinationConfig) (*NotionDestination, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("notion destination %s: token is required", name)
	}
	if cfg.NewslettersDB == "" {
		return nil, fmt.Errorf("notion destination %s: newsletters_db is required", name)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}

	return &NotionDestination{
		name:          name,
		token:         cfg.Token,
		newslettersDB: cfg.NewslettersDB,
		storiesDB:     cfg.StoriesDB,
		baseURL:       baseURL,
		client:        &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (d *NotionDestination) Name() string {
	return d.name
}

func (d *NotionDestination) Initialize(ctx context.Context) error {
	return nil
}

func (d *NotionDestination) Publish(ctx context.Context, pub *types.Publication) (string, error) {
	pageID, err := d.createNewsletterPage(ctx, pub)
	if err != nil {
		return "", err
	}

	if d.storiesDB != "" {
		for i := range pub.Result.Stories {
			if err := d.createStoryPage(ctx, pageID, &pub.Result.Stories[i]); err != nil {
				return "", fmt.Errorf("failed to create story page %d: %w", i, err)
			}
		}
	}

	return pageID, nil
}

func (d *NotionDestination) Shutdown(ctx context.Context) error {
	return nil
}

func (d *NotionDestination) createNewsletterPage(ctx context.Context, pub *types.Publication) (string, error) {
	children := []map[string]any{
		heading("Executive Summary"),
		paragraph(pub.Result.ExecutiveSummary),
	}
	if len(pub.Result.TrendSignals) > 0 {
		children = append(children, heading("Trend Signals"))
		for _, t := range pub.Result.TrendSignals {
			line := t.Trend + " (" + t.Trajectory + ")"
			if t.Evidence != "" {
				line += ": " + t.Evidence
			}
			children = append(children, bullet(line))
		}
	}

	body := map[string]any{
		"parent": map[string]any{"database_id": d.newslettersDB},
		"properties": map[string]any{
			"Name":     titleProp(pub.Subject),
			"Source":   richTextProp(pub.SourceName),
			"Received": map[string]any{"date": map[string]any{"start": pub.ReceivedAt.UTC().Format(time.RFC3339)}},
			"Model":    richTextProp(pub.Model),
			"Stories":  map[string]any{"number": len(pub.Result.Stories)},
			"Cost":     map[string]any{"number": pub.CostUnits},
		},
		"children": children,
	}

	return d.createPage(ctx, body)
}

func (d *NotionDestination) createStoryPage(ctx context.Context, newsletterPageID string, story *types.Story) error {
	properties := map[string]any{
		"Name":       titleProp(story.Title),
		"Category":   map[string]any{"select": map[string]any{"name": nonEmpty(story.Category, "uncategorized")}},
		"Summary":    richTextProp(story.Summary),
		"Newsletter": map[string]any{"relation": []map[string]any{{"id": newsletterPageID}}},
	}
	if story.Confidence != "" {
		properties["Confidence"] = map[string]any{"select": map[string]any{"name": story.Confidence}}
	}
	if story.SourceURL != "" {
		properties["URL"] = map[string]any{"url": story.SourceURL}
	}

	var children []map[string]any
	for _, fact := range story.KeyFacts {
		children = append(children, bullet(fact))
	}
	if story.Implications != "" {
		children = append(children, heading("Implications"), paragraph(story.Implications))
	}

	body := map[string]any{
		"parent":     map[string]any{"database_id": d.storiesDB},
		"properties": properties,
	}
	if len(children) > 0 {
		body["children"] = children
	}

	_, err := d.createPage(ctx, body)
	return err
}

func (d *NotionDestination) createPage(ctx context.Context, body map[string]any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode notion page: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/pages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("notion request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("notion returned status %d: %s", resp.StatusCode, truncateBody(data))
	}

	var page struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return "", fmt.Errorf("failed to decode notion response: %w", err)
	}

	return page.ID, nil
}

func titleProp(text string) map[string]any {
	return map[string]any{"title": []map[string]any{{"text": map[string]any{"content": clampNotionText(text)}}}}
}

func richTextProp(text string) map[string]any {
	return map[string]any{"rich_text": []map[string]any{{"text": map[string]any{"content": clampNotionText(text)}}}}
}

func heading(text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "heading_2",
		"heading_2": map[string]any{
			"rich_text": []map[string]any{{"text": map[string]any{"content": clampNotionText(text)}}},
		},
	}
}

func paragraph(text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "paragraph",
		"paragraph": map[string]any{
			"rich_text": []map[string]any{{"text": map[string]any{"content": clampNotionText(text)}}},
		},
	}
}

func bullet(text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "bulleted_list_item",
		"bulleted_list_item": map[string]any{
			"rich_text": []map[string]any{{"text": map[string]any{"content": clampNotionText(text)}}},
		},
	}
}

// Notion rejects rich text runs over 2000 characters.
func clampNotionText(s string) string {
	if len(s) <= 2000 {
		return s
	}
	return s[:1997] + "..."
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func truncateBody(data []byte) string {
	if len(data) > 500 {
		data = data[:500]
	}
	return string(data)
}
