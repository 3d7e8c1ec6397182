package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gazeta/internal/artifacts"
	"gazeta/internal/cache"
	"gazeta/internal/config"
	"gazeta/internal/types"
)

const mailKeyPrefix = "mail_"

// MailboxSource reads newsletters from a mailbox REST gateway. Item
// keys are "mail_" plus the gateway message id.
type MailboxSource struct {
	name      string
	client    *http.Client
	baseURL   string
	token     string
	artifacts *artifacts.Store
	rawCache  *cache.Cache[string, []byte]
	logger    *slog.Logger
}

type mailboxMessage struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	ReceivedAt time.Time `json:"received_at"`
}

type mailboxListResponse struct {
	Messages []mailboxMessage `json:"messages"`
}

func NewMailboxSource(name string, cfg config.MailboxConfig, timeout time.Duration, store *artifacts.Store, logger *slog.Logger) (*MailboxSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mailbox source %s: base_url is required", name)
	}

	return &MailboxSource{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		artifacts: store,
		rawCache: cache.NewCache[string, []byte](
			cache.CacheConfig{TTL: 10 * time.Minute},
			func(id string) string { return id },
		),
		logger: logger.With("source", name),
	}, nil
}

func (s *MailboxSource) Name() string {
	return s.name
}

// Discover lists messages from the given sender address, newest last.
// notBefore is passed to the gateway so already ingested mail is
// filtered server side.
func (s *MailboxSource) Discover(ctx context.Context, address string, notBefore *time.Time, max int) ([]types.Candidate, error) {
	query := url.Values{}
	query.Set("from", address)
	query.Set("max", strconv.Itoa(max))
	if notBefore != nil {
		query.Set("after", notBefore.UTC().Format(time.RFC3339))
	}

	var list mailboxListResponse
	if err := s.getJSON(ctx, "/v1/messages?"+query.Encode(), &list); err != nil {
		return nil, fmt.Errorf("failed to list messages for %s: %w", address, err)
	}

	candidates := make([]types.Candidate, 0, len(list.Messages))
	for _, msg := range list.Messages {
		if notBefore != nil && !msg.ReceivedAt.After(*notBefore) {
			continue
		}
		candidates = append(candidates, types.Candidate{
			ItemKey:    mailKeyPrefix + msg.ID,
			ReceivedAt: msg.ReceivedAt.UTC(),
		})
	}

	s.logger.Debug("discovered messages", "address", address, "count", len(candidates))

	return candidates, nil
}

func (s *MailboxSource) Fetch(ctx context.Context, itemKey string) (*types.RawContent, error) {
	id := strings.TrimPrefix(itemKey, mailKeyPrefix)

	data, ok := s.rawCache.Get(id)
	if !ok {
		var err error
		data, err = s.getBytes(ctx, "/v1/messages/"+url.PathEscape(id)+"/raw")
		if err != nil {
			return nil, fmt.Errorf("failed to download message %s: %w", id, err)
		}
		s.rawCache.Set(id, data)
	}

	ref, err := s.artifacts.SaveRaw(itemKey, data)
	if err != nil {
		return nil, err
	}

	raw, err := parseRawMessage(data)
	if err != nil {
		return nil, err
	}
	raw.ItemKey = itemKey
	raw.Ref = ref

	return raw, nil
}

func (s *MailboxSource) Load(ctx context.Context, ref string) (*types.RawContent, error) {
	data, err := s.artifacts.LoadRaw(ref)
	if err != nil {
		return nil, err
	}

	raw, err := parseRawMessage(data)
	if err != nil {
		return nil, err
	}
	raw.Ref = ref

	return raw, nil
}

// MarkConsumed flags the message as read at the gateway.
func (s *MailboxSource) MarkConsumed(ctx context.Context, itemKey string) error {
	id := strings.TrimPrefix(itemKey, mailKeyPrefix)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages/"+url.PathEscape(id)+"/read", nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to mark message %s read: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("failed to mark message %s read: status %d", id, resp.StatusCode)
	}

	return nil
}

func (s *MailboxSource) getJSON(ctx context.Context, path string, into any) error {
	data, err := s.getBytes(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

func (s *MailboxSource) getBytes(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	return io.ReadAll(resp.Body)
}

func (s *MailboxSource) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
