package platforms

import (
	"context"
	"fmt"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/xrpc"
)

type BlueskyPlatform struct {
	host       string
	identifier string
	password   string
	client     *xrpc.Client
}

func NewBlueskyPlatform(host, identifier, password string) (*BlueskyPlatform, error) {
	if identifier == "" {
		return nil, fmt.Errorf("bluesky platform: identifier is required")
	}
	if password == "" {
		return nil, fmt.Errorf("bluesky platform: password is required")
	}
	if host == "" {
		host = "https://bsky.social"
	}

	return &BlueskyPlatform{
		host:       host,
		identifier: identifier,
		password:   password,
	}, nil
}

func (p *BlueskyPlatform) Initialize(ctx context.Context) error {
	client := &xrpc.Client{
		Host: p.host,
	}

	auth, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: p.identifier,
		Password:   p.password,
	})
	if err != nil {
		return fmt.Errorf("failed to authenticate with bluesky: %w", err)
	}

	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  auth.AccessJwt,
		RefreshJwt: auth.RefreshJwt,
		Handle:     auth.Handle,
		Did:        auth.Did,
	}

	p.client = client

	return nil
}

func (p *BlueskyPlatform) Client() *xrpc.Client {
	return p.client
}

func (p *BlueskyPlatform) Close(ctx context.Context) error {
	return nil
}
