// Package sources implements the adapters that discover and download
// items from external sources. Every adapter persists what it fetched
// through the artifact store in RFC 5322 form so a record can be
// resumed later without touching the source again.
package sources

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"gazeta/internal/content"
	"gazeta/internal/types"
)

const linkHeader = "X-Gazeta-Link"

// parseRawMessage reconstructs RawContent from a stored raw artifact.
// ItemKey and Ref are left for the caller to fill in.
func parseRawMessage(data []byte) (*types.RawContent, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse raw message: %w", err)
	}

	raw := &types.RawContent{
		Subject: decodeHeader(msg.Header.Get("Subject")),
		Sender:  senderAddress(msg.Header.Get("From")),
		Link:    msg.Header.Get(linkHeader),
		Body:    data,
	}
	if date, err := msg.Header.Date(); err == nil {
		raw.ReceivedAt = date.UTC()
	}

	body, isHTML, err := messageBody(msg)
	if err != nil {
		return nil, err
	}
	if isHTML {
		raw.Text = content.StripHTML(body)
		raw.Links = content.ExtractLinks(body)
	} else {
		raw.Text = content.Normalize(body)
	}

	return raw, nil
}

// messageBody walks the MIME structure and returns the best available
// body part, preferring HTML over plain text.
func messageBody(msg *mail.Message) (string, bool, error) {
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		html, plain := walkMultipart(msg.Body, params["boundary"])
		if html != "" {
			return html, true, nil
		}
		return plain, false, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return "", false, fmt.Errorf("failed to decode message body: %w", err)
	}
	return body, mediaType == "text/html", nil
}

func walkMultipart(r io.Reader, boundary string) (html, plain string) {
	if boundary == "" {
		return "", ""
	}

	reader := multipart.NewReader(r, boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			return html, plain
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			h, p := walkMultipart(part, params["boundary"])
			if html == "" {
				html = h
			}
			if plain == "" {
				plain = p
			}
			continue
		}

		if mediaType != "text/html" && mediaType != "text/plain" {
			continue
		}

		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			continue
		}

		if mediaType == "text/html" && html == "" {
			html = body
		}
		if mediaType == "text/plain" && plain == "" {
			plain = body
		}
	}
}

func decodeBody(r io.Reader, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeHeader(s string) string {
	decoder := mime.WordDecoder{}
	decoded, err := decoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func senderAddress(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	return addr.Address
}

// encodeMessage renders non-mail content as an RFC 5322 message so all
// raw artifacts share one on-disk format.
func encodeMessage(subject, sender, link string, receivedAt time.Time, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "Date: %s\r\n", receivedAt.UTC().Format(time.RFC1123Z))
	if link != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", linkHeader, link)
	}
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}
