package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"inboxflow/config"
	"inboxflow/internal/model"
	"inboxflow/pkg/metrics"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// Provider fetches raw messages from the external mailbox. Implementations
// return *Error on failure so the retrier can classify them.
type Provider interface {
	ListMessages(ctx context.Context, query string, maxResults int) ([]string, error)
	GetMessage(ctx context.Context, id string) (*model.InboundMessage, error)
}

// TokenRefresher forces renewal of the provider credential. Invoked by the
// retrier when a call fails with auth_expired.
type TokenRefresher interface {
	RefreshToken(ctx context.Context) error
}

// GmailProvider talks to the Gmail REST API using an OAuth refresh token.
type GmailProvider struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	oauthCfg    *oauth2.Config
	refresh     string
	logger      *zap.Logger

	token *oauth2.Token
}

func NewGmailProvider(cfg config.ProviderConfig, logger *zap.Logger) *GmailProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}

	p := &GmailProvider{
		baseURL:  baseURL,
		oauthCfg: oauthCfg,
		refresh:  cfg.RefreshToken,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 15 * time.Second, // 避免 worker 卡死
		},
	}
	p.tokenSource = oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return p
}

// RefreshToken drops the cached access token and obtains a fresh one from
// the refresh token.
func (p *GmailProvider) RefreshToken(ctx context.Context) error {
	p.tokenSource = p.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: p.refresh})
	tok, err := p.tokenSource.Token()
	if err != nil {
		return &Error{Kind: KindAuthExpired, Op: "refresh_token", Err: err}
	}
	p.token = tok
	p.logger.Info("Provider access token refreshed")
	return nil
}

// ListMessages returns message ids matching the query, newest first.
func (p *GmailProvider) ListMessages(ctx context.Context, query string, maxResults int) ([]string, error) {
	if maxResults <= 0 {
		maxResults = 20
	}

	u := fmt.Sprintf("%s/messages?maxResults=%d", p.baseURL, maxResults)
	if query != "" {
		u += "&q=" + url.QueryEscape(query)
	}

	var out struct {
		Messages []struct {
			ID       string `json:"id"`
			ThreadID string `json:"threadId"`
		} `json:"messages"`
	}
	if err := p.doJSON(ctx, "list_messages", u, &out); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(out.Messages))
	for _, m := range out.Messages {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// GetMessage fetches one full message and maps it to the internal shape.
func (p *GmailProvider) GetMessage(ctx context.Context, id string) (*model.InboundMessage, error) {
	u := fmt.Sprintf("%s/messages/%s?format=full", p.baseURL, url.PathEscape(id))

	var raw gmailMessage
	if err := p.doJSON(ctx, "get_message", u, &raw); err != nil {
		return nil, err
	}

	return raw.toInboundMessage(), nil
}

func (p *GmailProvider) doJSON(ctx context.Context, op, url string, out any) error {
	tok, err := p.tokenSource.Token()
	if err != nil {
		return &Error{Kind: KindAuthExpired, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Kind: KindBadRequest, Op: op, Err: err}
	}
	tok.SetAuthHeader(req)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderCallLatency(op, "error", time.Since(start))
		kind := KindNetwork
		if ctx.Err() == context.DeadlineExceeded {
			kind = KindTimeout
		}
		return &Error{Kind: kind, Op: op, Err: err}
	}
	defer resp.Body.Close()
	metrics.RecordProviderCallLatency(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindBadRequest, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(op string, resp *http.Response) *Error {
	e := &Error{Op: op, StatusCode: resp.StatusCode}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.Kind = KindAuthExpired
	case resp.StatusCode == http.StatusForbidden:
		e.Kind = KindPermissionDenied
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = KindNotFound
	case resp.StatusCode >= 500:
		e.Kind = KindServerError
	default:
		e.Kind = KindBadRequest
	}
	return e
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// gmailMessage mirrors the subset of the Gmail message resource we consume.
type gmailMessage struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
	Snippet  string   `json:"snippet"`
	Internal string   `json:"internalDate"` // epoch millis as string
	Payload  struct {
		MimeType string        `json:"mimeType"`
		Headers  []gmailHeader `json:"headers"`
		Body     gmailBody     `json:"body"`
		Parts    []gmailPart   `json:"parts"`
	} `json:"payload"`
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailBody struct {
	Data string `json:"data"`
	Size int    `json:"size"`
}

type gmailPart struct {
	MimeType string      `json:"mimeType"`
	Filename string      `json:"filename"`
	Body     gmailBody   `json:"body"`
	Parts    []gmailPart `json:"parts"`
}

func (g *gmailMessage) toInboundMessage() *model.InboundMessage {
	msg := &model.InboundMessage{
		ID:       g.ID,
		ThreadID: g.ThreadID,
		Snippet:  g.Snippet,
		Labels:   g.LabelIDs,
	}

	if millis, err := strconv.ParseInt(g.Internal, 10, 64); err == nil {
		msg.ReceivedAt = time.UnixMilli(millis)
	}

	for _, h := range g.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			if addr, err := mail.ParseAddress(h.Value); err == nil {
				msg.FromAddress = addr.Address
				msg.FromName = addr.Name
			} else {
				msg.FromAddress = h.Value
			}
		case "to":
			msg.To = h.Value
		}
	}

	text, html, attachments := walkParts(g.Payload.MimeType, g.Payload.Body, g.Payload.Parts)
	msg.Body = text
	msg.BodyHTML = html
	msg.Attachments = attachments

	return msg
}

// walkParts collects the first text/plain and text/html bodies and counts
// attachment parts, recursing through multipart containers.
func walkParts(mimeType string, body gmailBody, parts []gmailPart) (text, html string, attachments int) {
	decode := func(data string) string {
		decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
		if err != nil {
			return ""
		}
		return string(decoded)
	}

	switch {
	case mimeType == "text/plain" && body.Data != "":
		text = decode(body.Data)
	case mimeType == "text/html" && body.Data != "":
		html = decode(body.Data)
	}

	for _, part := range parts {
		if part.Filename != "" {
			attachments++
			continue
		}
		t, h, a := walkParts(part.MimeType, part.Body, part.Parts)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
		attachments += a
	}

	return text, html, attachments
}
