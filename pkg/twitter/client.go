// Package twitter adapts github.com/dghubble/go-twitter to the pipeline's Hydrator and
// Searcher contracts.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shpitdev/climate-tweet-harvest/pkg/credentials"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/redact"
)

const (
	// TokenURL issues app-only bearer tokens.
	TokenURL = "https://api.twitter.com/oauth2/token"

	extendedMode = "extended"

	// Error code the v1.1 API uses for an exhausted rate-limit window.
	codeRateLimitExceeded = 88

	headerRateLimitReset = "x-rate-limit-reset"
)

// AuthMode selects how requests are signed.
type AuthMode string

const (
	// AuthUser signs every request with OAuth1 user context. It needs all four secrets.
	AuthUser AuthMode = "user"
	// AuthApp uses an OAuth2 app-only bearer token from the consumer key and secret.
	AuthApp AuthMode = "app"
)

// ParseAuthMode accepts "user" (default when empty) or "app".
func ParseAuthMode(raw string) (AuthMode, error) {
	switch AuthMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AuthUser:
		return AuthUser, nil
	case AuthApp:
		return AuthApp, nil
	default:
		return "", &core.ConfigurationError{Stage: "auth mode", Err: fmt.Errorf("unknown auth mode %q (want user or app)", raw)}
	}
}

type Options struct {
	AuthMode AuthMode

	// HTTPClient is the transport under the auth layer. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// TokenURL overrides the app-only token endpoint.
	TokenURL string
}

// Client implements core.Hydrator and core.Searcher on the v1.1 REST API.
type Client struct {
	api *twitter.Client
}

var (
	_ core.Hydrator = (*Client)(nil)
	_ core.Searcher = (*Client)(nil)
)

// New builds an authenticated client. Credentials are validated before anything is sent.
func New(ctx context.Context, creds credentials.Credentials, opts Options) (*Client, error) {
	mode := opts.AuthMode
	if mode == "" {
		mode = AuthUser
	}
	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}

	var httpClient *http.Client
	switch mode {
	case AuthUser:
		if err := creds.Validate(); err != nil {
			return nil, err
		}
		ctx = context.WithValue(ctx, oauth1.HTTPClient, base)
		cfg := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
		httpClient = cfg.Client(ctx, oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret))
	case AuthApp:
		var missing []string
		if creds.ConsumerKey == "" {
			missing = append(missing, "consumer_key")
		}
		if creds.ConsumerSecret == "" {
			missing = append(missing, "consumer_secret")
		}
		if len(missing) > 0 {
			return nil, &core.ConfigurationError{Stage: "credentials", Missing: missing}
		}
		tokenURL := opts.TokenURL
		if tokenURL == "" {
			tokenURL = TokenURL
		}
		cfg := clientcredentials.Config{
			ClientID:     creds.ConsumerKey,
			ClientSecret: creds.ConsumerSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		httpClient = cfg.Client(ctx)
	default:
		return nil, &core.ConfigurationError{Stage: "auth mode", Err: fmt.Errorf("unknown auth mode %q", mode)}
	}

	return &Client{api: twitter.NewClient(httpClient)}, nil
}

// Lookup fetches up to 100 tweets by ID. IDs that are deleted, protected, or not numeric
// are simply absent from the result.
//
// go-twitter does not take a per-request context; ctx is checked before the call.
func (c *Client) Lookup(ctx context.Context, ids []string) ([]core.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	numeric := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			continue
		}
		numeric = append(numeric, n)
	}
	if len(numeric) == 0 {
		return nil, nil
	}

	tweets, resp, err := c.api.Statuses.Lookup(numeric, &twitter.StatusLookupParams{TweetMode: extendedMode})
	if err := check("statuses/lookup", resp, err); err != nil {
		return nil, err
	}
	return tweets, nil
}

// Search requests one page of search/tweets. cursor is the max_id taken from the
// previous page's next_results; an empty cursor starts from the newest results.
func (c *Client) Search(ctx context.Context, q core.SearchQuery, cursor string) (core.SearchPage, error) {
	if err := ctx.Err(); err != nil {
		return core.SearchPage{}, err
	}
	if strings.TrimSpace(q.Text) == "" {
		return core.SearchPage{}, &core.ConfigurationError{Stage: "search", Missing: []string{"query"}}
	}

	params := &twitter.SearchTweetParams{
		Query:     QueryString(q),
		Lang:      q.Lang,
		Count:     q.PageSize,
		TweetMode: extendedMode,
	}
	if cursor != "" {
		maxID, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return core.SearchPage{}, fmt.Errorf("search cursor %q is not a tweet id", cursor)
		}
		params.MaxID = maxID
	}

	res, resp, err := c.api.Search.Tweets(params)
	if err := check("search/tweets", resp, err); err != nil {
		return core.SearchPage{}, err
	}
	page := core.SearchPage{Records: res.Statuses}
	if res.Metadata != nil {
		page.Next = NextCursor(res.Metadata.NextResults)
	}
	return page, nil
}

// QueryString is the q parameter for a search: the text plus a since: operator when
// q.Since is set.
func QueryString(q core.SearchQuery) string {
	text := strings.TrimSpace(q.Text)
	if since := strings.TrimSpace(q.Since); since != "" {
		text += " since:" + since
	}
	return text
}

// NextCursor extracts max_id from a next_results query string such as
// "?max_id=1307613340402843647&q=climate&include_entities=1".
func NextCursor(nextResults string) string {
	nextResults = strings.TrimSpace(nextResults)
	if nextResults == "" {
		return ""
	}
	vals, err := url.ParseQuery(strings.TrimPrefix(nextResults, "?"))
	if err != nil {
		return ""
	}
	return vals.Get("max_id")
}

// check turns a failed call into a core error. sling skips decoding empty bodies, so an
// error status with no body arrives with a nil err and is caught here.
func check(op string, resp *http.Response, err error) error {
	if err == nil {
		if resp == nil || resp.StatusCode < http.StatusBadRequest {
			return nil
		}
		err = errors.New(http.StatusText(resp.StatusCode))
	}

	var apiErr twitter.APIError
	hasAPIErr := errors.As(err, &apiErr)

	limited := resp != nil && resp.StatusCode == http.StatusTooManyRequests
	if hasAPIErr {
		for _, d := range apiErr.Errors {
			if d.Code == codeRateLimitExceeded {
				limited = true
			}
		}
	}
	if limited {
		return &core.RateLimitedError{Reset: resetTime(resp), Err: fmt.Errorf("%s: %s", op, redact.Secrets(err.Error()))}
	}

	if resp != nil {
		return fmt.Errorf("%s: http %d: %s", op, resp.StatusCode, redact.Secrets(err.Error()))
	}
	return fmt.Errorf("%s: %s", op, redact.Secrets(err.Error()))
}

func resetTime(resp *http.Response) time.Time {
	if resp == nil {
		return time.Time{}
	}
	raw := strings.TrimSpace(resp.Header.Get(headerRateLimitReset))
	if raw == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
