// Package media authorises participants on the external real-time media
// transport and tracks the signals it reports.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenIssuance means the media transport could not be authorised. It is
// shown to the user but does not affect the session.
var ErrTokenIssuance = errors.New("media token issuance failed")

// Token authorises uid on channel.
type Token struct {
	Token     string    `json:"token"`
	AppID     string    `json:"appId,omitempty"`
	Channel   string    `json:"channel"`
	UID       string    `json:"uid"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenIssuer is the token issuance endpoint.
type TokenIssuer interface {
	Issue(ctx context.Context, channel, uid string) (*Token, error)
}

type channelClaims struct {
	Channel string `json:"channel"`
	jwt.RegisteredClaims
}

// HMACIssuer signs channel tokens locally.
type HMACIssuer struct {
	appID  string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewHMACIssuer(appID, secret string, ttl time.Duration) *HMACIssuer {
	return &HMACIssuer{appID: appID, secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *HMACIssuer) Issue(_ context.Context, channel, uid string) (*Token, error) {
	if channel == "" || uid == "" {
		return nil, fmt.Errorf("%w: channel and uid are required", ErrTokenIssuance)
	}
	if len(i.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrTokenIssuance)
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := channelClaims{
		Channel: channel,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}
	return &Token{Token: signed, AppID: i.appID, Channel: channel, UID: uid, ExpiresAt: exp}, nil
}

// Verify parses a token issued by i and returns its channel and uid.
func (i *HMACIssuer) Verify(token string) (channel, uid string, err error) {
	claims := &channelClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", "", err
	}
	return claims.Channel, claims.Subject, nil
}

// HTTPIssuer delegates to a remote token endpoint: GET <url>?channel=&uid=
// answering {"token": "..."}.
type HTTPIssuer struct {
	endpoint string
	appID    string
	client   *http.Client
	ttl      time.Duration
	now      func() time.Time
}

func NewHTTPIssuer(endpoint, appID string, ttl time.Duration, client *http.Client) *HTTPIssuer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPIssuer{endpoint: endpoint, appID: appID, client: client, ttl: ttl, now: time.Now}
}

func (i *HTTPIssuer) Issue(ctx context.Context, channel, uid string) (*Token, error) {
	issued := i.now()
	u, err := url.Parse(i.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}
	q := u.Query()
	q.Set("channel", channel)
	q.Set("uid", uid)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: endpoint returned %s", ErrTokenIssuance, resp.Status)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}
	if strings.TrimSpace(body.Token) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenIssuance)
	}
	return &Token{Token: body.Token, AppID: i.appID, Channel: channel, UID: uid, ExpiresAt: issued.Add(i.ttl)}, nil
}
