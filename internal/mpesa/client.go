/*
Copyright 2024 Bingwa Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/internal/request"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnauthorized is returned when the gateway rejects the bearer token twice in a row.
	ErrUnauthorized = errors.New("mpesa: unauthorized")
	// ErrUnexpectedStatus is returned for any other non-2xx response.
	ErrUnexpectedStatus = errors.New("mpesa: unexpected status")
)

const (
	timestampLayout        = "20060102150405"
	transactionTypePayBill = "CustomerPayBillOnline"
	acceptedResponseCode   = "0"
	tokenPath              = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath            = "/mpesa/stkpush/v1/processrequest"
	defaultTimeout         = 30 * time.Second
	defaultTokenTTL        = 55 * time.Minute
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	ConsumerKey       string
	ConsumerSecret    string
	BusinessShortCode string
	Passkey           string
	CallbackURL       string
	TokenTTL          time.Duration
	Timeout           time.Duration
}

// OptionsFromConfig maps the mpesa configuration block onto Options.
func OptionsFromConfig(cfg config.MpesaConfig) Options {
	base := cfg.BaseURL
	if base == "" {
		base = config.MpesaBaseURL(cfg.Environment)
	}
	return Options{
		BaseURL:           base,
		ConsumerKey:       cfg.ConsumerKey,
		ConsumerSecret:    cfg.ConsumerSecret,
		BusinessShortCode: cfg.BusinessShortCode,
		Passkey:           cfg.Passkey,
		CallbackURL:       cfg.CallbackURL,
		TokenTTL:          time.Duration(cfg.TokenTTLSeconds) * time.Second,
		Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// StkPushRequest is the caller's view of a push payment.
type StkPushRequest struct {
	Amount           int64
	PhoneNumber      string
	AccountReference string
	TransactionDesc  string
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// StkPushResponse is the synchronous acknowledgement of a push payment.
type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Accepted reports whether the gateway queued the prompt on the customer's phone.
func (r StkPushResponse) Accepted() bool {
	return r.ResponseCode == acceptedResponseCode
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Client talks to the Daraja API.
type Client struct {
	opts   Options
	http   *http.Client
	tokens *TokenCache
	now    func() time.Time
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	c := &Client{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
		now:  time.Now,
	}
	c.tokens = NewTokenCache(c.fetchToken)
	return c
}

// Tokens exposes the client's token cache.
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+tokenPath, nil)
	if err != nil {
		return "", 0, errors.Wrap(err, "mpesa: build token request")
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(c.opts.ConsumerKey, c.opts.ConsumerSecret))

	var body tokenResponse
	resp, err := request.CallWithClient(c.http, req, &body)
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return "", 0, errors.Wrap(ErrUnauthorized, "mpesa: token request rejected")
		case resp.StatusCode/100 != 2:
			return "", 0, errors.Wrapf(ErrUnexpectedStatus, "token request returned %d", resp.StatusCode)
		}
	}
	if err != nil {
		return "", 0, errors.Wrap(err, "mpesa: token request")
	}
	if body.AccessToken == "" {
		return "", 0, errors.New("mpesa: token response missing access_token")
	}

	ttl := c.opts.TokenTTL
	if secs, err := strconv.Atoi(body.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	return body.AccessToken, ttl, nil
}

// Password is base64(shortCode + passkey + timestamp).
func (c *Client) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.opts.BusinessShortCode + c.opts.Passkey + timestamp))
}

// PushPayment sends an STK push. A 401 invalidates the token and the request is
// retried once; a second 401 returns ErrUnauthorized.
func (c *Client) PushPayment(ctx context.Context, in StkPushRequest) (*StkPushResponse, error) {
	resp, status, err := c.pushOnce(ctx, in)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		logrus.Warn("mpesa token rejected, refreshing and retrying push once")
		c.tokens.Invalidate()
		resp, status, err = c.pushOnce(ctx, in)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, errors.Wrap(ErrUnauthorized, "mpesa: stk push rejected after token refresh")
		}
	}
	return resp, nil
}

func (c *Client) pushOnce(ctx context.Context, in StkPushRequest) (*StkPushResponse, int, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	timestamp := c.now().Format(timestampLayout)
	payload, err := request.ToJsonReq(stkPushBody{
		BusinessShortCode: c.opts.BusinessShortCode,
		Password:          c.Password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionTypePayBill,
		Amount:            in.Amount,
		PartyA:            in.PhoneNumber,
		PartyB:            c.opts.BusinessShortCode,
		PhoneNumber:       in.PhoneNumber,
		CallBackURL:       c.opts.CallbackURL,
		AccountReference:  in.AccountReference,
		TransactionDesc:   in.TransactionDesc,
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "mpesa: encode stk push")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+stkPushPath, payload)
	if err != nil {
		return nil, 0, errors.Wrap(err, "mpesa: build stk push request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "mpesa: stk push")
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, errors.Wrap(err, "mpesa: read stk push response")
	}

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized:
		return nil, httpResp.StatusCode, nil
	case httpResp.StatusCode/100 != 2:
		return nil, httpResp.StatusCode, errors.Wrapf(ErrUnexpectedStatus, "stk push returned %d: %s", httpResp.StatusCode, strings.TrimSpace(string(raw)))
	}

	out := &StkPushResponse{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, httpResp.StatusCode, errors.Wrap(err, "mpesa: decode stk push response")
	}
	return out, httpResp.StatusCode, nil
}
