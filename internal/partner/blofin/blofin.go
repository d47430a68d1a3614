// Package blofin клиент партнёрского API BloFin: список приглашённых.
package blofin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/partner"
)

const (
	DefaultBaseURL = "https://openapi.blofin.com"
	inviteesPath   = "/api/v1/affiliate/invitees"
)

// Client реализует partner.Fetcher. Курсор это id последнего приглашённого.
type Client struct {
	baseURL    string
	apiKey     string
	secretKey  string
	passphrase string
	http       *http.Client
	now        func() time.Time
	nonce      func() string
}

// New создаёт клиента по настройкам партнёра.
func New(cfg config.Partner, hc *http.Client) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		passphrase: cfg.Passphrase,
		http:       hc,
		now:        time.Now,
		nonce:      uuid.NewString,
	}
}

// Sign base64(hex(HMAC-SHA256(path + METHOD + timestamp + nonce + body))).
func Sign(secret, path, method, timestamp, nonce, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(path + strings.ToUpper(method) + timestamp + nonce + body))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(mac.Sum(nil))))
}

type inviteesResponse struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data []struct {
		ID       partner.ID `json:"id"`
		UID      partner.ID `json:"uid"`
		KYCLevel partner.ID `json:"kycLevel"`
	} `json:"data"`
}

func (r inviteesResponse) ok() bool {
	code := strings.Trim(string(r.Code), `" `)
	return code == "0" || code == "200"
}

// FetchPage загружает страницу приглашённых старше курсора.
func (c *Client) FetchPage(ctx context.Context, cursor string, pageSize int) (partner.Page, error) {
	const op = "blofin.FetchPage"
	if c.apiKey == "" || c.secretKey == "" || c.passphrase == "" {
		return partner.Page{}, fmt.Errorf("%s: api keys are not configured", op)
	}

	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	if cursor != "" {
		query.Set("before", cursor)
	}
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := c.nonce()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+inviteesPath+"?"+query.Encode(), nil)
	if err != nil {
		return partner.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("ACCESS-KEY", c.apiKey)
	req.Header.Set("ACCESS-SIGN", Sign(c.secretKey, inviteesPath, http.MethodGet, timestamp, nonce, ""))
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-NONCE", nonce)
	req.Header.Set("ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("Content-Type", "application/json")

	var resp inviteesResponse
	if err := partner.DoJSON(c.http, req, &resp); err != nil {
		return partner.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	if !resp.ok() {
		return partner.Page{}, fmt.Errorf("%s: api error %s: %s", op, resp.Code, resp.Msg)
	}

	page := partner.Page{Last: len(resp.Data) == 0 || len(resp.Data) < pageSize}
	for _, inv := range resp.Data {
		level, _ := strconv.Atoi(string(inv.KYCLevel))
		page.Invitees = append(page.Invitees, partner.Invitee{UID: string(inv.UID), KYC: level > 0})
	}
	if n := len(resp.Data); n > 0 {
		page.Next = string(resp.Data[n-1].ID)
	}
	return page, nil
}
