// Package bybit клиент партнёрского API Bybit: список прямых рефералов.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/hermes-ledger/internal/config"
	"github.com/magabrotheeeer/hermes-ledger/internal/partner"
)

const (
	DefaultBaseURL  = "https://api.bybit.com"
	affUserListPath = "/v5/affiliate/aff-user-list"
	recvWindow      = "10000"
)

// Client реализует partner.Fetcher.
type Client struct {
	baseURL   string
	apiKey    string
	secretKey string
	http      *http.Client
	now       func() time.Time
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
		baseURL:   strings.TrimRight(base, "/"),
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		http:      hc,
		now:       time.Now,
	}
}

// Sign hex(HMAC-SHA256(timestamp + apiKey + recvWindow + query)).
func Sign(secret, timestamp, apiKey, window, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + window + query))
	return hex.EncodeToString(mac.Sum(nil))
}

type affUserListResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			UserID partner.ID   `json:"userId"`
			IsKYC  partner.Flag `json:"isKyc"`
		} `json:"list"`
		NextPageCursor string `json:"nextPageCursor"`
	} `json:"result"`
}

// FetchPage загружает страницу рефералов по курсору.
func (c *Client) FetchPage(ctx context.Context, cursor string, pageSize int) (partner.Page, error) {
	const op = "bybit.FetchPage"
	if c.apiKey == "" || c.secretKey == "" {
		return partner.Page{}, fmt.Errorf("%s: api keys are not configured", op)
	}

	query := url.Values{
		"cursor": {cursor},
		"size":   {strconv.Itoa(pageSize)},
	}.Encode()
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+affUserListPath+"?"+query, nil)
	if err != nil {
		return partner.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-SIGN", Sign(c.secretKey, timestamp, c.apiKey, recvWindow, query))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("Content-Type", "application/json")

	var resp affUserListResponse
	if err := partner.DoJSON(c.http, req, &resp); err != nil {
		return partner.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.RetCode != 0 {
		return partner.Page{}, fmt.Errorf("%s: api error %d: %s", op, resp.RetCode, resp.RetMsg)
	}

	page := partner.Page{
		Next: resp.Result.NextPageCursor,
		Last: resp.Result.NextPageCursor == "",
	}
	for _, u := range resp.Result.List {
		page.Invitees = append(page.Invitees, partner.Invitee{UID: string(u.UserID), KYC: bool(u.IsKYC)})
	}
	return page, nil
}
