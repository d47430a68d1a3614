// Package bingx клиент агентского API BingX: список приглашённых аккаунтов.
package bingx

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
	DefaultBaseURL        = "https://open-api.bingx.com"
	inviteAccountListPath = "/openApi/agent/v1/account/inviteAccountList"
)

// Client реализует partner.Fetcher. Курсор это номер страницы.
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

// Sign hex(HMAC-SHA256) от параметров, отсортированных по ключу.
func Sign(secret, params string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(params))
	return hex.EncodeToString(mac.Sum(nil))
}

type inviteAccountListResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		List []struct {
			UID       partner.ID   `json:"uid"`
			KYCResult partner.Flag `json:"kycResult"`
		} `json:"list"`
	} `json:"data"`
}

// FetchPage загружает страницу cursor (с единицы).
func (c *Client) FetchPage(ctx context.Context, cursor string, pageSize int) (partner.Page, error) {
	const op = "bingx.FetchPage"
	if c.apiKey == "" || c.secretKey == "" {
		return partner.Page{}, fmt.Errorf("%s: api keys are not configured", op)
	}

	pageIndex := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return partner.Page{}, fmt.Errorf("%s: invalid page cursor %q", op, cursor)
		}
		pageIndex = n
	}

	params := url.Values{
		"pageIndex": {strconv.Itoa(pageIndex)},
		"pageSize":  {strconv.Itoa(pageSize)},
		"timestamp": {strconv.FormatInt(c.now().UnixMilli(), 10)},
	}.Encode()
	target := c.baseURL + inviteAccountListPath + "?" + params + "&signature=" + Sign(c.secretKey, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return partner.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("X-BX-APIKEY", c.apiKey)

	var resp inviteAccountListResponse
	if err := partner.DoJSON(c.http, req, &resp); err != nil {
		return partner.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Code != 0 {
		return partner.Page{}, fmt.Errorf("%s: api error %d: %s", op, resp.Code, resp.Msg)
	}

	page := partner.Page{
		Next: strconv.Itoa(pageIndex + 1),
		Last: len(resp.Data.List) < pageSize,
	}
	for _, inv := range resp.Data.List {
		page.Invitees = append(page.Invitees, partner.Invitee{UID: string(inv.UID), KYC: bool(inv.KYCResult)})
	}
	return page, nil
}
