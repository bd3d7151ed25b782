// Package vnpay builds redirect URLs for the VNPay hosted payment page and
// decodes the query parameters the gateway appends to the return URL.
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrGatewayUnavailable means a redirect URL cannot be produced at all
	// (missing merchant credentials). Surfaced before any navigation; the
	// pending order must not be left behind when this happens.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	ErrInvalidAmount = errors.New("amount must be a positive integer")

	// ErrNotGatewayReturn means the query string lacks the gateway's
	// mandatory parameters. This is "not a payment callback", not a
	// failed payment.
	ErrNotGatewayReturn = errors.New("query is not a gateway return")

	ErrBadSignature = errors.New("callback signature verification failed")
)

type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

type Client struct {
	cfg Config
	now func() time.Time
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, now: time.Now}
}

// BuildRedirectURL assembles the signed hosted-payment URL. amount is in
// VND; the wire format wants it multiplied by 100.
func (c *Client) BuildRedirectURL(orderID string, amount int64, orderInfo string) (string, error) {
	if c.cfg.TmnCode == "" || c.cfg.HashSecret == "" || c.cfg.PayURL == "" {
		return "", ErrGatewayUnavailable
	}
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", c.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(amount*100, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", orderID)
	params.Set("vnp_OrderInfo", orderInfo)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	params.Set("vnp_CreateDate", c.now().Format("20060102150405"))

	params.Set("vnp_SecureHash", c.sign(params))

	return c.cfg.PayURL + "?" + params.Encode(), nil
}

// CallbackResult is the structured form of the gateway's return query.
type CallbackResult struct {
	TxnRef       string
	ResponseCode string
	Amount       int64
	BankCode     string
	PayDate      string
}

// ParseCallback decodes the return query. Absence of the response code or
// transaction reference means the URL was not a gateway return at all.
// A configured merchant secret makes the signature mandatory: the
// transaction reference is visible in the redirect URL, so an unsigned
// query proves nothing about who sent it.
func (c *Client) ParseCallback(query url.Values) (*CallbackResult, error) {
	code := query.Get("vnp_ResponseCode")
	txnRef := query.Get("vnp_TxnRef")
	if code == "" || txnRef == "" {
		return nil, ErrNotGatewayReturn
	}

	if c.cfg.HashSecret != "" {
		hash := query.Get("vnp_SecureHash")
		if hash == "" {
			return nil, ErrBadSignature
		}
		unsigned := url.Values{}
		for k, v := range query {
			if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
				continue
			}
			unsigned[k] = v
		}
		if !hmac.Equal([]byte(strings.ToLower(hash)), []byte(c.sign(unsigned))) {
			return nil, ErrBadSignature
		}
	}

	result := &CallbackResult{
		TxnRef:       txnRef,
		ResponseCode: code,
		BankCode:     query.Get("vnp_BankCode"),
		PayDate:      query.Get("vnp_PayDate"),
	}
	if raw := query.Get("vnp_Amount"); raw != "" {
		minor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed vnp_Amount %q: %w", raw, err)
		}
		result.Amount = minor / 100
	}
	return result, nil
}

// sign computes the HMAC-SHA512 over the sorted, URL-encoded parameters.
func (c *Client) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}

	mac := hmac.New(sha512.New, []byte(c.cfg.HashSecret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
