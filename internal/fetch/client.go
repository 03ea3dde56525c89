// Package fetch retrieves AssistNow aiding data from the u-blox service.
//
// Each logical fetch hits the primary server and fails over to the backup
// exactly once on a transport error or non-2xx status. A 403 from the
// primary is permanent (account overload) and is never retried.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Default service endpoints. The spelling matters: the service expects the
// token and parameters as "key=value;" pairs in the raw query.
const (
	DefaultOnlinePrimary  = "https://online-live1.services.u-blox.com/GetOnlineData.ashx"
	DefaultOnlineBackup   = "https://online-live2.services.u-blox.com/GetOnlineData.ashx"
	DefaultOfflinePrimary = "https://offline-live1.services.u-blox.com/GetOfflineData.ashx"
	DefaultOfflineBackup  = "https://offline-live2.services.u-blox.com/GetOfflineData.ashx"
)

// ErrOverload is returned for a 403 from the primary server: the service-side
// request quota for the token is exhausted. Retrying would only dig deeper.
var ErrOverload = errors.New("fetch: overload limit reached")

// ErrBadParam reports a query parameter whose value type cannot be encoded.
// The request is not sent.
var ErrBadParam = errors.New("fetch: undecodable query parameter")

type Config struct {
	Token string

	OnlinePrimary  string
	OnlineBackup   string
	OfflinePrimary string
	OfflineBackup  string

	// HTTPClient may be nil; a client with a 30s timeout is used then.
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("fetch: token is required")
	}
	if cfg.OnlinePrimary == "" {
		cfg.OnlinePrimary = DefaultOnlinePrimary
	}
	if cfg.OnlineBackup == "" {
		cfg.OnlineBackup = DefaultOnlineBackup
	}
	if cfg.OfflinePrimary == "" {
		cfg.OfflinePrimary = DefaultOfflinePrimary
	}
	if cfg.OfflineBackup == "" {
		cfg.OfflineBackup = DefaultOfflineBackup
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg}, nil
}

// EncodeQuery renders params as "key=value[,value...];" pairs with the token
// first and the remaining keys sorted. Values may be strings, integers,
// floats, or slices of those; anything else fails with ErrBadParam and the
// request must not be sent.
func EncodeQuery(token string, params map[string]any) (string, error) {
	var b strings.Builder
	b.WriteString("token=")
	b.WriteString(token)
	b.WriteString(";")

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := encodeValue(params[k])
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBadParam, k, err)
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
		b.WriteString(";")
	}
	return b.String(), nil
}

func encodeValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case []string:
		return strings.Join(x, ","), nil
	case []int:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ","), nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			s, err := encodeValue(e)
			if err != nil {
				return "", err
			}
			if strings.Contains(s, ",") {
				return "", fmt.Errorf("nested list value")
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

// Online fetches AssistNow Online data. The returned bytes are concatenated
// UBX frames ready for the dispatcher.
func (c *Client) Online(ctx context.Context, params map[string]any) ([]byte, error) {
	return c.fetch(ctx, c.cfg.OnlinePrimary, c.cfg.OnlineBackup, params)
}

// Offline fetches AssistNow Offline data (MGA-ANO frames spanning several
// days), for bucketing and storage.
func (c *Client) Offline(ctx context.Context, params map[string]any) ([]byte, error) {
	return c.fetch(ctx, c.cfg.OfflinePrimary, c.cfg.OfflineBackup, params)
}

func (c *Client) fetch(ctx context.Context, primary, backup string, params map[string]any) ([]byte, error) {
	query, err := EncodeQuery(c.cfg.Token, params)
	if err != nil {
		return nil, err
	}

	body, retry, err := c.get(ctx, primary, query)
	if err == nil {
		return body, nil
	}
	if !retry {
		return nil, err
	}

	log.Printf("fetch: primary failed, retrying against backup: %v", err)
	body, _, err = c.get(ctx, backup, query)
	if err != nil {
		return nil, fmt.Errorf("fetch: backup failed: %w", err)
	}
	return body, nil
}

// get performs one GET. retry reports whether the failure is eligible for
// the single backup attempt.
func (c *Client) get(ctx context.Context, base, query string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+query, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		return nil, false, ErrOverload
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, true, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, false, nil
}
