package tuya

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	reading "voltage-monitor/internal/reading/domain"
)

// Client is a minimal Tuya OpenAPI client covering device listing and status
// polls. Requests are signed per the cloud's HMAC-SHA256 scheme; the access
// token is cached and refreshed ahead of expiry.
type Client struct {
	baseURL  string
	clientID string
	secret   string
	client   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Device represents one device registered in the cloud account.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var regionEndpoints = map[string]string{
	"us": "https://openapi.tuyaus.com",
	"eu": "https://openapi.tuyaeu.com",
	"cn": "https://openapi.tuyacn.com",
	"in": "https://openapi.tuyain.com",
}

// NewClient constructs a client for the given region.
func NewClient(region, clientID, secret string) (*Client, error) {
	if clientID == "" || secret == "" {
		return nil, errors.New("tuya: client id and secret are required")
	}
	baseURL, ok := regionEndpoints[strings.ToLower(region)]
	if !ok {
		return nil, fmt.Errorf("tuya: unknown region %q", region)
	}
	return &Client{
		baseURL:  baseURL,
		clientID: clientID,
		secret:   secret,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// NewClientWithBaseURL constructs a client against an explicit endpoint.
// Used by tests against a fake cloud.
func NewClientWithBaseURL(baseURL, clientID, secret string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("tuya: empty base url")
	}
	if clientID == "" || secret == "" {
		return nil, errors.New("tuya: client id and secret are required")
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		secret:   secret,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// ListDevices returns the devices associated with the cloud account.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var result devicesResult
	if err := c.doGet(ctx, "/v1.0/iot-01/associated-users/devices", &result); err != nil {
		return nil, err
	}
	return result.Devices, nil
}

type devicesResult struct {
	Devices []Device `json:"devices"`
}

// GetStatus returns the current status fields reported for one device. Values
// that are not numeric (booleans, enum strings) carry a nil Value; the caller
// decides which codes matter.
func (c *Client) GetStatus(ctx context.Context, deviceID string) ([]reading.StatusField, error) {
	if deviceID == "" {
		return nil, errors.New("tuya: empty device id")
	}

	var raw []statusItem
	if err := c.doGet(ctx, "/v1.0/devices/"+deviceID+"/status", &raw); err != nil {
		return nil, err
	}

	fields := make([]reading.StatusField, 0, len(raw))
	for _, item := range raw {
		field := reading.StatusField{Code: item.Code}
		if len(item.Value) > 0 {
			var value float64
			if err := json.Unmarshal(item.Value, &value); err == nil {
				field.Value = &value
			}
		}
		fields = append(fields, field)
	}
	return fields, nil
}

// Ping verifies cloud connectivity and credentials by acquiring a token.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.token(ctx)
	return err
}

type statusItem struct {
	Code  string          `json:"code"`
	Value json.RawMessage `json:"value"`
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
}

type tokenResult struct {
	AccessToken string `json:"access_token"`
	ExpireTime  int64  `json:"expire_time"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	var result tokenResult
	if err := c.do(ctx, "/v1.0/token?grant_type=1", "", &result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", errors.New("tuya: empty access token")
	}

	c.accessToken = result.AccessToken
	// Refresh one minute early to avoid racing the expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(result.ExpireTime)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, path, token, out)
}

func (c *Client) do(ctx context.Context, path, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("client_id", c.clientID)
	req.Header.Set("t", timestamp)
	req.Header.Set("sign_method", "HMAC-SHA256")
	req.Header.Set("sign", c.sign(accessToken, timestamp, path))
	if accessToken != "" {
		req.Header.Set("access_token", accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("tuya: http %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("tuya: decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("tuya: api error %d: %s", env.Code, env.Msg)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

// sign computes the OpenAPI v2 request signature: HMAC-SHA256 over
// client_id + access_token + t + stringToSign, uppercase hex.
func (c *Client) sign(accessToken, timestamp, path string) string {
	contentHash := sha256.Sum256(nil)
	stringToSign := http.MethodGet + "\n" + hex.EncodeToString(contentHash[:]) + "\n\n" + path

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(c.clientID + accessToken + timestamp + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
