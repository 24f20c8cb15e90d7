package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	// maxDownload bounds file downloads; evidence validation rejects anything larger.
	maxDownload = 10 << 20
)

// tokenPayload is the expected JSON shape stored in SSM for the bot token.
type tokenPayload struct {
	Token string `json:"token"`
}

// envelope is the common Bot API response wrapper.
type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *ReplyMarkup `json:"reply_markup,omitempty"`
}

// ReplyMarkup is either a one-shot keyboard or a keyboard removal.
type ReplyMarkup struct {
	Keyboard        [][]KeyboardButton `json:"keyboard,omitempty"`
	OneTimeKeyboard bool               `json:"one_time_keyboard,omitempty"`
	ResizeKeyboard  bool               `json:"resize_keyboard,omitempty"`
	RemoveKeyboard  bool               `json:"remove_keyboard,omitempty"`
}

type KeyboardButton struct {
	Text            string `json:"text"`
	RequestContact  bool   `json:"request_contact,omitempty"`
	RequestLocation bool   `json:"request_location,omitempty"`
}

type fileResult struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx or ok=false Bot API responses.
type HTTPStatusError struct {
	StatusCode int
	Method     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("telegram: %s failed with status %d: %s", e.Method, e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused Bot API client: send text, fetch files.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client whose bot token is read from SSM on first
// successful use and kept for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("telegram: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("telegram: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveToken keeps the first token it manages to read; failed reads are
// retried on the next call.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := fetchTokenFromParamStore(ctx, c.getter, c.paramPrefix+"/telegram-token")
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) base() string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		return defaultBaseURL
	}
	return base
}

func methodURL(base, token, method string) string {
	return base + "/bot" + token + "/" + method
}

// SendMessage posts text to chatID. markup may be nil.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, markup *ReplyMarkup) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("telegram: chat id must not be empty")
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: markup})
	if err != nil {
		return fmt.Errorf("telegram: marshal sendMessage: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, methodURL(c.base(), token, "sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.call(req, "sendMessage"); err != nil {
		return err
	}
	return nil
}

// DownloadFile resolves fileID and returns its bytes. Files over 10 MB are
// refused without downloading the body.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, errors.New("telegram: file id must not be empty")
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}

	u := methodURL(c.base(), token, "getFile") + "?file_id=" + url.QueryEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create request: %w", err)
	}
	raw, err := c.call(req, "getFile")
	if err != nil {
		return nil, err
	}
	var f fileResult
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("telegram: decode getFile: %w", err)
	}
	if f.FilePath == "" {
		return nil, errors.New("telegram: getFile returned no file path")
	}
	if f.FileSize > maxDownload {
		return nil, fmt.Errorf("telegram: file %s is %d bytes, over the download limit", fileID, f.FileSize)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/file/bot"+token+"/"+f.FilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create request: %w", err)
	}
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Method: "downloadFile", Body: string(buf)}
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: read file body: %w", err)
	}
	if len(data) > maxDownload {
		return nil, fmt.Errorf("telegram: file %s exceeds the download limit", fileID)
	}
	return data, nil
}

// call performs a Bot API method and returns the unwrapped result.
func (c *Client) call(req *http.Request, method string) (json.RawMessage, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Method: method, Body: truncate(string(buf), 4096)}
	}

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !env.OK {
		return nil, &HTTPStatusError{StatusCode: env.ErrorCode, Method: method, Body: env.Description}
	}
	return env.Result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("telegram: paramstore getter is nil")
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("telegram: parameter name is empty")
	}
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("telegram: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("telegram: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("telegram: bot token is empty")
	}
	return tp.Token, nil
}
