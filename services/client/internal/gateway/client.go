package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"askova/pkg/ai"
	"askova/pkg/domain"
)

// Client is the remote store gateway: a thin RPC boundary over the sync
// server. Every call can fail independently; no retries happen here.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout; generation streams stay open
	// until the provider completes or the context is cancelled.
	streamClient *http.Client

	// tokenMu guards token: login/logout handlers swap it while the sweeper
	// and detached upload goroutines read it.
	tokenMu sync.RWMutex
	token   string
}

// APIError represents a sync server error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsAuthError reports whether err is a 401/403 gateway failure. Those are
// permanent for the record within one sync pass and are not retried.
func IsAuthError(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden)
}

// NewClient constructs a gateway client for the sync server.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		streamClient: &http.Client{},
	}
}

// SetToken attaches the bearer token used for every subsequent call.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// Authenticated reports whether a bearer token is attached.
func (c *Client) Authenticated() bool {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token != ""
}

// Login exchanges credentials for a session token. The token is not stored
// automatically; callers decide when to adopt it.
func (c *Client) Login(ctx context.Context, email, password string) (string, domain.User, error) {
	var resp struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return "", domain.User{}, err
	}
	return resp.Token, resp.User, nil
}

// Register creates an account and returns a session token.
func (c *Client) Register(ctx context.Context, email, password string) (string, domain.User, error) {
	var resp struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", body, &resp); err != nil {
		return "", domain.User{}, err
	}
	return resp.Token, resp.User, nil
}

// Logout invalidates the current session token server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// UpsertQuiz creates the quiz remotely or updates its mutable fields.
func (c *Client) UpsertQuiz(ctx context.Context, quiz domain.Quiz) error {
	return c.doJSON(ctx, http.MethodPost, "/api/quizzes", quiz, nil)
}

// UpsertChatMessage creates or updates a message. The server rejects it when
// the caller does not own the parent quiz.
func (c *Client) UpsertChatMessage(ctx context.Context, msg domain.ChatMessage) error {
	return c.doJSON(ctx, http.MethodPost, "/api/messages", msg, nil)
}

// GetQuizzesByUser returns the caller's complete remote quiz set.
func (c *Client) GetQuizzesByUser(ctx context.Context) ([]domain.Quiz, error) {
	var quizzes []domain.Quiz
	if err := c.doJSON(ctx, http.MethodGet, "/api/quizzes", nil, &quizzes); err != nil {
		return nil, err
	}
	return quizzes, nil
}

// GetChatMessagesByUser returns the caller's complete remote message set.
// Server-completed messages always report status done.
func (c *Client) GetChatMessagesByUser(ctx context.Context) ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// QuizWithMessages is one quiz plus its embedded messages, used for full
// rehydration of a session.
type QuizWithMessages struct {
	Quiz     domain.Quiz          `json:"quiz"`
	Messages []domain.ChatMessage `json:"messages"`
}

// GetQuizByID fetches one quiz with embedded messages.
func (c *Client) GetQuizByID(ctx context.Context, id string) (QuizWithMessages, error) {
	var out QuizWithMessages
	if err := c.doJSON(ctx, http.MethodGet, "/api/quizzes/"+id, nil, &out); err != nil {
		return QuizWithMessages{}, err
	}
	return out, nil
}

// DeleteQuiz removes the quiz and its messages remotely.
func (c *Client) DeleteQuiz(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/quizzes/"+id, nil, nil)
}

// GetUserData returns the denormalized identity snapshot.
func (c *Client) GetUserData(ctx context.Context) (domain.UserData, error) {
	var data domain.UserData
	if err := c.doJSON(ctx, http.MethodGet, "/api/user", nil, &data); err != nil {
		return domain.UserData{}, err
	}
	return data, nil
}

// GenerateRequest starts a server-side generation for a quiz.
type GenerateRequest struct {
	QuizID  string    `json:"quizId"`
	History []ai.Turn `json:"history"`
	Prompt  string    `json:"prompt"`
}

// StartGeneration opens the server-push generation channel and returns its
// raw body. The caller owns the reader and must close it on every exit path.
func (c *Client) StartGeneration(ctx context.Context, genReq GenerateRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(genReq)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.addAuth(req)
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open generation stream: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addAuth(req *http.Request) {
	c.tokenMu.RLock()
	token := c.token
	c.tokenMu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func decodeAPIError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
