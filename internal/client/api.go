package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"cadence-diary-server/internal/domain"
)

// APIClient talks to the diary server's JSON surface. It keeps the session
// cookie in a jar so every call rides the same server-side session.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) (*APIClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout, Jar: jar},
	}, nil
}

// envelope is the server's pkg/response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (c *APIClient) Login(ctx context.Context, loginID string, pattern domain.TypingPattern, quality float64) (*domain.LoginResponse, error) {
	var resp domain.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", &domain.LoginRequest{
		LoginID:        loginID,
		TypingPattern:  pattern,
		PatternQuality: quality,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) CreateAccount(ctx context.Context, pattern domain.TypingPattern, quality float64) (*domain.CreateAccountResponse, error) {
	var resp domain.CreateAccountResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/create-account", &domain.CreateAccountRequest{
		TypingPattern:  pattern,
		PatternQuality: quality,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) AuthenticateNote(ctx context.Context, pattern domain.TypingPattern, contents string, noteIndex int64, quality float64) (*domain.AuthenticateNoteResponse, error) {
	var resp domain.AuthenticateNoteResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/notes/authenticate", &domain.AuthenticateNoteRequest{
		TypingPattern:  pattern,
		NoteContents:   contents,
		NoteIndex:      noteIndex,
		PatternQuality: quality,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetNotes(ctx context.Context, beforeIndex int64) (*domain.GetNotesResponse, error) {
	var resp domain.GetNotesResponse
	path := "/api/v1/notes?beforeIndex=" + strconv.FormatInt(beforeIndex, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) SaveNotes(ctx context.Context, notes []domain.NoteToSave) (*domain.SaveNotesResponse, error) {
	var resp domain.SaveNotesResponse
	err := c.do(ctx, http.MethodPut, "/api/v1/notes", &domain.SaveNotesRequest{
		NotesToSave: notes,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !env.Success {
		return fmt.Errorf("server rejected %s %s: %s", method, path, env.Error)
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}
