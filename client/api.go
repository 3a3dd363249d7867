package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/httpapi"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

// apiClient talks to the api and gateway REST surfaces as one user.
type apiClient struct {
	apiAddr     string
	gatewayAddr string
	http        *http.Client
	token       string
	userID      string
}

func newAPIClient(apiAddr, gatewayAddr string) *apiClient {
	return &apiClient{
		apiAddr:     strings.TrimRight(apiAddr, "/"),
		gatewayAddr: strings.TrimRight(gatewayAddr, "/"),
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

type loginResponse struct {
	Status bool       `json:"status"`
	Token  string     `json:"token"`
	User   model.User `json:"user"`
	Msg    string     `json:"msg"`
}

func (c *apiClient) login(ctx context.Context, username string) error {
	var resp loginResponse
	if err := c.call(ctx, http.MethodPost, c.apiAddr+"/login", httpapi.LoginRequest{Username: username}, &resp); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	c.token = resp.Token
	c.userID = resp.User.ID
	return nil
}

func (c *apiClient) addMessage(ctx context.Context, to, text string) (*model.Message, error) {
	var msg model.Message
	req := httpapi.AddMessageRequest{To: to, Message: model.Body{Text: text}}
	if err := c.callData(ctx, http.MethodPost, c.apiAddr+"/api/messages/addmsg", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *apiClient) history(ctx context.Context, with string) ([]httpapi.ProjectedMessage, error) {
	var msgs []httpapi.ProjectedMessage
	if err := c.callData(ctx, http.MethodPost, c.apiAddr+"/api/messages/getmsg", httpapi.PeerRequest{To: with}, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *apiClient) clearChat(ctx context.Context, with string) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := c.callData(ctx, http.MethodPost, c.apiAddr+"/api/messages/clearchat", httpapi.PeerRequest{To: with}, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func (c *apiClient) schedule(ctx context.Context, to, text string, at time.Time) (*model.ScheduledMessage, error) {
	var sm model.ScheduledMessage
	req := httpapi.ScheduleRequest{To: to, Message: text, ScheduledTime: at}
	if err := c.callData(ctx, http.MethodPost, c.gatewayAddr+"/api/scheduled/schedule", req, &sm); err != nil {
		return nil, err
	}
	return &sm, nil
}

func (c *apiClient) pending(ctx context.Context) ([]model.ScheduledMessage, error) {
	var out []model.ScheduledMessage
	if err := c.callData(ctx, http.MethodGet, c.gatewayAddr+"/api/scheduled/scheduled/"+c.userID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) cancel(ctx context.Context, id string) error {
	return c.callData(ctx, http.MethodPost, c.gatewayAddr+"/api/scheduled/cancel/"+id, httpapi.CancelRequest{}, nil)
}

func (c *apiClient) sendNow(ctx context.Context, id string) error {
	return c.callData(ctx, http.MethodPost, c.gatewayAddr+"/api/scheduled/send/"+id, nil, nil)
}

// callData unwraps the data field of a standard response into out.
func (c *apiClient) callData(ctx context.Context, method, url string, body, out any) error {
	var resp httpapi.Response
	if err := c.call(ctx, method, url, body, &resp); err != nil {
		return err
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *apiClient) call(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var failed httpapi.Response
		if json.Unmarshal(data, &failed) == nil && failed.Msg != "" {
			return fmt.Errorf("%s (%s)", failed.Msg, failed.Code)
		}
		return fmt.Errorf("%s %s: %s", method, url, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
