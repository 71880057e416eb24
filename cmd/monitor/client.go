package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentrouter/internal/agent"
	"agentrouter/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
	// stream has no timeout; the live event feed stays open.
	stream *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *client) health() error {
	return c.getJSON("/healthz", &map[string]any{})
}

func (c *client) startRun(task string) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.postJSON("/api/graph/run", map[string]any{"task": task, "async": true}, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func (c *client) cancelRun(taskID string) error {
	return c.postJSON("/api/graph/runs/"+url.PathEscape(taskID)+"/cancel", nil, nil)
}

func (c *client) listRuns(limit int) ([]domain.RunSummary, error) {
	var out []domain.RunSummary
	if err := c.getJSON(fmt.Sprintf("/api/graph/runs?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) getRun(taskID string) (domain.GraphState, error) {
	var out domain.GraphState
	err := c.getJSON("/api/graph/runs/"+url.PathEscape(taskID), &out)
	return out, err
}

func (c *client) listAgents() ([]agent.Info, error) {
	var out []agent.Info
	if err := c.getJSON("/api/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// follow reads the live event stream and calls fn for every event until ctx
// is done or the server closes the stream.
func (c *client) follow(ctx context.Context, fn func(domain.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/graph/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return readEvents(resp.Body, fn)
}

// readEvents decodes server-sent events whose data lines carry one JSON
// encoded event. Comments and unknown fields are ignored.
func readEvents(r io.Reader, fn func(domain.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				var ev domain.Event
				if err := json.Unmarshal(data.Bytes(), &ev); err == nil {
					fn(ev)
				}
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
