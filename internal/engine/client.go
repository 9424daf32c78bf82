// Package engine talks to the external inference engine: it supervises the
// child process, submits graphs and waits for their history records.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dunamismax/charforge/internal/domain"
	"github.com/dunamismax/charforge/internal/workflow"
	"github.com/tidwall/gjson"
)

const maxResponseBytes = 8 << 20

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// SystemStats issues the readiness request and returns the HTTP status code.
func (c *Client) SystemStats(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return 0, fmt.Errorf("build system_stats request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, nil
}

type promptRequest struct {
	Prompt   workflow.Graph `json:"prompt"`
	ClientID string         `json:"client_id,omitempty"`
}

type QueueResponse struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
}

// QueuePrompt posts graph to /prompt. Every failure is a *SubmissionError.
func (c *Client) QueuePrompt(ctx context.Context, graph workflow.Graph, clientID string) (QueueResponse, error) {
	body, err := sonic.ConfigStd.Marshal(promptRequest{Prompt: graph, ClientID: clientID})
	if err != nil {
		return QueueResponse{}, &SubmissionError{Err: fmt.Errorf("marshal prompt: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return QueueResponse{}, &SubmissionError{Err: fmt.Errorf("build prompt request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return QueueResponse{}, &SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return QueueResponse{}, &SubmissionError{Err: fmt.Errorf("read prompt response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return QueueResponse{}, &SubmissionError{StatusCode: resp.StatusCode, Detail: rejectionDetail(raw)}
	}

	var out QueueResponse
	if err := sonic.ConfigStd.Unmarshal(raw, &out); err != nil {
		return QueueResponse{}, &SubmissionError{Err: fmt.Errorf("decode prompt response: %w", err)}
	}
	if strings.TrimSpace(out.PromptID) == "" {
		return QueueResponse{}, &SubmissionError{Detail: "engine response carried no prompt_id: " + rejectionDetail(raw)}
	}
	return out, nil
}

// History looks promptID up in /history/{id}. found is false while the job
// is still pending.
func (c *Client) History(ctx context.Context, promptID string) (domain.JobRecord, bool, error) {
	endpoint := c.baseURL + "/history/" + url.PathEscape(promptID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.JobRecord{}, false, fmt.Errorf("build history request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.JobRecord{}, false, fmt.Errorf("fetch history %s: %w", promptID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.JobRecord{}, false, fmt.Errorf("read history %s: %w", promptID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.JobRecord{}, false, fmt.Errorf("fetch history %s: engine returned status=%d", promptID, resp.StatusCode)
	}

	return ParseHistory(raw, promptID)
}

var errInvalidHistory = errors.New("invalid history document")

// ParseHistory extracts promptID's record from a history document, keeping
// output entries in document order.
func ParseHistory(raw []byte, promptID string) (domain.JobRecord, bool, error) {
	if !gjson.ValidBytes(raw) {
		return domain.JobRecord{}, false, errInvalidHistory
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return domain.JobRecord{}, false, errInvalidHistory
	}

	var (
		record domain.JobRecord
		found  bool
	)
	doc.ForEach(func(key, value gjson.Result) bool {
		if key.String() != promptID {
			return true
		}
		found = true
		record = parseRecord(promptID, value)
		return false
	})
	return record, found, nil
}

func parseRecord(promptID string, value gjson.Result) domain.JobRecord {
	record := domain.JobRecord{PromptID: promptID}

	value.Get("outputs").ForEach(func(nodeID, output gjson.Result) bool {
		images := output.Get("images")
		if !images.Exists() {
			return true
		}
		entry := domain.OutputEntry{NodeID: nodeID.String()}
		for _, img := range images.Array() {
			entry.Images = append(entry.Images, domain.ImageRef{
				Filename:  img.Get("filename").String(),
				Subfolder: img.Get("subfolder").String(),
				Type:      img.Get("type").String(),
			})
		}
		record.Outputs = append(record.Outputs, entry)
		return true
	})

	if status := value.Get("status"); status.IsObject() {
		record.Status = &domain.JobStatus{
			StatusStr: status.Get("status_str").String(),
			Completed: status.Get("completed").Bool(),
		}
	}
	return record
}

func rejectionDetail(raw []byte) string {
	doc := gjson.ParseBytes(raw)
	if msg := doc.Get("error.message"); msg.Exists() {
		return msg.String()
	}
	if e := doc.Get("error"); e.Exists() {
		return e.String()
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
