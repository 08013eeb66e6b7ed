package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/schema-extractor/internal/llm"
)

var errNoArguments = errors.New("no function call in openai response")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Type     string `json:"type"`
	Function any    `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float32       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
	Tools       []tool        `json:"tools"`
	ToolChoice  any           `json:"tool_choice"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			ToolCalls []struct {
				Function functionCall `json:"function"`
			} `json:"tool_calls"`
			FunctionCall *functionCall `json:"function_call"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract implements llm.Extractor with a forced function call on chat/completions.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) ([]byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"label", req.Label,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.Text),
	)

	body := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: llm.SystemPrompt},
			{Role: "user", Content: llm.BuildUserPrompt(req.Text, c.cfg.MaxTextChars)},
		},
		Tools: []tool{{Type: "function", Function: req.Function}},
		ToolChoice: map[string]any{
			"type":     "function",
			"function": map[string]string{"name": req.Function.Name},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	var raw []byte
	err := llm.Retry(ctx, c.cfg.MaxRetries, c.wait, c.log, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		raw, _, err = llm.SendJSON(ctx, c.http, endpoint, body, headers, c.log)
		return err
	})
	if err != nil {
		c.log.Error("llm.extract.http_error",
			"req_id", rid, "label", req.Label, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, &llm.ServiceError{Label: req.Label, Err: err}
	}

	args, err := arguments(raw)
	if err != nil {
		c.log.Error("llm.extract.decode_error",
			"req_id", rid, "label", req.Label, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, &llm.ServiceError{Label: req.Label, Err: err}
	}

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"label", req.Label,
		"bytes", len(args),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return args, nil
}

// arguments pulls the function arguments out of a chat completion, accepting both
// tool_calls and the legacy function_call shape.
func arguments(raw []byte) ([]byte, error) {
	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, fmt.Errorf("no choices in openai response")
	}
	msg := cc.Choices[0].Message
	var args string
	switch {
	case len(msg.ToolCalls) > 0:
		args = msg.ToolCalls[0].Function.Arguments
	case msg.FunctionCall != nil:
		args = msg.FunctionCall.Arguments
	default:
		return nil, errNoArguments
	}
	return llm.CleanArguments([]byte(args))
}
