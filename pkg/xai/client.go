// Package xai generates contextual explanations for fiscal audit
// findings using the Anthropic API. Responses follow a line protocol
// of "CODE:: explanation" so callers can map text back to findings.
package xai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Finding is one audit inconsistency to explain.
type Finding struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Client defines the explanation operations.
type Client interface {
	// Explain returns explanation text per finding code. Codes absent
	// from the response are simply missing from the map.
	Explain(ctx context.Context, findings []Finding, meta map[string]string) (map[string]string, error)
}

const systemPrompt = `Você é um assistente fiscal brasileiro. Para cada inconsistência listada,
responda em uma única linha no formato CODIGO:: explicação curta e objetiva em português,
citando a base normativa quando aplicável. Não acrescente mais nada à resposta.`

// Option configures the client.
type Option func(*sdkClient)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *sdkClient) {
		c.model = model
	}
}

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int64) Option {
	return func(c *sdkClient) {
		c.maxTokens = n
	}
}

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *sdkClient) {
		c.requestOpts = append(c.requestOpts, option.WithBaseURL(url))
	}
}

type sdkClient struct {
	client      sdk.Client
	model       string
	maxTokens   int64
	requestOpts []option.RequestOption
}

// NewClient creates a new explanation client backed by the SDK.
func NewClient(apiKey string, opts ...Option) Client {
	c := &sdkClient{
		model:       string(sdk.ModelClaudeHaiku4_5),
		maxTokens:   1024,
		requestOpts: []option.RequestOption{option.WithAPIKey(apiKey)},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = sdk.NewClient(c.requestOpts...)
	return c
}

func buildPrompt(findings []Finding, meta map[string]string) string {
	var b strings.Builder
	if len(meta) > 0 {
		b.WriteString("Contexto:")
		for k, v := range meta {
			fmt.Fprintf(&b, " %s=%s", k, v)
		}
		b.WriteString("\n")
	}
	for _, f := range findings {
		detail := ""
		if len(f.Details) > 0 {
			if raw, err := json.Marshal(f.Details); err == nil {
				detail = " | Detalhes: " + string(raw)
			}
		}
		fmt.Fprintf(&b, "Código %s: %s%s\n", f.Code, f.Message, detail)
	}
	return b.String()
}

// ParseExplanations splits response text into per-code explanations
// using the "CODE:: explanation" line protocol.
func ParseExplanations(text string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		code, explanation, ok := strings.Cut(line, "::")
		if !ok {
			continue
		}
		code = strings.TrimSpace(code)
		explanation = strings.TrimSpace(explanation)
		if code != "" && explanation != "" {
			out[code] = explanation
		}
	}
	return out
}

func (c *sdkClient) Explain(ctx context.Context, findings []Finding, meta map[string]string) (map[string]string, error) {
	if len(findings) == 0 {
		return map[string]string{}, nil
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(findings, meta))),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "xai: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
			text.WriteString("\n")
		}
	}
	return ParseExplanations(text.String()), nil
}
