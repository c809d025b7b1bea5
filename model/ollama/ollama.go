// Package ollama provides a model.Model implementation backed by a local
// Ollama server (chat, streaming and tool calling). It also implements the
// preflight check verifying server reachability and model presence.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/reagent-ai/reagent/model"
)

// DefaultHost is the standard local Ollama endpoint.
const DefaultHost = "http://127.0.0.1:11434"

// Options configure the Ollama model adapter.
type Options struct {
	// Host is the Ollama server base URL.
	Host string
	// Model is the model identifier, e.g. "qwen3:8b".
	Model string
	// HTTPClient overrides the transport; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Model wraps the Ollama chat API behind the generic model.Model interface.
type Model struct {
	client *api.Client
	opts   Options
}

// NewModel creates an Ollama model adapter. An unparseable host falls back
// to the default local endpoint.
func NewModel(name string, optFns ...func(o *Options)) *Model {
	opts := Options{
		Host:  DefaultHost,
		Model: name,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	base, err := url.Parse(opts.Host)
	if err != nil {
		base, _ = url.Parse(DefaultHost)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Model{client: api.NewClient(base, httpClient), opts: opts}
}

// Generate implements unified streaming / non-streaming generation against
// the Ollama chat endpoint.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		chatReq, err := m.buildRequest(req)
		if err != nil {
			errCh <- err
			return
		}

		var (
			content   strings.Builder
			toolCalls []model.ToolCall
			usage     *model.TokenUsage
			finish    string
		)

		err = m.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				content.WriteString(resp.Message.Content)
				if req.Stream && !resp.Done {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case out <- model.Response{Partial: true, Content: resp.Message.Content}:
					}
				}
			}

			for i, tc := range resp.Message.ToolCalls {
				args, merr := json.Marshal(tc.Function.Arguments)
				if merr != nil {
					return fmt.Errorf("marshal tool call arguments: %w", merr)
				}

				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", len(toolCalls)+i)
				}

				toolCalls = append(toolCalls, model.ToolCall{
					ID:        id,
					Name:      tc.Function.Name,
					Arguments: args,
				})
			}

			if resp.Done {
				finish = resp.DoneReason
				if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
					usage = &model.TokenUsage{
						PromptTokens:     resp.PromptEvalCount,
						CompletionTokens: resp.EvalCount,
						TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
					}
				}
			}

			return nil
		})
		if err != nil {
			errCh <- fmt.Errorf("ollama chat error: %w", err)
			return
		}

		if finish == "" {
			finish = "stop"
		}
		if len(toolCalls) > 0 {
			finish = "tool_calls"
		}

		final := model.Response{
			Content:      content.String(),
			ToolCalls:    toolCalls,
			FinishReason: finish,
			Usage:        usage,
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- final:
		}
	}()

	return out, errCh
}

// Verify implements model.HealthChecker: the server must answer a heartbeat
// and have the configured model pulled.
func (m *Model) Verify(ctx context.Context) error {
	if err := m.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama server at %s not reachable: %w", m.opts.Host, err)
	}

	list, err := m.client.List(ctx)
	if err != nil {
		return fmt.Errorf("listing ollama models: %w", err)
	}

	for _, entry := range list.Models {
		if entry.Name == m.opts.Model || entry.Model == m.opts.Model ||
			strings.TrimSuffix(entry.Name, ":latest") == m.opts.Model {
			return nil
		}
	}

	return fmt.Errorf("model %q not found on ollama server (run: ollama pull %s)", m.opts.Model, m.opts.Model)
}

// Info returns metadata describing this Ollama model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "ollama",
		SupportsTools: true,
	}
}

func (m *Model) buildRequest(req model.Request) (*api.ChatRequest, error) {
	messages, err := buildMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	stream := req.Stream
	chatReq := &api.ChatRequest{
		Model:    m.opts.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  buildOptions(req.Options),
	}

	if len(req.Tools) > 0 {
		tools, terr := buildTools(req.Tools)
		if terr != nil {
			return nil, terr
		}
		chatReq.Tools = tools
	}

	return chatReq, nil
}

func buildMessages(messages []model.Message) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		out := api.Message{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}

		for _, tc := range msg.ToolCalls {
			var args api.ToolCallFunctionArguments
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					return nil, fmt.Errorf("tool call %s: %w", tc.Name, err)
				}
			}

			out.ToolCalls = append(out.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}

		result = append(result, out)
	}

	return result, nil
}

// buildTools converts the schema maps by JSON round trip, which keeps the
// adapter independent of the api package's evolving property types.
func buildTools(defs []model.ToolDefinition) (api.Tools, error) {
	tools := make(api.Tools, len(defs))
	for i, def := range defs {
		raw, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: marshal parameters: %w", def.Name, err)
		}

		var params api.ToolFunctionParameters
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("tool %s: unmarshal parameters: %w", def.Name, err)
		}

		tools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		}
	}

	return tools, nil
}

func buildOptions(opts model.GenerationOptions) map[string]any {
	options := map[string]any{}
	if opts.Temperature != 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(opts.Stop) > 0 {
		options["stop"] = opts.Stop
	}

	return options
}
