package model

import (
	"context"
	"fmt"
	"sync"
)

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Canned completions are matched against the last message's content; scripted
// responses (tool calls included) take precedence and are consumed in order.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	script    []Response
	errs      []error
	calls     int
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input
// prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response
}

// Enqueue schedules responses consumed in order by subsequent Generate
// calls, ahead of any prompt-matched completions.
func (m *MockModel) Enqueue(responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.script = append(m.script, responses...)
}

// EnqueueError schedules an error for a subsequent Generate call. Errors are
// consumed before scripted responses.
func (m *MockModel) EnqueueError(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errs = append(m.errs, errs...)
}

// CallCount returns the number of Generate calls observed.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// Requests returns the requests observed so far, oldest first.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	reqs := make([]Request, len(m.requests))
	copy(reqs, m.requests)

	return reqs
}

// Generate implements Model; emits optional streaming char chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)

	var queuedErr error
	if len(m.errs) > 0 {
		queuedErr = m.errs[0]
		m.errs = m.errs[1:]
	}

	var scripted *Response
	if queuedErr == nil && len(m.script) > 0 {
		r := m.script[0]
		m.script = m.script[1:]
		scripted = &r
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if queuedErr != nil {
			errCh <- queuedErr
			return
		}

		final := Response{FinishReason: "stop"}
		if scripted != nil {
			final = *scripted
			if final.FinishReason == "" {
				final.FinishReason = "stop"
			}
			if len(final.ToolCalls) > 0 {
				final.FinishReason = "tool_calls"
			}
		} else {
			if len(req.Messages) == 0 {
				errCh <- fmt.Errorf("no messages provided")
				return
			}

			input := req.Messages[len(req.Messages)-1].Content
			m.mu.Lock()
			full := m.responses[input]
			m.mu.Unlock()
			if full == "" {
				full = fmt.Sprintf("Mock response to: %s", input)
			}
			final.Content = full
		}

		if req.Stream {
			for _, r := range final.Content {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: string(r)}:
				}
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- final:
		}
	}()

	return respCh, errCh
}

// Info implements the Model interface.
func (m *MockModel) Info() Info { return m.info }
