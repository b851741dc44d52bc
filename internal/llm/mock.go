package llm

import "context"

// MockCall records one Generate invocation.
type MockCall struct {
	SystemPrompt string
	UserPrompt   string
}

// MockClient returns canned responses and records calls. Used in tests.
type MockClient struct {
	Response string
	Err      error
	Calls    []MockCall
}

// NewMock creates a mock client returning response.
func NewMock(response string) *MockClient {
	return &MockClient{Response: response}
}

// Generate records the call and returns the configured response.
func (m *MockClient) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	m.Calls = append(m.Calls, MockCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt})
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}
