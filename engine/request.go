package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mykhaliev/answer-checker/model"
	"github.com/mykhaliev/answer-checker/templates"
)

// ============================================================================
// REQUEST BUILDER
// ============================================================================

// RequestBuilder turns a test case plus agent configuration into the HTTP
// request sent to the agent. All validation and template rendering happens
// here, before any network I/O, so a bad test fails as a configuration
// error.
type RequestBuilder struct {
	cfg    *model.AgentConfig
	engine *templates.TemplateEngine
}

func NewRequestBuilder(cfg *model.AgentConfig) *RequestBuilder {
	return &RequestBuilder{
		cfg:    cfg,
		engine: templates.NewTemplateEngine(),
	}
}

// Build validates the test case and renders its user input. Unresolved
// {{variable}} references are configuration errors.
func (b *RequestBuilder) Build(tc *model.TestCase) (*model.HttpRequest, error) {
	if errs := tc.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid test case: %s", strings.Join(errs, "; "))
	}

	endpoint := strings.TrimRight(b.cfg.BaseURL, "/") + b.cfg.EndpointPath

	if tc.IsHealthcheck() {
		return &model.HttpRequest{
			Method:  model.MethodGet,
			URL:     strings.TrimRight(b.cfg.BaseURL, "/") + "/health",
			Headers: b.headers(),
		}, nil
	}

	if missing := b.engine.Unresolved(tc.UserInput, tc.Variables); len(missing) > 0 {
		return nil, fmt.Errorf("unresolved template variables in user_input: %s", strings.Join(missing, ", "))
	}
	userInput, err := b.engine.Render(tc.UserInput, tc.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to render user_input: %w", err)
	}

	agentReq := model.AgentRequest{
		UserInput: userInput,
		Variables: tc.Variables,
		SessionID: uuid.New().String(),
	}

	return &model.HttpRequest{
		Method:   model.MethodPost,
		URL:      endpoint,
		Headers:  b.headers(),
		JSONData: agentReq.ToJSONPayload(),
	}, nil
}

func (b *RequestBuilder) headers() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	for k, v := range b.cfg.Headers {
		headers[k] = v
	}
	// Auth and cookie values are attached verbatim, never parsed.
	if b.cfg.AuthHeader != "" {
		headers["Authorization"] = b.cfg.AuthHeader
	}
	if b.cfg.CookieHeader != "" {
		headers["Cookie"] = b.cfg.CookieHeader
	}
	return headers
}
