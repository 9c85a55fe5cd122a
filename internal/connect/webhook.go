package connect

import (
	"context"

	"github.com/weftlabs/weft/pkg/schema"
)

// WebhookConnector posts the payload as JSON to a configured URL. It is
// a fixed-method wrapper over the HTTP connector for outbound event
// notification steps.
type WebhookConnector struct {
	inner *HTTPConnector
}

// NewWebhookConnector creates a webhook connector with the given HTTP config.
func NewWebhookConnector(cfg HTTPConfig) *WebhookConnector {
	return &WebhookConnector{inner: NewHTTPConnector(cfg)}
}

func (c *WebhookConnector) Invoke(ctx context.Context, config map[string]any, payload map[string]any) (any, error) {
	if stringParam(config, "url", "") == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "webhook: url is required")
	}

	forwarded := make(map[string]any, len(config)+1)
	for k, v := range config {
		forwarded[k] = v
	}
	forwarded["method"] = "POST"
	return c.inner.Invoke(ctx, forwarded, payload)
}
