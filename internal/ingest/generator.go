package ingest

import (
	"context"
	"fmt"
	"strings"
)

// DraftRequest is the input handed to a content generator.
type DraftRequest struct {
	TenantID   string
	TenantName string
	Sender     string
	Subject    string
	Body       string
}

// Generator produces a reply draft for a lead. Implementations are
// typically remote and costly, which is why the cap is checked first.
type Generator interface {
	Generate(ctx context.Context, req DraftRequest) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req DraftRequest) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req DraftRequest) (string, error) {
	return f(ctx, req)
}

// TemplateGenerator writes a fixed acknowledgement. It stands in for a
// remote generator in local and test deployments.
type TemplateGenerator struct{}

// Generate returns a short acknowledgement addressed to the sender.
func (TemplateGenerator) Generate(ctx context.Context, req DraftRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	greeting := "Hi"
	if name := senderName(req.Sender); name != "" {
		greeting = "Hi " + name
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "your message"
	}
	return fmt.Sprintf("%s,\n\nThanks for reaching out about %q. We'll get back to you shortly.\n\nBest,\n%s\n",
		greeting, subject, req.TenantName), nil
}

func senderName(sender string) string {
	sender = strings.TrimSpace(sender)
	if i := strings.Index(sender, "<"); i > 0 {
		return strings.TrimSpace(sender[:i])
	}
	return ""
}
