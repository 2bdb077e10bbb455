package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/screenloom/backend/internal/models"
	"github.com/screenloom/backend/internal/provider"
)

// Sanitizer cleans generated markup before it is stored or published.
// External collaborator; the default passes markup through unchanged.
type Sanitizer interface {
	Sanitize(html string) string
}

type PassthroughSanitizer struct{}

func (PassthroughSanitizer) Sanitize(html string) string { return html }

// ScreenRequest is one screen generation. PriorScreensHTML is the
// concatenated finished HTML of every previously generated screen in the same
// job; FallbackTitle/FallbackSubtitle fill the placeholder when every rung
// fails.
type ScreenRequest struct {
	Screen           models.ScreenPlan
	PriorScreensHTML string
	ThemeID          string
	FallbackTitle    string
	FallbackSubtitle string
}

// ScreenResult carries the shaped markup and the token usage of every call
// made for this screen, whichever rung produced the accepted output.
type ScreenResult struct {
	HTML     string
	Tokens   models.TokenCounts
	Fallback bool
}

const screenSystemPrompt = `You generate one self-contained HTML screen for a web app prototype.
Use theme CSS variables (var(--sl-*)) for colors, semantic structure, and realistic copy.
Respond with the HTML of the screen only.`

const htmlOnlySuffix = "\n\nRespond with HTML ONLY. No explanation, no markdown, start with an opening tag."

// Generator produces markup for exactly one screen through a bounded
// validation ladder: a tools-enabled call, one HTML-only retry without tools,
// then a synthesized placeholder. Content problems never escape as errors;
// transport problems do.
type Generator struct {
	Client    provider.Client
	Sanitizer Sanitizer
	Logger    *slog.Logger
}

func NewGenerator(client provider.Client, sanitizer Sanitizer, logger *slog.Logger) *Generator {
	return &Generator{Client: client, Sanitizer: sanitizer, Logger: logger}
}

func (g *Generator) GenerateScreen(ctx context.Context, req ScreenRequest) (*ScreenResult, error) {
	userPrompt := buildScreenPrompt(req)
	result := &ScreenResult{}

	attempts := []provider.Request{
		{System: screenSystemPrompt, Prompt: userPrompt, AllowTools: true},
		{System: screenSystemPrompt, Prompt: userPrompt + htmlOnlySuffix},
	}
	for i, attempt := range attempts {
		resp, err := g.Client.Complete(ctx, attempt)
		if err != nil {
			return nil, fmt.Errorf("generate screen %q: %w", req.Screen.ID, err)
		}
		result.Tokens = result.Tokens.Add(resp.Usage)
		html := StripFences(resp.Content)
		if !IsMarkup(html) || !LooksLikeUI(html) {
			g.Logger.Warn("screen output rejected", "screen_id", req.Screen.ID, "attempt", i+1)
			continue
		}
		result.HTML = g.Sanitizer.Sanitize(FirstRootElement(html))
		return result, nil
	}

	g.Logger.Warn("screen fell back to placeholder", "screen_id", req.Screen.ID)
	result.HTML = g.Sanitizer.Sanitize(FallbackHTML(req.FallbackTitle, req.FallbackSubtitle))
	result.Fallback = true
	return result, nil
}

func buildScreenPrompt(req ScreenRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Screen: %s\nPurpose: %s\n", req.Screen.Name, req.Screen.Purpose)
	if req.Screen.VisualDirective != "" {
		fmt.Fprintf(&b, "Visual direction: %s\n", req.Screen.VisualDirective)
	}
	fmt.Fprintf(&b, "Theme: %s\n", req.ThemeID)
	if req.PriorScreensHTML != "" {
		b.WriteString("\nScreens already generated for this app, match their structure and style:\n")
		b.WriteString(req.PriorScreensHTML)
	}
	return b.String()
}
