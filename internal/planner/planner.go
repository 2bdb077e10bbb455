package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/screenloom/backend/internal/models"
	"github.com/screenloom/backend/internal/provider"
)

const (
	// The plan schema accepts 1-6 screens; normalization then pads to at
	// least minScreens and truncates to at most maxScreens.
	minScreens = 4
	maxScreens = 5
)

// AllowedThemes is the fixed theme set new projects pick from.
var AllowedThemes = []string{"aurora", "slate", "citrus", "orchid", "mint"}

// DefaultTheme is used when the model proposes nothing usable.
const DefaultTheme = "aurora"

const planSystemPrompt = `You are a product designer decomposing an app request into screens.
Respond with a single JSON object of the shape
{"theme": "<one of: %s>", "screens": [{"id": "<kebab-case-slug>", "name": "...", "purpose": "...", "visualDirective": "..."}]}
with 4 or 5 screens ordered by importance. No commentary.`

const strictJSONSuffix = "\n\nReturn ONLY the JSON object. No prose, no markdown fences."

// PlanRequest decomposes a prompt into screens. ExistingScreensHTML is set
// for editing jobs, ThemeID carries an editing job's current theme (empty for
// new projects, which pick one).
type PlanRequest struct {
	Prompt              string
	ExistingScreensHTML string
	ThemeID             string
}

type PlanResult struct {
	Screens []models.ScreenPlan
	ThemeID string
	Tokens  models.TokenCounts
	// Fallback is true when both model attempts failed and the hard-coded
	// skeleton was used.
	Fallback bool
}

// Planner turns a prompt into an ordered screen plan plus theme in one
// structured-output call. Planning never hard-fails: schema failures retry
// once in strict-JSON mode and then fall back to a fixed skeleton.
type Planner struct {
	Client provider.Client
	Logger *slog.Logger
	schema *jsonschema.Schema
}

// NewPlanner compiles the screen-plan schema from schemaDir (screen_plan.json).
func NewPlanner(client provider.Client, schemaDir string, logger *slog.Logger) (*Planner, error) {
	path := filepath.Join(schemaDir, "screen_plan.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	schema, err := jsonschema.CompileString("https://screenloom.dev/schemas/screen_plan", string(data))
	if err != nil {
		return nil, fmt.Errorf("compile screen plan schema: %w", err)
	}
	return &Planner{Client: client, Logger: logger, schema: schema}, nil
}

func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	result := &PlanResult{ThemeID: req.ThemeID}
	userPrompt := buildUserPrompt(req)
	system := fmt.Sprintf(planSystemPrompt, strings.Join(AllowedThemes, ", "))

	attempts := []provider.Request{
		{System: system, Prompt: userPrompt},
		{System: system, Prompt: userPrompt + strictJSONSuffix, ForceJSON: true},
	}
	for i, attempt := range attempts {
		resp, err := p.Client.Complete(ctx, attempt)
		if err != nil {
			p.Logger.Warn("plan attempt failed", "attempt", i+1, "error", err)
			continue
		}
		result.Tokens = result.Tokens.Add(resp.Usage)
		screens, theme, err := p.parsePlan(resp.Content)
		if err != nil {
			p.Logger.Warn("plan output rejected", "attempt", i+1, "error", err)
			continue
		}
		result.Screens = normalize(screens)
		result.ThemeID = pickTheme(req.ThemeID, theme)
		return result, nil
	}

	p.Logger.Warn("plan fell back to skeleton", "prompt_len", len(req.Prompt))
	result.Screens = fallbackPlan()
	result.ThemeID = pickTheme(req.ThemeID, "")
	result.Fallback = true
	return result, nil
}

func buildUserPrompt(req PlanRequest) string {
	var b strings.Builder
	b.WriteString("App request:\n")
	b.WriteString(req.Prompt)
	if req.ExistingScreensHTML != "" {
		b.WriteString("\n\nThe project already has these screens; plan an edit that fits them:\n")
		b.WriteString(req.ExistingScreensHTML)
	}
	return b.String()
}

// parsePlan extracts and schema-validates the screens array and theme from
// raw model output.
func (p *Planner) parsePlan(content string) ([]models.ScreenPlan, string, error) {
	raw := strings.TrimSpace(stripFences(content))
	if !gjson.Valid(raw) {
		return nil, "", fmt.Errorf("output is not valid JSON")
	}
	doc := gjson.Parse(raw)
	screensRaw := doc.Get("screens").Raw
	if screensRaw == "" && doc.IsArray() {
		screensRaw = raw
	}
	if screensRaw == "" {
		return nil, "", fmt.Errorf("output has no screens array")
	}

	var v any
	if err := json.Unmarshal([]byte(screensRaw), &v); err != nil {
		return nil, "", fmt.Errorf("parse screens: %w", err)
	}
	if err := p.schema.Validate(v); err != nil {
		return nil, "", fmt.Errorf("screens failed schema: %w", err)
	}
	var screens []models.ScreenPlan
	if err := json.Unmarshal([]byte(screensRaw), &screens); err != nil {
		return nil, "", fmt.Errorf("decode screens: %w", err)
	}
	return screens, doc.Get("theme").String(), nil
}

// normalize truncates to maxScreens and cyclically pads to minScreens,
// suffixing repeated ids so every frame keeps a unique stable slug.
func normalize(screens []models.ScreenPlan) []models.ScreenPlan {
	if len(screens) > maxScreens {
		screens = screens[:maxScreens]
	}
	n := len(screens)
	for i := 0; len(screens) < minScreens; i++ {
		repeat := screens[i%n]
		repeat.ID = fmt.Sprintf("%s-%d", repeat.ID, len(screens)/n+1)
		screens = append(screens, repeat)
	}
	return screens
}

// pickTheme keeps an editing job's theme unchanged and otherwise accepts the
// proposed theme only if it is in the allowed set.
func pickTheme(existing, proposed string) string {
	if existing != "" {
		return existing
	}
	for _, t := range AllowedThemes {
		if proposed == t {
			return t
		}
	}
	return DefaultTheme
}

func fallbackPlan() []models.ScreenPlan {
	return []models.ScreenPlan{
		{ID: "home", Name: "Home", Purpose: "Landing overview with primary navigation", VisualDirective: "hero section, bold headline, feature cards"},
		{ID: "detail", Name: "Detail", Purpose: "Detail view for a single item", VisualDirective: "large media, metadata panel, primary action"},
		{ID: "activity", Name: "Activity", Purpose: "Recent activity feed", VisualDirective: "timeline list, avatars, timestamps"},
		{ID: "profile", Name: "Profile", Purpose: "User profile and settings", VisualDirective: "avatar header, stats row, settings list"},
	}
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
