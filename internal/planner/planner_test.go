package planner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/screenloom/backend/internal/models"
	"github.com/screenloom/backend/internal/provider"
)

// scriptedClient replays canned responses in order.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*provider.Response
	errs      []error
	calls     []provider.Request
}

func (c *scriptedClient) Complete(_ context.Context, req provider.Request) (*provider.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.calls)
	c.calls = append(c.calls, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return nil, errors.New("scripted client exhausted")
}

func newTestPlanner(t *testing.T, client provider.Client) *Planner {
	t.Helper()
	p, err := NewPlanner(client, "../../schemas", slog.Default())
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	return p
}

const validPlanJSON = `{
	"theme": "slate",
	"screens": [
		{"id": "home", "name": "Home", "purpose": "Overview", "visualDirective": "hero"},
		{"id": "browse", "name": "Browse", "purpose": "Catalog", "visualDirective": "grid"},
		{"id": "item", "name": "Item", "purpose": "Detail", "visualDirective": "media"},
		{"id": "cart", "name": "Cart", "purpose": "Checkout", "visualDirective": "list"}
	]
}`

func TestPlan_FirstAttemptValid(t *testing.T) {
	client := &scriptedClient{responses: []*provider.Response{
		{Content: validPlanJSON, Usage: models.TokenCounts{Total: 120, Prompt: 90, Completion: 30}},
	}}
	p := newTestPlanner(t, client)

	result, err := p.Plan(context.Background(), PlanRequest{Prompt: "A plant shop app"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.Fallback {
		t.Error("unexpected fallback")
	}
	if len(result.Screens) != 4 {
		t.Fatalf("screens: got %d, want 4", len(result.Screens))
	}
	if result.Screens[0].ID != "home" || result.Screens[3].ID != "cart" {
		t.Errorf("screen order lost: %+v", result.Screens)
	}
	if result.ThemeID != "slate" {
		t.Errorf("theme: got %q, want slate", result.ThemeID)
	}
	if result.Tokens.Total != 120 {
		t.Errorf("tokens: got %d, want 120", result.Tokens.Total)
	}
	if len(client.calls) != 1 {
		t.Errorf("calls: got %d, want 1", len(client.calls))
	}
}

// TestPlan_StrictRetry: garbage on the first attempt triggers one strict-JSON
// retry, and usage from both attempts is accumulated for billing.
func TestPlan_StrictRetry(t *testing.T) {
	client := &scriptedClient{responses: []*provider.Response{
		{Content: "Sure! Here is a plan you might like...", Usage: models.TokenCounts{Total: 50}},
		{Content: "```json\n" + validPlanJSON + "\n```", Usage: models.TokenCounts{Total: 100}},
	}}
	p := newTestPlanner(t, client)

	result, err := p.Plan(context.Background(), PlanRequest{Prompt: "A plant shop app"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.Fallback {
		t.Error("unexpected fallback")
	}
	if len(client.calls) != 2 {
		t.Fatalf("calls: got %d, want 2", len(client.calls))
	}
	if !client.calls[1].ForceJSON {
		t.Error("second attempt should force JSON output")
	}
	if result.Tokens.Total != 150 {
		t.Errorf("tokens across attempts: got %d, want 150", result.Tokens.Total)
	}
}

// TestPlan_FallbackSkeleton: when both attempts fail schema validation the
// planner degrades to the fixed skeleton instead of failing the job.
func TestPlan_FallbackSkeleton(t *testing.T) {
	bad := `{"screens": [{"id": "Home Page!!", "name": "x"}]}`
	client := &scriptedClient{responses: []*provider.Response{
		{Content: bad, Usage: models.TokenCounts{Total: 10}},
		{Content: bad, Usage: models.TokenCounts{Total: 10}},
	}}
	p := newTestPlanner(t, client)

	result, err := p.Plan(context.Background(), PlanRequest{Prompt: "anything"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !result.Fallback {
		t.Fatal("expected fallback plan")
	}
	if len(result.Screens) != 4 {
		t.Errorf("fallback screens: got %d, want 4", len(result.Screens))
	}
	if result.Screens[0].ID != "home" {
		t.Errorf("fallback first screen: got %q, want home", result.Screens[0].ID)
	}
	if result.ThemeID != DefaultTheme {
		t.Errorf("fallback theme: got %q, want %q", result.ThemeID, DefaultTheme)
	}
}

func TestPlan_ProviderErrorThenFallback(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("boom"), errors.New("boom")}}
	p := newTestPlanner(t, client)

	result, err := p.Plan(context.Background(), PlanRequest{Prompt: "anything"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !result.Fallback {
		t.Error("expected fallback when every attempt errors")
	}
}

// TestPlan_EditKeepsTheme: editing jobs keep the project's theme even when
// the model proposes a different one.
func TestPlan_EditKeepsTheme(t *testing.T) {
	client := &scriptedClient{responses: []*provider.Response{
		{Content: validPlanJSON}, // proposes slate
	}}
	p := newTestPlanner(t, client)

	result, err := p.Plan(context.Background(), PlanRequest{
		Prompt:              "add a wishlist",
		ExistingScreensHTML: "<div>home</div>",
		ThemeID:             "mint",
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.ThemeID != "mint" {
		t.Errorf("theme: got %q, want mint", result.ThemeID)
	}
}

func TestNormalize(t *testing.T) {
	mk := func(ids ...string) []models.ScreenPlan {
		out := make([]models.ScreenPlan, len(ids))
		for i, id := range ids {
			out[i] = models.ScreenPlan{ID: id, Name: id}
		}
		return out
	}

	t.Run("truncates long plans", func(t *testing.T) {
		got := normalize(mk("a", "b", "c", "d", "e", "f"))
		if len(got) != maxScreens {
			t.Fatalf("got %d screens, want %d", len(got), maxScreens)
		}
	})

	t.Run("pads short plans with unique ids", func(t *testing.T) {
		got := normalize(mk("a", "b"))
		if len(got) != minScreens {
			t.Fatalf("got %d screens, want %d", len(got), minScreens)
		}
		seen := map[string]bool{}
		for _, s := range got {
			if seen[s.ID] {
				t.Fatalf("duplicate screen id %q", s.ID)
			}
			seen[s.ID] = true
		}
	})

	t.Run("leaves in-range plans alone", func(t *testing.T) {
		got := normalize(mk("a", "b", "c", "d", "e"))
		if len(got) != 5 {
			t.Fatalf("got %d screens, want 5", len(got))
		}
	})
}

func TestPickTheme(t *testing.T) {
	if got := pickTheme("", "citrus"); got != "citrus" {
		t.Errorf("valid proposal: got %q", got)
	}
	if got := pickTheme("", "neon"); got != DefaultTheme {
		t.Errorf("unknown proposal: got %q, want default", got)
	}
	if got := pickTheme("orchid", "citrus"); got != "orchid" {
		t.Errorf("existing theme must win: got %q", got)
	}
}
