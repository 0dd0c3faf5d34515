package standardize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 2 * time.Second,
	}, zerolog.Nop())
	return c, srv
}

// completion wraps a model payload in the chat-completion envelope.
func completion(t *testing.T, payload string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": payload}},
		},
	})
	if err != nil {
		t.Fatalf("marshal completion: %v", err)
	}
	return body
}

func TestStandardize_ParsesWellFormedResponse(t *testing.T) {
	payload := `[
		{"id":"r1","originalName":"Roma Tomatoes, 2lb","canonicalName":"tomato","category":"produce","confidence":0.93},
		{"id":"r2","originalName":"Paper Towels","canonicalName":"paper towels","category":null,"confidence":0.1}
	]`
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Write(completion(t, payload))
	})

	items := []Item{{ID: "r1", Name: "Roma Tomatoes, 2lb"}, {ID: "r2", Name: "Paper Towels"}}
	got := c.Standardize(context.Background(), items, domain.ContextRecipe, []string{"tomato"})
	if len(got) != 2 {
		t.Fatalf("results = %d; want 2", len(got))
	}
	if got[0].CanonicalName != "tomato" || got[0].Category == nil || *got[0].Category != "produce" {
		t.Fatalf("unexpected first result: %+v", got[0])
	}
	if got[1].Category != nil || got[1].Confidence > 0.2 {
		t.Fatalf("non-food item must carry nil category and low confidence: %+v", got[1])
	}
}

func TestStandardize_AcceptsCompoundSplitIDs(t *testing.T) {
	payload := `[
		{"id":"r1-1","originalName":"salt and pepper","canonicalName":"salt","category":"spices","confidence":0.9},
		{"id":"r1-2","originalName":"salt and pepper","canonicalName":"black pepper","category":"spices","confidence":0.9}
	]`
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completion(t, payload))
	})

	got := c.Standardize(context.Background(), []Item{{ID: "r1", Name: "salt and pepper"}}, domain.ContextRecipe, nil)
	if len(got) != 2 {
		t.Fatalf("results = %d; want 2 split entries", len(got))
	}
	known := map[string]struct{}{"r1": {}}
	for _, r := range got {
		if BaseID(r.ID, known) != "r1" {
			t.Fatalf("split id %q does not fan back to r1", r.ID)
		}
	}
}

func TestStandardize_AcceptsIDsWithDigitTails(t *testing.T) {
	// A row id whose last hyphen-separated segment is all digits must not be
	// mistaken for a compound split of a shorter id.
	const id = "123e4567-e89b-12d3-a456-426614174000"
	payload := `[{"id":"` + id + `","originalName":"basil","canonicalName":"basil","category":"produce","confidence":0.95}]`
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completion(t, payload))
	})

	got := c.Standardize(context.Background(), []Item{{ID: id, Name: "basil"}}, domain.ContextRecipe, nil)
	if len(got) != 1 {
		t.Fatalf("results = %d; want 1", len(got))
	}
	if got[0].Confidence == FallbackConfidence {
		t.Fatalf("well-formed response degraded to fallback: %+v", got[0])
	}
	if got[0].CanonicalName != "basil" || got[0].ID != id {
		t.Fatalf("unexpected result: %+v", got[0])
	}
}

func TestStandardize_StripsMarkdownFences(t *testing.T) {
	payload := "```json\n[{\"id\":\"r1\",\"originalName\":\"basil\",\"canonicalName\":\"basil\",\"category\":\"produce\",\"confidence\":0.95}]\n```"
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completion(t, payload))
	})

	got := c.Standardize(context.Background(), []Item{{ID: "r1", Name: "basil"}}, domain.ContextRecipe, nil)
	if len(got) != 1 || got[0].CanonicalName != "basil" {
		t.Fatalf("unexpected results: %+v", got)
	}
}

func TestStandardize_FallbackDeterminism(t *testing.T) {
	// Unreachable endpoint: every input degrades to lowercased-trimmed name,
	// fixed low confidence, nil category.
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, zerolog.Nop())

	items := []Item{{ID: "r1", Name: "  Fresh BASIL "}, {ID: "r2", Name: "Eggs"}}
	got := c.Standardize(context.Background(), items, domain.ContextPantry, nil)
	if len(got) != 2 {
		t.Fatalf("results = %d; want 2", len(got))
	}
	if got[0].CanonicalName != "fresh basil" {
		t.Fatalf("fallback canonical = %q; want %q", got[0].CanonicalName, "fresh basil")
	}
	if got[0].Confidence != FallbackConfidence || got[0].Category != nil {
		t.Fatalf("fallback must carry fixed low confidence and nil category: %+v", got[0])
	}

	// Determinism: a second failing call yields the identical results.
	again := c.Standardize(context.Background(), items, domain.ContextPantry, nil)
	if again[0] != got[0] || again[1] != got[1] {
		t.Fatalf("fallback results differ across calls: %+v vs %+v", got, again)
	}
}

func TestStandardize_MalformedShapesFallBack(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", "the model replied with prose"},
		{"object not array", `{"id":"r1"}`},
		{"empty array", `[]`},
		{"unknown id", `[{"id":"zzz","originalName":"x","canonicalName":"x","category":null,"confidence":0.5}]`},
		{"confidence out of range", `[{"id":"r1","originalName":"x","canonicalName":"x","category":null,"confidence":1.5}]`},
		{"invented category", `[{"id":"r1","originalName":"x","canonicalName":"x","category":"misc","confidence":0.5}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write(completion(t, tc.payload))
			})
			got := c.Standardize(context.Background(), []Item{{ID: "r1", Name: "Basil"}}, domain.ContextRecipe, nil)
			if len(got) != 1 {
				t.Fatalf("results = %d; want 1 fallback", len(got))
			}
			if got[0].CanonicalName != "basil" || got[0].Confidence != FallbackConfidence {
				t.Fatalf("expected fallback result, got %+v", got[0])
			}
		})
	}
}

func TestStandardize_Non200FallsBack(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	})
	got := c.Standardize(context.Background(), []Item{{ID: "r1", Name: "Basil"}}, domain.ContextRecipe, nil)
	if len(got) != 1 || got[0].Confidence != FallbackConfidence {
		t.Fatalf("expected fallback on 5xx, got %+v", got)
	}
}

func TestStandardizeUnits(t *testing.T) {
	payload := `[{"id":"r1","amount":2,"unit":"lb","confidence":0.9}]`
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completion(t, payload))
	})

	got := c.StandardizeUnits(context.Background(), []Item{{ID: "r1", Name: "2 lbs tomatoes"}})
	if len(got) != 1 {
		t.Fatalf("unit results = %d; want 1", len(got))
	}
	if got[0].Amount != 2 || got[0].Unit != "lb" {
		t.Fatalf("unexpected unit result: %+v", got[0])
	}
}

func TestStandardizeUnits_MalformedYieldsNothing(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completion(t, `[{"id":"r1","amount":2,"unit":"","confidence":0.9}]`))
	})
	if got := c.StandardizeUnits(context.Background(), []Item{{ID: "r1", Name: "x"}}); got != nil {
		t.Fatalf("expected nil for malformed unit response, got %+v", got)
	}
}

func TestBaseID(t *testing.T) {
	known := KnownIDs([]Item{
		{ID: "r1"},
		{ID: "a1b2"},
		{ID: "123e4567-e89b-12d3-a456-426614174000"},
	})
	cases := []struct{ in, want string }{
		{"r1", "r1"},
		{"r1-1", "r1"},
		{"r1-12", "r1"},
		{"abc-def", "abc-def"},
		{"a1b2-3", "a1b2"},
		// A known id ending in digits is itself, never a split of a prefix.
		{"123e4567-e89b-12d3-a456-426614174000", "123e4567-e89b-12d3-a456-426614174000"},
		// A digit suffix whose base is unknown stays untouched.
		{"zzz-7", "zzz-7"},
	}
	for _, tc := range cases {
		if got := BaseID(tc.in, known); got != tc.want {
			t.Errorf("BaseID(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestSampleCache_Valid(t *testing.T) {
	now := time.Now()
	cache := SampleCache{Names: []string{"tomato"}, ExpiresAt: now.Add(time.Minute)}
	if !cache.Valid(now) {
		t.Fatalf("expected cache valid before expiry")
	}
	if cache.Valid(now.Add(2 * time.Minute)) {
		t.Fatalf("expected cache invalid after expiry")
	}
	if (SampleCache{ExpiresAt: now.Add(time.Minute)}).Valid(now) {
		t.Fatalf("expected empty cache invalid")
	}
}
