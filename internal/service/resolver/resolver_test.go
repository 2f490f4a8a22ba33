package resolver

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/lbds137/tzurot/internal/domain"
	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
)

type fakeConfigStore struct {
	rows    map[string]chatSvc.ProviderParams
	lookups int
}

func storeKey(scope, scopeID, personalityID string) string {
	return scope + "/" + scopeID + "/" + personalityID
}

func (f *fakeConfigStore) Lookup(_ context.Context, scope, scopeID, personalityID string) (chatSvc.ProviderParams, error) {
	f.lookups++
	params, ok := f.rows[storeKey(scope, scopeID, personalityID)]
	if !ok {
		return chatSvc.ProviderParams{}, domain.ErrNotFound
	}
	return params, nil
}

func anthropicParams(model string) chatSvc.ProviderParams {
	return chatSvc.ProviderParams{Anthropic: &chatSvc.AnthropicParams{Model: model}}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		rows       map[string]chatSvc.ProviderParams
		wantSource string
		wantModel  string
	}{
		{
			name: "context override wins over everything",
			rows: map[string]chatSvc.ProviderParams{
				storeKey("context", "u1", "p1"): anthropicParams("override-model"),
				storeKey("user", "u1", ""):      anthropicParams("user-model"),
				storeKey("system", "", ""):      anthropicParams("system-model"),
			},
			wantSource: chatSvc.SourceContextOverride,
			wantModel:  "override-model",
		},
		{
			name: "user default beats system default",
			rows: map[string]chatSvc.ProviderParams{
				storeKey("user", "u1", ""): anthropicParams("user-model"),
				storeKey("system", "", ""): anthropicParams("system-model"),
			},
			wantSource: chatSvc.SourceUserDefault,
			wantModel:  "user-model",
		},
		{
			name: "system default is the last resort",
			rows: map[string]chatSvc.ProviderParams{
				storeKey("system", "", ""): anthropicParams("system-model"),
			},
			wantSource: chatSvc.SourceSystemDefault,
			wantModel:  "system-model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&fakeConfigStore{rows: tt.rows}, discard())

			resolved, err := svc.Resolve(context.Background(), "u1", "p1")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if resolved.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", resolved.Source, tt.wantSource)
			}
			if got := resolved.Params.ModelID(); got != tt.wantModel {
				t.Errorf("model = %q, want %q", got, tt.wantModel)
			}
		})
	}
}

func TestResolveNoConfigAnywhere(t *testing.T) {
	svc := NewService(&fakeConfigStore{rows: map[string]chatSvc.ProviderParams{}}, discard())

	_, err := svc.Resolve(context.Background(), "u1", "p1")
	if err == nil {
		t.Fatal("expected error when no scope has config")
	}
}

func TestResolveCachesUntilInvalidated(t *testing.T) {
	store := &fakeConfigStore{rows: map[string]chatSvc.ProviderParams{
		storeKey("system", "", ""): anthropicParams("system-model"),
	}}
	svc := NewService(store, discard())

	for i := 0; i < 3; i++ {
		if _, err := svc.Resolve(context.Background(), "u1", "p1"); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	// First resolve misses context and user scopes, then hits system.
	if store.lookups != 3 {
		t.Errorf("lookups = %d, want 3 (cached after first resolve)", store.lookups)
	}

	svc.Invalidate("u1", "p1")
	if _, err := svc.Resolve(context.Background(), "u1", "p1"); err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if store.lookups != 6 {
		t.Errorf("lookups = %d, want 6 (refetched after invalidate)", store.lookups)
	}
}

func TestResolveRejectsMalformedUnion(t *testing.T) {
	store := &fakeConfigStore{rows: map[string]chatSvc.ProviderParams{
		// Both branches set: not a valid tagged union.
		storeKey("system", "", ""): {
			Anthropic: &chatSvc.AnthropicParams{Model: "a"},
			OpenAI:    &chatSvc.OpenAIParams{Model: "b"},
		},
	}}
	svc := NewService(store, discard())

	if _, err := svc.Resolve(context.Background(), "u1", "p1"); err == nil {
		t.Fatal("expected validation error for double-tagged params")
	}
}
