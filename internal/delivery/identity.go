package delivery

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	chatSvc "github.com/lbds137/tzurot/internal/domain/services/chat"
)

// identityEntry is one row of the identities YAML file.
type identityEntry struct {
	Name      string `yaml:"name"`
	AvatarURL string `yaml:"avatar_url"`
}

// FileIdentities resolves delivery identities from a YAML file keyed by
// personality ID. Unknown personalities resolve to a bare name so delivery
// never blocks on missing identity config.
type FileIdentities struct {
	mu      sync.RWMutex
	entries map[string]identityEntry
}

// LoadIdentities reads the identities file. A missing path yields an empty
// resolver rather than an error; every lookup then falls back.
func LoadIdentities(path string) (*FileIdentities, error) {
	f := &FileIdentities{entries: make(map[string]identityEntry)}
	if path == "" {
		return f, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("read identities file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &f.entries); err != nil {
		return nil, fmt.Errorf("parse identities file %s: %w", path, err)
	}
	return f, nil
}

// Identity implements chat.IdentityResolver.
func (f *FileIdentities) Identity(ctx context.Context, personalityID string) (chatSvc.SenderIdentity, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if e, ok := f.entries[personalityID]; ok && e.Name != "" {
		return chatSvc.SenderIdentity{Name: e.Name, AvatarURL: e.AvatarURL}, nil
	}
	return chatSvc.SenderIdentity{Name: personalityID}, nil
}
