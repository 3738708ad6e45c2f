// Package profile holds the global, cross-session persona: the user's
// display name, the AI behaviour text and the memory list.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

const (
	keyUserName   = "niallgpt_user_name"
	keyAIBehavior = "niallgpt_ai_behavior"
	keyMemory     = "niallgpt_memory"
)

// ErrMemoryIndex is returned for an out-of-range memory index.
var ErrMemoryIndex = errors.New("memory index out of range")

// Settings are the global persona defaults.
type Settings struct {
	UserName   string `json:"user_name"`
	AIBehavior string `json:"ai_behavior"`
}

type Profile struct {
	kv domain.KVStore

	mu       sync.RWMutex
	settings Settings
	memory   []string
}

func New(kv domain.KVStore, defaults Settings) *Profile {
	return &Profile{
		kv:       kv,
		settings: defaults,
	}
}

// Load reads persisted values; missing keys keep the defaults.
func (p *Profile) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, err := p.kv.Get(ctx, keyUserName); err == nil {
		p.settings.UserName = string(v)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("profile: load user name: %w", err)
	}

	if v, err := p.kv.Get(ctx, keyAIBehavior); err == nil {
		p.settings.AIBehavior = string(v)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("profile: load ai behavior: %w", err)
	}

	v, err := p.kv.Get(ctx, keyMemory)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p.memory = nil
	case err != nil:
		return fmt.Errorf("profile: load memory: %w", err)
	default:
		var items []string
		if err := json.Unmarshal(v, &items); err != nil {
			// a corrupt list is dropped rather than blocking startup
			observability.Logger().Warn("discarding unreadable memory list", "error", err)
			items = nil
		}
		p.memory = items
	}
	return nil
}

func (p *Profile) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

func (p *Profile) UpdateSettings(ctx context.Context, s Settings) error {
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()

	if err := p.kv.Put(ctx, keyUserName, []byte(s.UserName)); err != nil {
		return fmt.Errorf("profile: save user name: %w", err)
	}
	if err := p.kv.Put(ctx, keyAIBehavior, []byte(s.AIBehavior)); err != nil {
		return fmt.Errorf("profile: save ai behavior: %w", err)
	}
	return nil
}

// Memory returns a copy of the memory list in insertion order.
func (p *Profile) Memory() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.memory...)
}

// AddMemory appends text unless an identical item already exists.
// It reports whether the list changed.
func (p *Profile) AddMemory(ctx context.Context, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	p.mu.Lock()
	for _, m := range p.memory {
		if m == text {
			p.mu.Unlock()
			return false, nil
		}
	}
	p.memory = append(p.memory, text)
	snapshot := append([]string(nil), p.memory...)
	p.mu.Unlock()

	return true, p.saveMemory(ctx, snapshot)
}

func (p *Profile) EditMemory(ctx context.Context, index int, text string) error {
	text = strings.TrimSpace(text)

	p.mu.Lock()
	if index < 0 || index >= len(p.memory) {
		p.mu.Unlock()
		return ErrMemoryIndex
	}
	if text == "" {
		p.memory = append(p.memory[:index:index], p.memory[index+1:]...)
	} else {
		p.memory[index] = text
	}
	snapshot := append([]string(nil), p.memory...)
	p.mu.Unlock()

	return p.saveMemory(ctx, snapshot)
}

func (p *Profile) DeleteMemory(ctx context.Context, index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.memory) {
		p.mu.Unlock()
		return ErrMemoryIndex
	}
	p.memory = append(p.memory[:index:index], p.memory[index+1:]...)
	snapshot := append([]string(nil), p.memory...)
	p.mu.Unlock()

	return p.saveMemory(ctx, snapshot)
}

func (p *Profile) saveMemory(ctx context.Context, items []string) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("profile: encode memory: %w", err)
	}
	if err := p.kv.Put(ctx, keyMemory, data); err != nil {
		return fmt.Errorf("profile: save memory: %w", err)
	}
	return nil
}
