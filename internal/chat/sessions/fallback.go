package sessions

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/chat/message"
)

//go:embed fallback.yaml
var fallbackData []byte

// Fallback answers registry calls while the agent server is not ready.
type Fallback interface {
	List() []client.SessionInfo
	History(sessionID string) (*client.SessionHistory, error)
}

type fallbackFile struct {
	Sessions []fallbackSession `yaml:"sessions"`
}

type fallbackSession struct {
	ID          string            `yaml:"id"`
	Modified    string            `yaml:"modified"`
	Description string            `yaml:"description"`
	WorkingDir  string            `yaml:"working_dir"`
	Messages    []fallbackMessage `yaml:"messages"`
}

type fallbackMessage struct {
	ID      string       `yaml:"id"`
	Role    message.Role `yaml:"role"`
	Created int64        `yaml:"created"`
	Text    string       `yaml:"text"`
}

// StaticFallback serves a fixed data set.
type StaticFallback struct {
	list      []client.SessionInfo
	histories map[string]*client.SessionHistory
}

// NewStaticFallback parses a YAML data set in the fallback.yaml layout.
func NewStaticFallback(data []byte) (*StaticFallback, error) {
	var f fallbackFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fallback sessions: %w", err)
	}

	fb := &StaticFallback{histories: make(map[string]*client.SessionHistory, len(f.Sessions))}
	for _, s := range f.Sessions {
		if s.ID == "" {
			return nil, fmt.Errorf("parse fallback sessions: session without id")
		}
		meta := client.SessionMetadata{
			WorkingDir:   s.WorkingDir,
			Description:  s.Description,
			MessageCount: len(s.Messages),
		}
		fb.list = append(fb.list, client.SessionInfo{ID: s.ID, Modified: s.Modified, Metadata: meta})

		msgs := make([]client.WireMessage, len(s.Messages))
		for i, m := range s.Messages {
			msgs[i] = client.WireMessage{
				ID:      m.ID,
				Role:    m.Role,
				Created: m.Created,
				Content: []message.Content{message.TextContent(m.Text)},
			}
		}
		fb.histories[s.ID] = &client.SessionHistory{SessionID: s.ID, Metadata: meta, Messages: msgs}
	}
	return fb, nil
}

// List returns a copy of the data set's session list.
func (f *StaticFallback) List() []client.SessionInfo {
	return append([]client.SessionInfo(nil), f.list...)
}

// History returns the stored messages of one session.
func (f *StaticFallback) History(sessionID string) (*client.SessionHistory, error) {
	h, ok := f.histories[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	out := *h
	out.Messages = append([]client.WireMessage(nil), h.Messages...)
	return &out, nil
}

var (
	embeddedOnce sync.Once
	embedded     *StaticFallback
	embeddedErr  error
)

// EmbeddedFallback returns the data set compiled into the binary.
func EmbeddedFallback() (*StaticFallback, error) {
	embeddedOnce.Do(func() {
		embedded, embeddedErr = NewStaticFallback(fallbackData)
	})
	return embedded, embeddedErr
}
