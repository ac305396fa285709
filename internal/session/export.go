package session

import (
	"encoding/json"
	"time"

	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
)

// exportDoc is the on-disk shape of a saved session. Shell channels are
// process-bound and never exported.
type exportDoc struct {
	Version    int                   `json:"version"`
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Connection string                `json:"connection"`
	CreatedAt  time.Time             `json:"created_at"`
	WorkingDir string                `json:"working_dir,omitempty"`
	Env        map[string]string     `json:"env,omitempty"`
	History    []model.CommandResult `json:"history,omitempty"`
}

const exportVersion = 1

// Export serializes a session's full state (context and history) to JSON so
// it can be restored later, possibly in another process.
func (m *Manager) Export(id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fault.New(fault.NotFound, "no such session").WithSession(id)
	}
	doc := exportDoc{
		Version:    exportVersion,
		ID:         s.id,
		Name:       s.name,
		Connection: s.connection,
		CreatedAt:  s.createdAt,
		WorkingDir: s.workingDir,
		Env:        s.env,
		History:    s.history,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Import restores a previously exported session under its original id. The
// bound connection is not re-established; commands against the restored
// session fail until the connection is registered again. Importing an id
// that already exists is rejected.
func (m *Manager) Import(data []byte) (string, error) {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fault.Wrap(fault.IO, err, "malformed session export")
	}
	if doc.Version != exportVersion || doc.ID == "" {
		return "", fault.New(fault.IO, "unsupported session export (version %d)", doc.Version)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[doc.ID]; exists {
		return "", fault.New(fault.SessionBusy, "session already loaded").WithSession(doc.ID)
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return "", fault.New(fault.ResourceExhausted, "session limit reached (%d)", m.cfg.MaxSessions)
	}
	env := doc.Env
	if env == nil {
		env = make(map[string]string)
	}
	m.sessions[doc.ID] = &session{
		id:           doc.ID,
		name:         doc.Name,
		connection:   doc.Connection,
		createdAt:    doc.CreatedAt,
		lastActivity: time.Now(),
		history:      doc.History,
		workingDir:   doc.WorkingDir,
		env:          env,
	}
	return doc.ID, nil
}
