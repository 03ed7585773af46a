package narrative

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

const stateVersion = 1

// Marshal serialises the whole memory to JSON
func (m *Memory) Marshal() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Version = stateVersion
	data, err := json.Marshal(m.st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal narrative memory: %w", err)
	}
	return data, nil
}

// Restore replaces the memory with a serialised copy. Missing collections
// become empty. On a parse error the current memory is kept untouched.
func (m *Memory) Restore(data []byte) error {
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to parse narrative memory: %w", err)
	}
	if st.Version > stateVersion {
		return fmt.Errorf("narrative memory version %d is newer than supported %d", st.Version, stateVersion)
	}
	st.normalize()
	fields := logrus.Fields{
		"threads":  len(st.Threads),
		"resolved": len(st.Resolved),
		"secrets":  len(st.Secrets),
		"npcs":     len(st.NPCs),
		"profiles": len(st.Profiles),
	}

	m.mu.Lock()
	m.st = &st
	m.mu.Unlock()

	m.log.WithFields(fields).Info("narrative memory restored")
	return nil
}
