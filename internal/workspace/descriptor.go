// Package workspace implements hub discovery and the race-safe daemon
// spawn protocol. A workspace is a directory owning one hub: it contains
// a dotted marker directory with the store file and the connection
// descriptor server.json.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/phosphorco/agenthub/internal/domain"
)

// MarkerDirName is the dotted directory that marks a workspace root.
const MarkerDirName = ".agenthub"

// DescriptorFileName is the connection descriptor inside the marker dir.
const DescriptorFileName = "server.json"

// ExitCodeLockConflict is the daemon exit code for "another daemon
// already owns the store". A spawner seeing it lost the startup race and
// should re-enter discovery.
const ExitCodeLockConflict = 10

// Descriptor is the server.json payload. It carries the bearer token, so
// the file is written with 0600 permissions.
type Descriptor struct {
	InstanceID      string    `json:"instance_id"`
	DBID            string    `json:"db_id"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	AuthToken       string    `json:"auth_token"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	ProtocolVersion int       `json:"protocol_version"`
	SchemaVersion   int       `json:"schema_version,omitempty"`
}

// URL returns the hub's HTTP base URL.
func (d *Descriptor) URL() string {
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}

// WSURL returns the hub's WebSocket endpoint URL.
func (d *Descriptor) WSURL() string {
	return fmt.Sprintf("ws://%s:%d/api/v1/ws", d.Host, d.Port)
}

// Validate rejects descriptors this client cannot use: a protocol
// version mismatch, a pre-1 schema, or obviously broken fields.
func (d *Descriptor) Validate() error {
	if d.InstanceID == "" || d.AuthToken == "" {
		return fmt.Errorf("workspace: descriptor missing instance_id or auth_token")
	}
	if d.Host == "" || d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("workspace: descriptor has invalid address %s:%d", d.Host, d.Port)
	}
	if d.ProtocolVersion != domain.ProtocolVersion {
		return fmt.Errorf("workspace: protocol version %d not supported (want %d)", d.ProtocolVersion, domain.ProtocolVersion)
	}
	if d.SchemaVersion != 0 && d.SchemaVersion < 1 {
		return fmt.Errorf("workspace: schema version %d is below 1", d.SchemaVersion)
	}
	return nil
}

// DescriptorPath returns the server.json path for a workspace root.
func DescriptorPath(root string) string {
	return filepath.Join(root, MarkerDirName, DescriptorFileName)
}

// ReadDescriptor loads and validates server.json from a workspace root.
func ReadDescriptor(root string) (*Descriptor, error) {
	raw, err := os.ReadFile(DescriptorPath(root))
	if err != nil {
		return nil, fmt.Errorf("workspace: read descriptor: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("workspace: parse descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// WriteDescriptor atomically writes server.json with 0600 permissions.
func WriteDescriptor(root string, d *Descriptor) error {
	path := DescriptorPath(root)
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: encode descriptor: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("workspace: write descriptor: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workspace: install descriptor: %w", err)
	}
	return nil
}

// RemoveDescriptor deletes server.json; missing files are fine.
func RemoveDescriptor(root string) {
	os.Remove(DescriptorPath(root))
}
