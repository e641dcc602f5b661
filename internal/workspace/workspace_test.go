package workspace_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/testutil"
	"github.com/phosphorco/agenthub/internal/workspace"
)

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	_, err := workspace.Init(root)
	require.NoError(t, err)

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := workspace.Find(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)

	found, err = workspace.Find(root)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestFindNotFound(t *testing.T) {
	_, err := workspace.Find(t.TempDir())
	assert.ErrorIs(t, err, workspace.ErrNotFound)
}

func TestDescriptorRoundTrip(t *testing.T) {
	root := t.TempDir()
	_, err := workspace.Init(root)
	require.NoError(t, err)

	d := &workspace.Descriptor{
		InstanceID:      "inst-1",
		DBID:            "db-1",
		Host:            "127.0.0.1",
		Port:            7411,
		AuthToken:       "secret",
		PID:             os.Getpid(),
		StartedAt:       time.Now().UTC().Truncate(time.Second),
		ProtocolVersion: domain.ProtocolVersion,
		SchemaVersion:   1,
	}
	require.NoError(t, workspace.WriteDescriptor(root, d))

	got, err := workspace.ReadDescriptor(root)
	require.NoError(t, err)
	assert.Equal(t, d.InstanceID, got.InstanceID)
	assert.Equal(t, d.AuthToken, got.AuthToken)
	assert.Equal(t, d.Port, got.Port)
}

func TestDescriptorPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	root := t.TempDir()
	_, err := workspace.Init(root)
	require.NoError(t, err)

	d := &workspace.Descriptor{
		InstanceID:      "inst-1",
		DBID:            "db-1",
		Host:            "127.0.0.1",
		Port:            7411,
		AuthToken:       "secret",
		PID:             os.Getpid(),
		StartedAt:       time.Now().UTC(),
		ProtocolVersion: domain.ProtocolVersion,
	}
	require.NoError(t, workspace.WriteDescriptor(root, d))

	info, err := os.Stat(workspace.DescriptorPath(root))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestDescriptorValidate(t *testing.T) {
	base := workspace.Descriptor{
		InstanceID:      "inst-1",
		DBID:            "db-1",
		Host:            "127.0.0.1",
		Port:            7411,
		AuthToken:       "secret",
		ProtocolVersion: domain.ProtocolVersion,
		SchemaVersion:   1,
	}

	ok := base
	assert.NoError(t, ok.Validate())

	noToken := base
	noToken.AuthToken = ""
	assert.Error(t, noToken.Validate())

	badPort := base
	badPort.Port = 0
	assert.Error(t, badPort.Validate())

	wrongProtocol := base
	wrongProtocol.ProtocolVersion = 99
	assert.Error(t, wrongProtocol.Validate())

	oldSchema := base
	oldSchema.SchemaVersion = -1
	assert.Error(t, oldSchema.Validate())
}

func TestCheckHealthAgainstLiveHub(t *testing.T) {
	th := testutil.StartHub(t)

	d, err := workspace.ReadDescriptor(th.Root)
	require.NoError(t, err)
	require.NoError(t, workspace.CheckHealth(context.Background(), d))

	// A descriptor pointing at the wrong instance is rejected.
	stale := *d
	stale.InstanceID = "someone-else"
	assert.Error(t, workspace.CheckHealth(context.Background(), &stale))

	// A dead address is rejected.
	dead := *d
	dead.Port = 1
	assert.Error(t, workspace.CheckHealth(context.Background(), &dead))
}

func TestEnsureHubUsesRunningHub(t *testing.T) {
	th := testutil.StartHub(t)

	// With a live hub, EnsureHub returns its descriptor without
	// spawning anything (the bogus binary would fail loudly).
	d, err := workspace.EnsureHub(context.Background(), th.Root, workspace.SpawnOptions{
		Binary:      "/nonexistent/agenthub",
		MaxAttempts: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, th.Hub.Descriptor.InstanceID, d.InstanceID)
}
