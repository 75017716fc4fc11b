package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPolicy(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestPolicyTableLoadsAndAuthorizes(t *testing.T) {
	path := writeTestPolicy(t, `
methods:
  Session.CreateSession: AllowAnonymous
  Directory.RegisterActionServer: ServerOnly
  Directory.GetAllActionServers: ClientAccessible
  Presence.RegisterCoordinator: RequireRole:Admin
`)
	pt, err := NewPolicyTable(path, nil)
	require.NoError(t, err)

	assert.True(t, pt.Authorize(Key("Session", "CreateSession"), RoleGuest))
	assert.False(t, pt.Authorize(Key("Directory", "RegisterActionServer"), RoleUser))
	assert.True(t, pt.Authorize(Key("Directory", "RegisterActionServer"), RoleServer))
	assert.True(t, pt.Authorize(Key("Directory", "GetAllActionServers"), RoleUser))
	assert.False(t, pt.Authorize(Key("Presence", "RegisterCoordinator"), RoleServer))
	assert.True(t, pt.Authorize(Key("Presence", "RegisterCoordinator"), RoleAdmin))
}

func TestPolicyTableFailsClosedOnUnknownMethod(t *testing.T) {
	path := writeTestPolicy(t, "methods:\n  Session.CreateSession: AllowAnonymous\n")
	pt, err := NewPolicyTable(path, nil)
	require.NoError(t, err)

	assert.False(t, pt.Authorize(Key("ActionServer", "SomethingNew"), RoleAdmin-1))
	assert.Equal(t, GateServerOnly, pt.Lookup(Key("ActionServer", "SomethingNew")).Gate)
}

func TestParsePolicyStringRejectsGarbage(t *testing.T) {
	_, err := parsePolicyString("NotARealGate")
	assert.Error(t, err)

	_, err = parsePolicyString("RequireRole:NotARole")
	assert.Error(t, err)

	p, err := parsePolicyString("RequireRole:Admin")
	require.NoError(t, err)
	assert.Equal(t, MethodPolicy{Gate: GateRequireRole, RequiredRole: RoleAdmin}, p)
}
