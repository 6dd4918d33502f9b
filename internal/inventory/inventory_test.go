package inventory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestInventory() *Inventory {
	inv := New()
	inv.AddHost("web1", map[string]any{"ansible_user": "deploy"})
	inv.AddHost("web2", nil)
	inv.AddHost("db1", nil)
	inv.AddToGroup("web", "web1")
	inv.AddToGroup("web", "web2")
	inv.AddToGroup("db", "db1")
	inv.AddChildGroup("prod", "web")
	inv.AddChildGroup("prod", "db")
	inv.SetGroupVars("web", map[string]any{"http_port": 8080})
	inv.SetGroupVars("all", map[string]any{"env": "test"})
	inv.SetHostVars("web1", map[string]any{"http_port": 9090})
	return inv
}

func TestResolve_GroupPattern(t *testing.T) {
	inv := buildTestInventory()
	assert.Equal(t, []string{"web1", "web2"}, Resolve(inv, "web"))
}

func TestResolve_NestedGroupPattern(t *testing.T) {
	inv := buildTestInventory()
	assert.Equal(t, []string{"db1", "web1", "web2"}, Resolve(inv, "prod"))
}

func TestResolve_UnionOfGroups(t *testing.T) {
	inv := buildTestInventory()
	assert.Equal(t, []string{"db1", "web1", "web2"}, Resolve(inv, "web db"))
}

func TestResolve_Negation(t *testing.T) {
	inv := buildTestInventory()
	assert.Equal(t, []string{"db1"}, Resolve(inv, "all !web"))
}

func TestResolve_Intersection(t *testing.T) {
	inv := buildTestInventory()
	assert.Equal(t, []string{"web1"}, Resolve(inv, "web &web1"))
}

func TestResolve_Wildcard(t *testing.T) {
	inv := buildTestInventory()
	assert.Equal(t, []string{"web1", "web2"}, Resolve(inv, "web*"))
}

func TestResolve_UnknownPatternReturnsEmpty(t *testing.T) {
	inv := buildTestInventory()
	assert.Empty(t, Resolve(inv, "nonexistent"))
}

func TestHostVars_PrecedenceAllThenGroupThenHost(t *testing.T) {
	inv := buildTestInventory()
	vars := inv.HostVars("web1")
	assert.Equal(t, "test", vars["env"])
	assert.Equal(t, 9090, vars["http_port"])
	assert.Equal(t, "deploy", vars["ansible_user"])
}

func TestHostVars_GroupOnlyWhenNoHostOverride(t *testing.T) {
	inv := buildTestInventory()
	vars := inv.HostVars("web2")
	assert.Equal(t, 8080, vars["http_port"])
}

func TestParseINI_HostsVarsAndChildren(t *testing.T) {
	src := `
[web]
web1 ansible_user=deploy http_port=8080
web2

[web:vars]
deploy_env=staging

[prod:children]
web
`
	inv, err := ParseINI(strings.NewReader(src))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web1", "web2"}, Resolve(inv, "web"))
	assert.Equal(t, "staging", inv.HostVars("web1")["deploy_env"])
	assert.Equal(t, 8080, inv.HostVars("web1")["http_port"])
	assert.ElementsMatch(t, []string{"web1", "web2"}, Resolve(inv, "prod"))
}

func TestParseYAML_AllChildrenTree(t *testing.T) {
	src := []byte(`
all:
  vars:
    env: test
  children:
    web:
      hosts:
        web1:
          ansible_user: deploy
        web2: {}
      vars:
        http_port: 8080
`)
	inv, err := ParseYAML(src)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web1", "web2"}, Resolve(inv, "web"))
	assert.Equal(t, "deploy", inv.HostVars("web1")["ansible_user"])
	assert.Equal(t, 8080, inv.HostVars("web1")["http_port"])
	assert.Equal(t, "test", inv.HostVars("web1")["env"])
}
