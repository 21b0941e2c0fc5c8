package awsconfig

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSelector answers with canned choices and records what it was asked.
type stubSelector struct {
	defaultRole string
	choices     map[string]string

	defaultCalls int
	chooseCalls  int
	lastRanked   []RoleCount
}

func (s *stubSelector) DefaultRole(session string, ranked []RoleCount, ambiguous int) (string, error) {
	s.defaultCalls++
	s.lastRanked = ranked
	return s.defaultRole, nil
}

func (s *stubSelector) ChooseRole(profile string, roles []string) (string, error) {
	s.chooseCalls++
	return s.choices[profile], nil
}

func emptyDoc(t *testing.T) *Document {
	t.Helper()
	doc, err := Load(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)
	return doc
}

func session(name string, accounts ...DiscoveredAccount) DiscoveredSession {
	return DiscoveredSession{
		Name:     name,
		Label:    name,
		StartURL: "https://" + name + ".awsapps.com/start",
		Region:   "us-east-1",
		Accounts: accounts,
	}
}

func TestReconcileSingleRoleAutoSelected(t *testing.T) {
	doc := emptyDoc(t)
	sel := &stubSelector{}

	err := Reconcile(doc, []DiscoveredSession{
		session("corp", DiscoveredAccount{ID: "111111111111", Name: "Dev", Roles: []string{"ReadOnly"}}),
	}, sel)
	require.NoError(t, err)

	role, ok := doc.ProfileRole("dev")
	require.True(t, ok)
	assert.Equal(t, "ReadOnly", role)
	assert.True(t, doc.ProfileIsAuto("dev"))
	assert.Zero(t, sel.defaultCalls, "nothing ambiguous, no prompting")
	assert.Zero(t, sel.chooseCalls)
	assert.True(t, doc.IsSSOProfile("dev"))
}

func TestReconcileIdempotent(t *testing.T) {
	sessions := []DiscoveredSession{
		session("corp",
			DiscoveredAccount{ID: "111111111111", Name: "Dev", Roles: []string{"PowerUser", "ReadOnly"}},
			DiscoveredAccount{ID: "222222222222", Name: "Staging", Roles: []string{"PowerUser", "Admin"}},
		),
	}

	doc := emptyDoc(t)
	sel := &stubSelector{defaultRole: "PowerUser"}
	require.NoError(t, Reconcile(doc, sessions, sel))
	first, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, 1, sel.defaultCalls)

	// Same discovery again, shuffled: same bytes, no new prompts.
	shuffled := []DiscoveredSession{session("corp",
		sessions[0].Accounts[1], sessions[0].Accounts[0],
	)}
	require.NoError(t, Reconcile(doc, shuffled, sel))
	second, err := doc.Bytes()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second), "rerun must be byte-for-byte identical")
	assert.Equal(t, 1, sel.defaultCalls, "no prompting once every role is settled")
}

func TestReconcileCrossSessionCollision(t *testing.T) {
	doc := emptyDoc(t)
	err := Reconcile(doc, []DiscoveredSession{
		session("session-a", DiscoveredAccount{ID: "111111111111", Name: "Prod", Roles: []string{"Admin"}}),
		session("session-b", DiscoveredAccount{ID: "222222222222", Name: "Prod", Roles: []string{"Admin"}}),
	}, &stubSelector{})
	require.NoError(t, err)

	_, ok := doc.ProfileRole("session-a-prod")
	assert.True(t, ok, "colliding names get the session prefix")
	_, ok = doc.ProfileRole("session-b-prod")
	assert.True(t, ok)
	_, ok = doc.ProfileRole("prod")
	assert.False(t, ok, "the bare name must not be claimed by either side")
}

func TestReconcileMigratesBareProfileOnNewCollision(t *testing.T) {
	doc := emptyDoc(t)
	prod := DiscoveredAccount{ID: "111111111111", Name: "Prod", Roles: []string{"Auditor", "Admin"}}

	// First run: session-a alone, the operator picks a role by hand.
	sel := &stubSelector{choices: map[string]string{"prod": "Auditor"}}
	require.NoError(t, Reconcile(doc, []DiscoveredSession{session("session-a", prod)}, sel))
	role, ok := doc.ProfileRole("prod")
	require.True(t, ok)
	require.Equal(t, "Auditor", role)
	defaultCalls, chooseCalls := sel.defaultCalls, sel.chooseCalls

	// Second run: session-b claims the same name, so session-a's entry
	// moves to the prefixed name with its choice intact.
	err := Reconcile(doc, []DiscoveredSession{
		session("session-a", prod),
		session("session-b", DiscoveredAccount{ID: "222222222222", Name: "Prod", Roles: []string{"Admin"}}),
	}, sel)
	require.NoError(t, err)

	role, ok = doc.ProfileRole("session-a-prod")
	require.True(t, ok)
	assert.Equal(t, "Auditor", role, "the explicit choice survives the rename")
	assert.False(t, doc.ProfileIsAuto("session-a-prod"))

	_, ok = doc.ProfileRole("prod")
	assert.False(t, ok, "the bare entry must not linger after the rename")
	assert.False(t, doc.IsSSOProfile("prod"))

	assert.Equal(t, chooseCalls, sel.chooseCalls, "the rename must not re-prompt")
	assert.Equal(t, defaultCalls, sel.defaultCalls)
}

func TestReconcileLeavesForeignBareProfileAlone(t *testing.T) {
	doc := emptyDoc(t)
	doc.UpsertSSOSession("legacy", "https://legacy.awsapps.com/start", "us-east-1")
	doc.UpsertSSOProfile("prod", "legacy", "999999999999", "Admin", false)

	err := Reconcile(doc, []DiscoveredSession{
		session("session-a", DiscoveredAccount{ID: "111111111111", Name: "Prod", Roles: []string{"Admin"}}),
		session("session-b", DiscoveredAccount{ID: "222222222222", Name: "Prod", Roles: []string{"Admin"}}),
	}, &stubSelector{})
	require.NoError(t, err)

	role, ok := doc.ProfileRole("prod")
	require.True(t, ok, "an entry owned by another session stays put")
	assert.Equal(t, "Admin", role)

	_, ok = doc.ProfileRole("session-a-prod")
	assert.True(t, ok)
	_, ok = doc.ProfileRole("session-b-prod")
	assert.True(t, ok)
}

func TestReconcileWithinSessionConflict(t *testing.T) {
	doc := emptyDoc(t)
	before, err := doc.Bytes()
	require.NoError(t, err)

	err = Reconcile(doc, []DiscoveredSession{
		session("corp",
			DiscoveredAccount{ID: "111111111111", Name: "Prod Main", Roles: []string{"Admin"}},
			DiscoveredAccount{ID: "222222222222", Name: "prod--main", Roles: []string{"Admin"}},
		),
	}, &stubSelector{})

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "prod-main", conflict.Profile)
	assert.Equal(t, "111111111111", conflict.AccountA)
	assert.Equal(t, "222222222222", conflict.AccountB)

	after, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "a conflict must not leave partial edits")
}

func TestRankRolesByFrequencyThenName(t *testing.T) {
	var accounts []DiscoveredAccount
	for i := 0; i < 10; i++ {
		roles := []string{fmt.Sprintf("Unique%d", i)}
		if i < 8 {
			roles = append(roles, "PowerUser")
		}
		accounts = append(accounts, DiscoveredAccount{
			ID:    fmt.Sprintf("%012d", i),
			Name:  fmt.Sprintf("Account %d", i),
			Roles: roles,
		})
	}

	ranked := RankRoles(accounts)
	require.NotEmpty(t, ranked)
	assert.Equal(t, RoleCount{Role: "PowerUser", Count: 8}, ranked[0])
	assert.Equal(t, RoleCount{Role: "Unique0", Count: 1}, ranked[1], "ties break alphabetically")
}

func TestReconcileSuggestsMostFrequentRole(t *testing.T) {
	var accounts []DiscoveredAccount
	for i := 0; i < 10; i++ {
		roles := []string{fmt.Sprintf("Unique%d", i)}
		if i < 8 {
			roles = append(roles, "PowerUser")
		}
		accounts = append(accounts, DiscoveredAccount{
			ID:    fmt.Sprintf("%012d", i),
			Name:  fmt.Sprintf("Account %d", i),
			Roles: roles,
		})
	}

	doc := emptyDoc(t)
	sel := &stubSelector{defaultRole: "PowerUser"}
	require.NoError(t, Reconcile(doc, []DiscoveredSession{session("corp", accounts...)}, sel))

	require.NotEmpty(t, sel.lastRanked)
	assert.Equal(t, RoleCount{Role: "PowerUser", Count: 8}, sel.lastRanked[0])

	for i := 0; i < 8; i++ {
		role, ok := doc.ProfileRole(fmt.Sprintf("account-%d", i))
		require.True(t, ok)
		assert.Equal(t, "PowerUser", role)
		assert.True(t, doc.ProfileIsAuto(fmt.Sprintf("account-%d", i)))
	}
}

func TestReconcilePreservesExplicitChoice(t *testing.T) {
	doc := emptyDoc(t)
	doc.UpsertSSOSession("corp", "https://corp.awsapps.com/start", "us-east-1")
	doc.UpsertSSOProfile("dev", "corp", "111111111111", "Auditor", false)

	sel := &stubSelector{defaultRole: "PowerUser"}
	err := Reconcile(doc, []DiscoveredSession{
		session("corp", DiscoveredAccount{ID: "111111111111", Name: "Dev", Roles: []string{"Auditor", "PowerUser"}}),
	}, sel)
	require.NoError(t, err)

	role, ok := doc.ProfileRole("dev")
	require.True(t, ok)
	assert.Equal(t, "Auditor", role, "a valid explicit choice is never overridden")
	assert.False(t, doc.ProfileIsAuto("dev"))
	assert.Zero(t, sel.defaultCalls)
}

func TestReconcileReselectsWhenRoleDisappears(t *testing.T) {
	doc := emptyDoc(t)
	doc.UpsertSSOProfile("dev", "corp", "111111111111", "Retired", false)

	sel := &stubSelector{choices: map[string]string{"dev": "ReadOnly"}}
	err := Reconcile(doc, []DiscoveredSession{
		session("corp", DiscoveredAccount{ID: "111111111111", Name: "Dev", Roles: []string{"PowerUser", "ReadOnly"}}),
	}, sel)
	require.NoError(t, err)

	role, ok := doc.ProfileRole("dev")
	require.True(t, ok)
	assert.Equal(t, "ReadOnly", role)
	assert.Equal(t, 1, sel.chooseCalls, "a vanished role forces reselection")
}

func TestReconcileDefersUndecidedProfiles(t *testing.T) {
	doc := emptyDoc(t)
	sel := &stubSelector{} // no default, no per-profile answer

	err := Reconcile(doc, []DiscoveredSession{
		session("corp", DiscoveredAccount{ID: "111111111111", Name: "Dev", Roles: []string{"PowerUser", "ReadOnly"}}),
	}, sel)
	require.NoError(t, err)

	_, ok := doc.ProfileRole("dev")
	assert.False(t, ok, "deferred profiles carry no role")
	sec, err := doc.file.GetSection("profile dev")
	require.NoError(t, err)
	assert.Equal(t, "true", sec.Key(keyPendingRole).String())
	assert.Equal(t, "111111111111", sec.Key(keyAccountID).String(), "deferred profiles still record the account")
}
