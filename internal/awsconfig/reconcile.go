package awsconfig

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

// DiscoveredAccount is one cloud account with its candidate roles,
// already sorted by the discoverer.
type DiscoveredAccount struct {
	ID    string
	Name  string
	Roles []string
}

// DiscoveredSession is everything one identity-center application
// yielded: its session identity plus the accounts underneath it.
type DiscoveredSession struct {
	Name     string // sanitized, unique per application
	Label    string // display name
	StartURL string
	Region   string
	Accounts []DiscoveredAccount
}

// RoleCount ranks a role name by how many accounts offer it.
type RoleCount struct {
	Role  string
	Count int
}

// RoleSelector resolves ambiguous role choices. The command layer backs
// it with interactive prompts; tests use fixtures.
type RoleSelector interface {
	// DefaultRole picks a session-wide default from the ranked
	// candidates, or returns "" to fall through to per-account choices.
	DefaultRole(session string, ranked []RoleCount, ambiguous int) (string, error)

	// ChooseRole picks a role for one account, or returns "" to defer
	// the profile for later resolution.
	ChooseRole(profile string, roles []string) (string, error)
}

// ConflictError reports two accounts in the same session resolving to the
// same profile name. Both entries are named so the operator can fix the
// source of the clash.
type ConflictError struct {
	Session  string
	Profile  string
	AccountA string
	AccountB string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("profile name %q in session %q is claimed by both account %s and account %s",
		e.Profile, e.Session, e.AccountA, e.AccountB)
}

// RankRoles counts role occurrences across a session's accounts and
// orders them by count descending, then lexicographically on the role
// name. The lexicographic tie-break is a documented policy choice; the
// ranking itself is deterministic either way.
func RankRoles(accounts []DiscoveredAccount) []RoleCount {
	counts := map[string]int{}
	for _, acct := range accounts {
		for _, role := range acct.Roles {
			counts[role]++
		}
	}

	ranked := make([]RoleCount, 0, len(counts))
	for role, count := range counts {
		ranked = append(ranked, RoleCount{Role: role, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Role < ranked[j].Role
	})
	return ranked
}

// Reconcile merges discovered sessions into the document.
//
// Per account: a single candidate role is auto-selected; an existing
// explicit profile whose role is still offered is preserved untouched;
// everything else goes through the selector, seeded with the session's
// most frequent role as the suggested default. Profiles whose recorded
// role disappeared are marked for reselection, never dropped.
//
// Profile names derive from sanitized account names. Names claimed by
// more than one session are disambiguated with the owning session's name
// as a prefix on both sides; a clash within a single session is a
// ConflictError.
//
// Re-running with unchanged discovery and no new choices leaves the
// document byte-for-byte identical.
func Reconcile(doc *Document, sessions []DiscoveredSession, selector RoleSelector) error {
	// Deterministic iteration regardless of discovery ordering.
	sessions = append([]DiscoveredSession(nil), sessions...)
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Name < sessions[j].Name })
	for i := range sessions {
		accts := append([]DiscoveredAccount(nil), sessions[i].Accounts...)
		sort.Slice(accts, func(a, b int) bool { return accts[a].ID < accts[b].ID })
		sessions[i].Accounts = accts
	}

	needsPrefix, err := crossSessionCollisions(sessions)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if err := reconcileSession(doc, session, needsPrefix, selector); err != nil {
			return err
		}
	}
	return nil
}

// crossSessionCollisions returns the sanitized names claimed by more than
// one session, and errors on a clash inside a single session.
func crossSessionCollisions(sessions []DiscoveredSession) (map[string]bool, error) {
	owners := map[string][]string{}
	for _, session := range sessions {
		seen := map[string]string{}
		for _, acct := range session.Accounts {
			name := SanitizeName(acct.Name)
			if prev, dup := seen[name]; dup {
				return nil, &ConflictError{
					Session:  session.Name,
					Profile:  name,
					AccountA: prev,
					AccountB: acct.ID,
				}
			}
			seen[name] = acct.ID
			owners[name] = append(owners[name], session.Name)
		}
	}

	needsPrefix := map[string]bool{}
	for name, sessionNames := range owners {
		if len(sessionNames) > 1 {
			needsPrefix[name] = true
		}
	}
	return needsPrefix, nil
}

// ProfileName resolves the final profile name for an account, applying
// the session prefix when the sanitized name collides across sessions.
func ProfileName(accountName, sessionName string, needsPrefix map[string]bool) string {
	name := SanitizeName(accountName)
	if needsPrefix[name] {
		return sessionName + "-" + name
	}
	return name
}

func reconcileSession(doc *Document, session DiscoveredSession, needsPrefix map[string]bool, selector RoleSelector) error {
	doc.UpsertSSOSession(session.Name, session.StartURL, session.Region)

	// A collision introduced by a newly discovered session forces a
	// prefixed name onto a profile an earlier run wrote bare. Carry the
	// old entry over so its role choice survives the rename.
	for _, acct := range session.Accounts {
		profile := ProfileName(acct.Name, session.Name, needsPrefix)
		if bare := SanitizeName(acct.Name); bare != profile && doc.MigrateSSOProfile(bare, profile, session.Name, acct.ID) {
			log.Warn("profile renamed to resolve a cross-session name clash", "from", bare, "to", profile)
		}
	}

	// First pass: find accounts whose role cannot be decided without the
	// selector. Only they justify prompting for a session default.
	ambiguous := 0
	for _, acct := range session.Accounts {
		if needsSelection(doc, session, acct, needsPrefix) {
			ambiguous++
		}
	}

	defaultRole := ""
	if ambiguous > 0 {
		ranked := RankRoles(session.Accounts)
		if len(ranked) == 1 {
			defaultRole = ranked[0].Role
		} else if len(ranked) > 1 {
			var err error
			defaultRole, err = selector.DefaultRole(session.Label, ranked, ambiguous)
			if err != nil {
				return err
			}
		}
	}

	for _, acct := range session.Accounts {
		profile := ProfileName(acct.Name, session.Name, needsPrefix)

		role, auto, err := resolveRole(doc, profile, acct, defaultRole, selector)
		if err != nil {
			return err
		}
		if role == "" {
			log.Debug("profile deferred for later role selection", "profile", profile)
		}
		doc.UpsertSSOProfile(profile, session.Name, acct.ID, role, auto)
	}
	return nil
}

func needsSelection(doc *Document, session DiscoveredSession, acct DiscoveredAccount, needsPrefix map[string]bool) bool {
	if len(acct.Roles) <= 1 {
		return false
	}
	profile := ProfileName(acct.Name, session.Name, needsPrefix)
	existing, ok := doc.ProfileRole(profile)
	return !ok || !contains(acct.Roles, existing)
}

// resolveRole returns the role for one account plus whether the choice is
// automatic (vs an explicit, preserved or user-made one). An empty role
// defers the profile.
func resolveRole(doc *Document, profile string, acct DiscoveredAccount, defaultRole string, selector RoleSelector) (string, bool, error) {
	if len(acct.Roles) == 1 {
		return acct.Roles[0], true, nil
	}

	if existing, ok := doc.ProfileRole(profile); ok {
		if contains(acct.Roles, existing) {
			// Prior choice still valid: preserved with its provenance.
			return existing, doc.ProfileIsAuto(profile), nil
		}
		log.Warn("previously selected role no longer offered", "profile", profile, "role", existing)
	}

	if defaultRole != "" && contains(acct.Roles, defaultRole) {
		return defaultRole, true, nil
	}

	role, err := selector.ChooseRole(profile, acct.Roles)
	if err != nil {
		return "", false, err
	}
	return role, false, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
