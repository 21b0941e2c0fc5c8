package awsconfig

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProfileConfig is one entry in an organization file. The short form is
// just the application label; the long form adds a role and duration.
type ProfileConfig struct {
	Application     string `yaml:"application"`
	Role            string `yaml:"role,omitempty"`
	DurationSeconds int32  `yaml:"duration_seconds,omitempty"`
}

// UnmarshalYAML accepts both `prod: "AWS Prod"` and the mapping form.
func (p *ProfileConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Application = node.Value
		return nil
	}

	type plain ProfileConfig
	return node.Decode((*plain)(p))
}

// OrganizationConfig is the persisted shape of ~/.oktactl/<org>.yaml.
// Options here are loose; defaults propagate into profiles on load.
type OrganizationConfig struct {
	Username        string                   `yaml:"username,omitempty"`
	Role            string                   `yaml:"role,omitempty"`
	DurationSeconds int32                    `yaml:"duration_seconds,omitempty"`
	Profiles        map[string]ProfileConfig `yaml:"profiles"`
}

// FederatedProfile is a resolved profile: name, target application and a
// definite role.
type FederatedProfile struct {
	Name            string
	Application     string
	Role            string
	DurationSeconds int32
}

// Organization is the canonical form of one organization file, with the
// config's defaults already folded in.
type Organization struct {
	Name     string
	Username string
	Profiles []FederatedProfile
}

// Home returns the oktactl configuration directory, honoring
// OKTACTL_HOME for tests and unusual setups.
func Home() (string, error) {
	if p := os.Getenv("OKTACTL_HOME"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".oktactl"), nil
}

// LoadOrganization reads and resolves one organization file.
func LoadOrganization(filePath string) (*Organization, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg OrganizationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filePath, err)
	}

	name := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))

	org := &Organization{Name: name, Username: cfg.Username}
	for profName, pc := range cfg.Profiles {
		role := pc.Role
		if role == "" {
			role = cfg.Role
		}
		if role == "" {
			return nil, fmt.Errorf("profile %q in %s has no role and the organization sets no default", profName, filePath)
		}
		duration := pc.DurationSeconds
		if duration == 0 {
			duration = cfg.DurationSeconds
		}
		org.Profiles = append(org.Profiles, FederatedProfile{
			Name:            profName,
			Application:     pc.Application,
			Role:            role,
			DurationSeconds: duration,
		})
	}

	sort.Slice(org.Profiles, func(i, j int) bool { return org.Profiles[i].Name < org.Profiles[j].Name })
	return org, nil
}

// LoadOrganizations resolves every organization file matching the glob
// pattern (on the organization name, without extension).
func LoadOrganizations(pattern string) ([]*Organization, error) {
	dir, err := Home()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var orgs []*Organization
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		match, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("invalid organization pattern %q: %w", pattern, err)
		}
		if !match {
			continue
		}
		org, err := LoadOrganization(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}

	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	return orgs, nil
}

// SaveOrganization writes an organization config to ~/.oktactl/<name>.yaml.
func SaveOrganization(name string, cfg *OrganizationConfig) (string, error) {
	dir, err := Home()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	filePath := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(filePath, data, filePerm); err != nil {
		return "", err
	}
	return filePath, nil
}

// MatchProfiles filters an organization's profiles with a glob pattern.
func (o *Organization) MatchProfiles(pattern string) ([]FederatedProfile, error) {
	var out []FederatedProfile
	for _, p := range o.Profiles {
		match, err := path.Match(pattern, p.Name)
		if err != nil {
			return nil, fmt.Errorf("invalid profile pattern %q: %w", pattern, err)
		}
		if match {
			out = append(out, p)
		}
	}
	return out, nil
}
