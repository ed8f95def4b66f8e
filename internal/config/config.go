// Package config holds the GitBridge configuration document: profiles
// describing which repository mirror the service manages, the secrets
// they authenticate with, and service-level settings.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/gray247/gitbridge/internal/util"
)

// SafeModeEnvVar overrides the active profile's safe_mode setting when
// set to "true" or "false".
const SafeModeEnvVar = "GITBRIDGE_SAFE_MODE"

// Root is the top-level configuration structure for GitBridge.
type Root struct {
	Profiles map[string]*Profile `json:"profiles,omitempty"`
	Secrets  map[string]*Secret  `json:"secrets,omitempty"`
	Service  *Service            `json:"service,omitempty"`
	Active   string              `json:"active,omitempty"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Root, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(bs)
}

// Parse decodes a YAML or JSON configuration document.
func Parse(bs []byte) (*Root, error) {
	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &root, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Root. It
// lets profiles and secrets be defined as mappings keyed by name, and
// injects the secret store into each secret reference so callers can
// resolve secret values on demand.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal(r)
}

func (*Root) unmarshal(raw *Root) error {
	for name := range raw.Secrets {
		raw.Secrets[name] = cmp.Or(raw.Secrets[name], &Secret{})
		raw.Secrets[name].Name = name
	}

	for name := range raw.Profiles {
		raw.Profiles[name] = cmp.Or(raw.Profiles[name], &Profile{})
		raw.Profiles[name].Name = name
		if raw.Profiles[name].Credentials != nil {
			raw.Profiles[name].Credentials.value = raw.Secrets[raw.Profiles[name].Credentials.Name]
		}
	}

	if raw.Active == "" && len(raw.Profiles) == 1 {
		for name := range raw.Profiles {
			raw.Active = name
		}
	}

	return nil
}

// ActiveProfile resolves the profile the service runs against.
func (r *Root) ActiveProfile() (*Profile, error) {
	if r.Active == "" {
		return nil, fmt.Errorf("no active profile configured")
	}
	p, ok := r.Profiles[r.Active]
	if !ok {
		return nil, fmt.Errorf("active profile %q not found", r.Active)
	}
	return p, p.Validate()
}

// ProfileNames returns the configured profile names, sorted.
func (r *Root) ProfileNames() []string {
	names := make([]string, 0, len(r.Profiles))
	for name := range r.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile describes one repository mirror managed by GitBridge.
type Profile struct {
	Name        string     `json:"-"`
	Repo        string     `json:"repo"`                // "owner/name" or a full clone URL
	Reference   string     `json:"reference,omitempty"` // branch name, default "main"
	LocalFolder string     `json:"local_folder"`
	SafeMode    *bool      `json:"safe_mode,omitempty"` // default true: deletes refused
	Exclude     []string   `json:"exclude,omitempty"`   // glob patterns hidden from /tree
	Author      string     `json:"author,omitempty"`
	Email       string     `json:"email,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // nil for public repositories
}

func (p *Profile) Validate() error {
	if p.Repo == "" {
		return fmt.Errorf("profile %q: 'repo' field is required", p.Name)
	}
	if p.LocalFolder == "" {
		return fmt.Errorf("profile %q: 'local_folder' field is required", p.Name)
	}
	return nil
}

// URL normalizes the repo field into a clone URL. An "owner/name"
// shorthand expands to a GitHub HTTPS URL; full URLs, scp-style SSH
// addresses, and local filesystem paths pass through unchanged.
func (p *Profile) URL() string {
	if strings.Contains(p.Repo, "://") || strings.HasPrefix(p.Repo, "git@") ||
		strings.HasPrefix(p.Repo, "/") || strings.HasPrefix(p.Repo, ".") {
		return p.Repo
	}
	return "https://github.com/" + p.Repo + ".git"
}

// Ref returns the branch the profile tracks.
func (p *Profile) Ref() string {
	return cmp.Or(p.Reference, "main")
}

// SafeModeEnabled reports whether destructive operations are disabled.
// The GITBRIDGE_SAFE_MODE environment variable beats the profile value;
// the default is true.
func (p *Profile) SafeModeEnabled() bool {
	if v, ok := os.LookupEnv(SafeModeEnvVar); ok {
		return strings.EqualFold(v, "true")
	}
	if p.SafeMode != nil {
		return *p.SafeMode
	}
	return true
}

// AuthorSignature returns the commit author identity, with service
// defaults when the profile leaves them unset.
func (p *Profile) AuthorSignature() (name, email string) {
	return cmp.Or(p.Author, "gitbridge"), cmp.Or(p.Email, "gitbridge@localhost")
}

// Equal reports whether two profiles describe the same upstream. Used
// to decide whether an existing clone can be reused. Credential values
// are deliberately excluded: rotating a token must not wipe the clone.
func (p *Profile) Equal(other *Profile) bool {
	return util.FastEqual(p, other, func(p, other *Profile) bool {
		return p.Repo == other.Repo && p.Ref() == other.Ref()
	})
}

// Service holds facade-level settings.
type Service struct {
	Listen         string `json:"listen,omitempty"`          // default ":8080"
	LockTimeout    int    `json:"lock_timeout,omitempty"`    // seconds, default 30
	RemoteTimeout  int    `json:"remote_timeout,omitempty"`  // seconds, default 10
	PublishRetries int    `json:"publish_retries,omitempty"` // attempts, default 3
}

func (s *Service) ListenAddr() string {
	if s == nil || s.Listen == "" {
		return ":8080"
	}
	return s.Listen
}

func (s *Service) LockTimeoutSeconds() int {
	if s == nil || s.LockTimeout <= 0 {
		return 30
	}
	return s.LockTimeout
}

func (s *Service) RemoteTimeoutSeconds() int {
	if s == nil || s.RemoteTimeout <= 0 {
		return 10
	}
	return s.RemoteTimeout
}

func (s *Service) PublishAttempts() int {
	if s == nil || s.PublishRetries <= 0 {
		return 3
	}
	return s.PublishRetries
}
