package identity

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"servicehours/internal/config"
)

// Role is what a principal may do.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Grant assigns a role to one email address.
type Grant struct {
	Email string `yaml:"email"`
	Role  Role   `yaml:"role"`
}

// Policy decides who may sign in and who administers.
type Policy struct {
	AllowedDomain string  `yaml:"allowed_domain"`
	Grants        []Grant `yaml:"grants"`
}

// Admits reports whether email belongs to the allowed domain or has a grant.
func (p Policy) Admits(email string) bool {
	email = normalize(email)
	if email == "" {
		return false
	}
	if domain := normalize(p.AllowedDomain); domain != "" && strings.HasSuffix(email, "@"+domain) {
		return true
	}
	_, granted := p.grant(email)
	return granted
}

// RoleOf returns the role of an admitted email.
func (p Policy) RoleOf(email string) Role {
	if g, ok := p.grant(normalize(email)); ok && g.Role == RoleAdmin {
		return RoleAdmin
	}
	return RoleStudent
}

func (p Policy) IsAdmin(email string) bool { return p.RoleOf(email) == RoleAdmin }

func (p Policy) grant(email string) (Grant, bool) {
	for _, g := range p.Grants {
		if normalize(g.Email) == email {
			return g, true
		}
	}
	return Grant{}, false
}

func (p Policy) validate() error {
	for _, g := range p.Grants {
		if !strings.Contains(g.Email, "@") {
			return fmt.Errorf("policy: grant %q is not an email address", g.Email)
		}
		if g.Role != RoleAdmin && g.Role != RoleStudent {
			return fmt.Errorf("policy: grant %s has unknown role %q", g.Email, g.Role)
		}
	}
	return nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// LoadPolicy reads the role table named by cfg.PolicyFile. Without a file
// the policy is the configured domain plus admin_emails.
func LoadPolicy(cfg config.IdentityConfig) (Policy, error) {
	p := Policy{AllowedDomain: cfg.AllowedDomain}
	for _, email := range cfg.AdminEmails {
		p.Grants = append(p.Grants, Grant{Email: email, Role: RoleAdmin})
	}
	if cfg.PolicyFile == "" {
		return p, p.validate()
	}

	raw, err := os.ReadFile(cfg.PolicyFile)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	var file Policy
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if file.AllowedDomain == "" {
		file.AllowedDomain = cfg.AllowedDomain
	}
	if len(file.Grants) == 0 {
		file.Grants = p.Grants
	}
	return file, file.validate()
}

// Policies holds the current policy and swaps it on Reload.
type Policies struct {
	cfg config.IdentityConfig
	cur atomic.Pointer[Policy]
}

func NewPolicies(cfg config.IdentityConfig) (*Policies, error) {
	ps := &Policies{cfg: cfg}
	if err := ps.Reload(); err != nil {
		return nil, err
	}
	return ps, nil
}

// Reload rereads the policy. On error the previous policy stays in force.
func (ps *Policies) Reload() error {
	p, err := LoadPolicy(ps.cfg)
	if err != nil {
		return err
	}
	ps.cur.Store(&p)
	return nil
}

func (ps *Policies) Current() Policy { return *ps.cur.Load() }

func (ps *Policies) IsAdmin(email string) bool { return ps.Current().IsAdmin(email) }
