package rbac

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the on-disk extension of the built-in catalog and role matrix.
//
//	permissions:
//	  - id: surveys.launch
//	    name: Launch survey
//	    category: assessments
//	    conditions: [{type: time, rule: business_hours}]
//	roles:
//	  manager: [surveys.launch]
type Policy struct {
	Permissions []Permission      `yaml:"permissions"`
	Roles       map[Role][]string `yaml:"roles"`
}

// LoadPolicyFile reads and validates a policy file
func LoadPolicyFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	return LoadPolicy(f)
}

// LoadPolicy decodes and validates a policy document
func LoadPolicy(r io.Reader) (*Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	var policy Policy
	if len(bytes.TrimSpace(data)) == 0 {
		return &policy, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks permission ids and categories
func (p *Policy) Validate() error {
	for i, perm := range p.Permissions {
		if perm.ID == "" {
			return fmt.Errorf("policy permission #%d has no id: %w", i, ErrInvalidPermission)
		}
		if !perm.Category.Valid() {
			return fmt.Errorf("policy permission %s: %w: %q", perm.ID, ErrUnknownCategory, perm.Category)
		}
	}
	for role := range p.Roles {
		if role == "" {
			return fmt.Errorf("policy binds permissions to an empty role name: %w", ErrInvalidPermission)
		}
	}
	return nil
}

// Apply merges the policy into catalog and matrix. Role bindings must name
// permissions known to the merged catalog.
func (p *Policy) Apply(catalog *Catalog, matrix *RoleMatrix) error {
	for _, perm := range p.Permissions {
		catalog.Register(perm)
	}

	for role, ids := range p.Roles {
		for _, id := range ids {
			if _, ok := catalog.GetPermission(id); !ok {
				return fmt.Errorf("role %s binds unknown permission %s: %w", role, id, ErrInvalidPermission)
			}
		}
		matrix.Bind(role, ids...)
	}
	return nil
}
