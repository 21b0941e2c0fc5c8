package aws

import (
	"fmt"
	"strings"
)

// SamlRole is one provider/role ARN pair from an assertion's Role
// attribute. The attribute value is "provider-arn,role-arn"; some IdPs
// emit the pair in the opposite order, which we normalize.
type SamlRole struct {
	Provider string
	Role     string
}

// ParseSamlRole splits a Role attribute value into its two ARNs.
func ParseSamlRole(value string) (SamlRole, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return SamlRole{}, fmt.Errorf("role attribute %q must have exactly two elements", value)
	}

	first, second := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if strings.Contains(first, ":saml-provider/") {
		return SamlRole{Provider: first, Role: second}, nil
	}
	return SamlRole{Provider: second, Role: first}, nil
}

// Name returns the trailing role name from the role ARN.
func (r SamlRole) Name() string {
	idx := strings.LastIndexByte(r.Role, '/')
	if idx < 0 {
		return r.Role
	}
	return r.Role[idx+1:]
}

// AccountID returns the owning account id from the role ARN, or "" when
// the ARN is malformed.
func (r SamlRole) AccountID() string {
	// arn:aws:iam::123456789012:role/Name
	parts := strings.Split(r.Role, ":")
	if len(parts) < 5 {
		return ""
	}
	return parts[4]
}

func (r SamlRole) String() string {
	if id := r.AccountID(); id != "" {
		return fmt.Sprintf("%s (%s)", r.Name(), id)
	}
	return r.Name()
}
