// Package aws parses SAML assertions and exchanges them for short-lived
// credentials.
package aws

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"sort"
)

const roleAttributeName = "https://aws.amazon.com/SAML/Attributes/Role"

// ParseError reports a malformed assertion payload.
type ParseError struct {
	Stage string // "base64", "xml", "roles"
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing SAML assertion (%s): %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrNoRolesGranted means the assertion is valid but authorizes nothing.
// Fatal for the profile that requested it, not for the whole run.
var ErrNoRolesGranted = &ParseError{Stage: "roles", Err: fmt.Errorf("assertion grants no roles")}

// Assertion is a decoded SAML response together with its extracted roles.
// The raw base64 form is what the STS exchange consumes.
type Assertion struct {
	Raw   string
	Roles []SamlRole
}

type samlResponse struct {
	XMLName    xml.Name        `xml:"Response"`
	Assertions []samlAssertion `xml:"Assertion"`
}

type samlAssertion struct {
	AttributeStatements []samlAttributeStatement `xml:"AttributeStatement"`
}

type samlAttributeStatement struct {
	Attributes []samlAttribute `xml:"Attribute"`
}

type samlAttribute struct {
	Name   string   `xml:"Name,attr"`
	Values []string `xml:"AttributeValue"`
}

// ParseAssertion decodes a base64 SAML response and extracts its
// (provider, role) pairs. Attribute names are matched case-sensitively.
// Duplicates are dropped and the result is sorted by role ARN so the
// output is stable regardless of attribute ordering.
func ParseAssertion(raw string) (*Assertion, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &ParseError{Stage: "base64", Err: err}
	}

	var resp samlResponse
	if err := xml.Unmarshal(decoded, &resp); err != nil {
		return nil, &ParseError{Stage: "xml", Err: err}
	}

	seen := map[string]bool{}
	var roles []SamlRole
	for _, assertion := range resp.Assertions {
		for _, stmt := range assertion.AttributeStatements {
			for _, attr := range stmt.Attributes {
				if attr.Name != roleAttributeName {
					continue
				}
				for _, value := range attr.Values {
					role, err := ParseSamlRole(value)
					if err != nil {
						return nil, &ParseError{Stage: "roles", Err: err}
					}
					key := role.Provider + "," + role.Role
					if seen[key] {
						continue
					}
					seen[key] = true
					roles = append(roles, role)
				}
			}
		}
	}

	if len(roles) == 0 {
		return nil, ErrNoRolesGranted
	}

	sort.Slice(roles, func(i, j int) bool { return roles[i].Role < roles[j].Role })

	return &Assertion{Raw: raw, Roles: roles}, nil
}
