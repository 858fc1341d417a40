package permissions

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/go-audit-server/token"
)

// Verdict tells a caller whether a token may be used to run audits.
type Verdict struct {
	HasPermissions bool     `json:"hasPermissions"`
	MissingScopes  []string `json:"missingScopes"`
}

// Message is a user facing description of the verdict.
func (v Verdict) Message() string {
	if v.HasPermissions {
		return "All required permissions are granted"
	}
	return fmt.Sprintf("Missing required permissions: %s. Sign in again and grant access.", strings.Join(v.MissingScopes, ", "))
}

// Checker compares granted scopes with a fixed minimum set. It is safe for concurrent use.
type Checker struct {
	required []string
}

func NewChecker(required []string) *Checker {
	return &Checker{required: append([]string(nil), required...)}
}

// Check returns the required scopes missing from record. A nil record is missing everything.
func (c *Checker) Check(record *token.Record) Verdict {
	granted := make(map[string]struct{})
	if record != nil {
		for _, s := range record.Scopes {
			granted[s] = struct{}{}
		}
	}

	missing := []string{}
	for _, s := range c.required {
		if _, ok := granted[s]; !ok {
			missing = append(missing, s)
		}
	}
	return Verdict{HasPermissions: len(missing) == 0, MissingScopes: missing}
}
