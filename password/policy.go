package password

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Policy gates new passwords. Check returns machine-readable reason codes so
// transports can render per-field feedback without parsing error strings.
type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool

	blocklist map[string]struct{}
}

// Reason codes returned by Check.
const (
	ReasonTooShort      = "too_short"
	ReasonMissingUpper  = "missing_upper"
	ReasonMissingLower  = "missing_lower"
	ReasonMissingDigit  = "missing_digit"
	ReasonMissingSymbol = "missing_symbol"
	ReasonBlacklisted   = "blacklisted"
)

// LoadBlocklist reads a newline-delimited file of banned passwords.
// Comparison is case-insensitive; blank lines and '#' comments are skipped.
func (p *Policy) LoadBlocklist(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open password blocklist: %w", err)
	}
	defer f.Close()

	list := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		list[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read password blocklist: %w", err)
	}

	p.blocklist = list
	return nil
}

// SetBlocklist installs banned passwords directly, mainly for tests and
// hosts that ship the list embedded.
func (p *Policy) SetBlocklist(words []string) {
	list := make(map[string]struct{}, len(words))
	for _, w := range words {
		list[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	p.blocklist = list
}

// Check returns every reason the candidate fails, empty when it passes.
// Length is counted in runes, not bytes.
func (p *Policy) Check(candidate string) []string {
	var reasons []string

	if len([]rune(candidate)) < p.MinLength {
		reasons = append(reasons, ReasonTooShort)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	if p.RequireUpper && !hasUpper {
		reasons = append(reasons, ReasonMissingUpper)
	}
	if p.RequireLower && !hasLower {
		reasons = append(reasons, ReasonMissingLower)
	}
	if p.RequireDigit && !hasDigit {
		reasons = append(reasons, ReasonMissingDigit)
	}
	if p.RequireSymbol && !hasSymbol {
		reasons = append(reasons, ReasonMissingSymbol)
	}

	if p.blocklist != nil {
		if _, banned := p.blocklist[strings.ToLower(candidate)]; banned {
			reasons = append(reasons, ReasonBlacklisted)
		}
	}

	return reasons
}
