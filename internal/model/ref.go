package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// refRegex matches: {userID}:{accountType}
// Example: alice:futures
var refRegex = regexp.MustCompile(`^([A-Za-z0-9_.-]+):(spot|margin|futures)$`)

var (
	// ErrInvalidAccountRef is returned when a reference string does not
	// follow the user:accountType format.
	ErrInvalidAccountRef = errors.New("model: invalid account reference")
)

// AccountRef identifies one (user, account-type) pair.
// String form: "user:accountType", e.g. "alice:futures".
type AccountRef struct {
	UserID  string      `json:"user_id"`
	Account AccountType `json:"account"`
}

// ParseAccountRef parses and validates an account reference string.
func ParseAccountRef(s string) (AccountRef, error) {
	matches := refRegex.FindStringSubmatch(s)
	if matches == nil {
		return AccountRef{}, fmt.Errorf("%w: %q (expected user:spot|margin|futures)",
			ErrInvalidAccountRef, s)
	}
	return AccountRef{UserID: matches[1], Account: AccountType(matches[2])}, nil
}

// String returns the canonical "user:accountType" form.
func (r AccountRef) String() string {
	return r.UserID + ":" + string(r.Account)
}

// Less imposes the engine's fixed processing order: ascending user ID, then
// account type in spot, margin, futures order.
func (r AccountRef) Less(other AccountRef) bool {
	if r.UserID != other.UserID {
		return r.UserID < other.UserID
	}
	return r.Account.Rank() < other.Account.Rank()
}

// MarshalJSON encodes the reference in its compact string form.
func (r AccountRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts the compact string form.
func (r *AccountRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAccountRef(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
