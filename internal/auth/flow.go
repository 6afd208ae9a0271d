package auth

import "context"

// AccountType identifies which identity system produced a session.
type AccountType string

// Account types recognized by the session layer.
const (
	AccountTypeNone             AccountType = ""
	AccountTypeActiveDirectory  AccountType = "activeDirectory"
	AccountTypeMicrosoftAccount AccountType = "microsoftAccount"
)

// ParseAccountType maps a stored string to an AccountType. Unknown values
// map to AccountTypeNone rather than failing — token metadata written by a
// newer build must not break an older one.
func ParseAccountType(s string) AccountType {
	switch s {
	case string(AccountTypeActiveDirectory):
		return AccountTypeActiveDirectory
	case string(AccountTypeMicrosoftAccount):
		return AccountTypeMicrosoftAccount
	default:
		return AccountTypeNone
	}
}

// Credential is a resource-scoped access token produced by a CredentialFlow.
// Expiring is the identity backend's own clock-skew-aware expiry predicate;
// the session layer never computes expiry itself, it only asks.
type Credential struct {
	AccessToken string
	TokenType   string
	AccountType AccountType
	Expiring    func() bool
}

// CredentialFlow acquires resource-scoped credentials. Implementations are
// per identity system (internal/msauth provides the ActiveDirectory one);
// the session protocol is written against this interface only, never
// against platform conditionals.
//
// AcquireSilent must not prompt; it fails when no cached identity can be
// redeemed for the resource. AcquireInteractive may prompt the user and
// reports an explicit abort as ErrAuthenticationCancelled.
type CredentialFlow interface {
	AcquireSilent(ctx context.Context, resource string) (Credential, error)
	AcquireInteractive(ctx context.Context, resource string) (Credential, error)
}

// IdentityClearer is implemented by credential flows that persist identity
// material between runs. SignOut invokes it so a signed-out account cannot
// be silently revived from a saved refresh token.
type IdentityClearer interface {
	ClearIdentity(ctx context.Context) error
}
