// Package apperr defines the domain error kinds shared across use-cases and
// their mapping onto HTTP status codes.
package apperr

import "fmt"

// Kind identifies a domain error category independent of its message.
type Kind string

const (
	KindWorkspaceNameConflicted Kind = "workspace_name_conflicted"
	KindInvalidWorkspaceName    Kind = "invalid_workspace_name"

	KindPathIsInUse         Kind = "path_is_in_use"
	KindPathNotExists       Kind = "path_not_exists"
	KindPathDuplicated      Kind = "path_duplicated"
	KindParentPathNotExists Kind = "parent_path_not_exists"
	KindInvalidPath         Kind = "invalid_path"
	KindInvalidPathPolicy   Kind = "invalid_path_policy"

	KindPolicyNotExists      Kind = "policy_not_exists"
	KindPolicyNameDuplicated Kind = "policy_name_duplicated"
	KindInvalidExpression    Kind = "invalid_expression"

	KindSecretNotExists        Kind = "secret_not_exists"
	KindInvalidSecretIdentifier Kind = "invalid_secret_identifier"
	KindIdentifierConflicted    Kind = "identifier_conflicted"
	KindInvalidSecretPolicy     Kind = "invalid_secret_policy"

	KindParameterNotExists       Kind = "parameter_not_exists"
	KindParameterAlreadyCreated  Kind = "parameter_already_created"

	KindInvalidSignature   Kind = "invalid_signature"
	KindExpired            Kind = "expired"
	KindAttributeMissing   Kind = "attribute_missing"
	KindStateMismatch      Kind = "state_mismatch"

	KindAccessDenied Kind = "access_denied"

	KindAnyhow Kind = "anyhow"
)

// Error is the concrete error type every use-case returns. It carries a Kind
// for stable classification plus free-form fields for message formatting.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	wrapped error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.wrapped }

// StatusCode maps the error kind onto the stable HTTP status table from the
// propagation policy: AccessDenied -> 403, *NotExists -> 404,
// *Duplicated/Conflicted and ParameterAlreadyCreated -> 409, the SAML
// handshake kinds (InvalidSignature, Expired, AttributeMissing,
// StateMismatch) -> 401, the other Invalid* kinds -> 400, everything
// else -> 500.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindAccessDenied:
		return 403
	case KindPathNotExists, KindParentPathNotExists, KindSecretNotExists, KindParameterNotExists, KindPolicyNotExists:
		return 404
	case KindWorkspaceNameConflicted, KindPathDuplicated, KindPolicyNameDuplicated,
		KindIdentifierConflicted, KindParameterAlreadyCreated:
		return 409
	case KindInvalidWorkspaceName, KindInvalidPath, KindInvalidPathPolicy,
		KindInvalidExpression, KindInvalidSecretIdentifier, KindInvalidSecretPolicy:
		return 400
	case KindInvalidSignature, KindExpired, KindAttributeMissing, KindStateMismatch:
		return 401
	default:
		return 500
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithField attaches a context field (e.g. "entered_path") used by callers
// that need structured detail beyond the message string.
func (e *Error) WithField(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Anyhow wraps an infrastructure error (DB, JWKS fetch, SAML parse) the way
// the catch-all Anyhow variant does in the domain model: logged with
// context, returned to callers as a 500 without leaking internals.
func Anyhow(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindAnyhow, Message: err.Error(), wrapped: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if !asError(err, &ae) {
		return false
	}
	return ae.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
