package ceremony

import "errors"

// Every verification failure is terminal: the redeemed challenge is already
// burned and the caller must restart from a fresh begin-ceremony request.
var (
	// ErrChallengeInvalid reports a handle that is unknown, expired, or
	// already consumed.
	ErrChallengeInvalid = errors.New("ceremony: challenge invalid")
	// ErrMalformedResponse reports a structurally invalid client response.
	ErrMalformedResponse = errors.New("ceremony: malformed response")
	// ErrChallengeMismatch reports client data signed over a different
	// challenge than the one redeemed.
	ErrChallengeMismatch = errors.New("ceremony: challenge mismatch")
	// ErrOriginMismatch reports client data from an unexpected origin or
	// relying party.
	ErrOriginMismatch = errors.New("ceremony: origin mismatch")
	// ErrTypeMismatch reports a response asserting the wrong ceremony type.
	ErrTypeMismatch = errors.New("ceremony: ceremony type mismatch")
	// ErrUserVerificationRequired reports a response whose authenticator did
	// not perform user verification, or a credential that declined to be
	// discoverable.
	ErrUserVerificationRequired = errors.New("ceremony: user verification required")
	// ErrUnknownCredential reports an assertion from a credential id that was
	// never registered.
	ErrUnknownCredential = errors.New("ceremony: unknown credential")
	// ErrSignatureInvalid reports an assertion signature that failed to
	// verify against the registered public key.
	ErrSignatureInvalid = errors.New("ceremony: invalid signature")
)
