package security

import (
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/oakhost/selfcheckin/internal/config"
)

// NewWebAuthn builds the relying-party configuration for passkey ceremonies.
// Resident keys and user verification are required: the guest authenticates
// without any prior account hint, and the biometric gesture is the first
// check-in factor.
func NewWebAuthn(rp config.RelyingPartyConfig) (*webauthn.WebAuthn, error) {
	requireResidentKey := true
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rp.DisplayName,
		RPID:          rp.ID,
		RPOrigins:     []string{rp.Origin},
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			RequireResidentKey:      &requireResidentKey,
			ResidentKey:             protocol.ResidentKeyRequirementRequired,
			UserVerification:        protocol.VerificationRequired,
		},
		AttestationPreference: protocol.PreferNoAttestation,
	})
	if err != nil {
		return nil, fmt.Errorf("security: new webauthn: %w", err)
	}
	return web, nil
}
