// Package ceremony runs the WebAuthn registration and authentication
// ceremonies for reservation passkeys: begin issues options backed by a
// one-time challenge, finish verifies the signed client response step by step
// so every rejection maps to a distinct cause.
package ceremony

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/oakhost/selfcheckin/internal/challenge"
	"github.com/oakhost/selfcheckin/internal/config"
	"github.com/oakhost/selfcheckin/internal/models"
	"github.com/oakhost/selfcheckin/internal/registry"
	log "github.com/sirupsen/logrus"
)

// Verifier validates ceremony responses against stored challenges and
// registered credentials.
type Verifier struct {
	web      *webauthn.WebAuthn
	sessions *challenge.Store
	creds    *registry.Registry
	rp       config.RelyingPartyConfig
}

// NewVerifier constructs a Verifier.
func NewVerifier(web *webauthn.WebAuthn, sessions *challenge.Store, creds *registry.Registry, rp config.RelyingPartyConfig) *Verifier {
	return &Verifier{web: web, sessions: sessions, creds: creds, rp: rp}
}

// guestUser adapts a reservation to the webauthn user model. The reservation
// id is the user handle, which is how discoverable logins find their way back
// to the reservation.
type guestUser struct {
	id   string
	name string
}

func (u guestUser) WebAuthnID() []byte { return []byte(u.id) }

func (u guestUser) WebAuthnName() string {
	if u.name != "" {
		return u.name
	}
	return u.id
}

func (u guestUser) WebAuthnDisplayName() string { return u.WebAuthnName() }

func (u guestUser) WebAuthnIcon() string { return "" }

func (u guestUser) WebAuthnCredentials() []webauthn.Credential { return nil }

// BeginRegistration issues creation options for binding a passkey to a
// reservation. Fails with registry.ErrAlreadyBound when the reservation
// already owns a credential.
func (v *Verifier) BeginRegistration(ctx context.Context, reservationID, guestName string) (*protocol.CredentialCreation, string, error) {
	if _, err := v.creds.FindByReservation(ctx, reservationID); err == nil {
		return nil, "", registry.ErrAlreadyBound
	} else if !errors.Is(err, registry.ErrNotFound) {
		return nil, "", err
	}

	user := guestUser{id: reservationID, name: guestName}
	creation, session, err := v.web.BeginRegistration(user,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	)
	if err != nil {
		return nil, "", fmt.Errorf("ceremony: begin registration: %w", err)
	}

	handle, err := v.sessions.Issue(ctx, models.CeremonyRegistration, reservationID, session)
	if err != nil {
		return nil, "", err
	}
	return creation, handle, nil
}

// FinishRegistration verifies a registration response and hands the new
// credential to the registry. Any failure after redemption leaves the
// challenge burned; nothing is persisted on a failed ceremony.
func (v *Verifier) FinishRegistration(ctx context.Context, handle string, response []byte) (string, error) {
	session, reservationID, err := v.sessions.Redeem(ctx, handle, models.CeremonyRegistration)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChallengeInvalid, err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	client := parsed.Response.CollectedClientData
	if client.Type != protocol.CreateCeremony {
		return "", ErrTypeMismatch
	}
	if err := v.checkClientData(client, session); err != nil {
		return "", err
	}

	authData := parsed.Response.AttestationObject.AuthData
	if !authData.Flags.HasAttestedCredentialData() {
		return "", ErrMalformedResponse
	}
	if err := v.checkRPIDHash(authData.RPIDHash); err != nil {
		return "", err
	}
	if !authData.Flags.UserVerified() {
		return "", ErrUserVerificationRequired
	}
	if residentKeyDeclined(parsed.ClientExtensionResults) {
		return "", ErrUserVerificationRequired
	}

	publicKey := authData.AttData.CredentialPublicKey
	if _, err := webauthncose.ParsePublicKey(publicKey); err != nil {
		return "", fmt.Errorf("%w: parse public key: %v", ErrMalformedResponse, err)
	}

	credentialID := base64.RawURLEncoding.EncodeToString(authData.AttData.CredentialID)
	transports := make([]string, 0, len(parsed.Response.Transports))
	for _, transport := range parsed.Response.Transports {
		transports = append(transports, string(transport))
	}

	if err := v.creds.Register(ctx, reservationID, credentialID, publicKey, authData.Counter, transports, authData.Flags.HasBackupEligible(), authData.Flags.HasBackupState()); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{"reservation": reservationID, "credential": credentialID}).Info("passkey registered")
	return credentialID, nil
}

// BeginAuthentication issues discoverable assertion options. The client
// supplies no reservation id; the authenticator picks the credential.
func (v *Verifier) BeginAuthentication(ctx context.Context) (*protocol.CredentialAssertion, string, error) {
	assertion, session, err := v.web.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("ceremony: begin authentication: %w", err)
	}

	handle, err := v.sessions.Issue(ctx, models.CeremonyAuthentication, "", session)
	if err != nil {
		return nil, "", err
	}
	return assertion, handle, nil
}

// FinishAuthentication verifies an assertion and returns the reservation id
// owning the credential. Signature, counter, and credential-resolution
// failures are security-significant and logged as such.
func (v *Verifier) FinishAuthentication(ctx context.Context, handle string, response []byte) (string, error) {
	session, _, err := v.sessions.Redeem(ctx, handle, models.CeremonyAuthentication)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChallengeInvalid, err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	credentialID := base64.RawURLEncoding.EncodeToString(parsed.RawID)
	cred, err := v.creds.FindByCredentialID(ctx, credentialID)
	if errors.Is(err, registry.ErrNotFound) {
		log.WithField("credential", credentialID).Warn("assertion from unregistered credential")
		return "", ErrUnknownCredential
	}
	if err != nil {
		return "", err
	}

	client := parsed.Response.CollectedClientData
	if client.Type != protocol.AssertCeremony {
		return "", ErrTypeMismatch
	}
	if err := v.checkClientData(client, session); err != nil {
		return "", err
	}

	authData := parsed.Response.AuthenticatorData
	if err := v.checkRPIDHash(authData.RPIDHash); err != nil {
		return "", err
	}
	if !authData.Flags.UserVerified() {
		return "", ErrUserVerificationRequired
	}

	// Resident credentials report the user handle they were minted with; a
	// handle pointing at a different reservation is not acceptable even with
	// a valid signature.
	if len(parsed.Response.UserHandle) > 0 && string(parsed.Response.UserHandle) != cred.ReservationID {
		log.WithField("credential", credentialID).Warn("assertion user handle does not match credential owner")
		return "", ErrUnknownCredential
	}

	clientDataHash := sha256.Sum256(parsed.Raw.AssertionResponse.ClientDataJSON)
	signedData := append([]byte{}, parsed.Raw.AssertionResponse.AuthenticatorData...)
	signedData = append(signedData, clientDataHash[:]...)

	key, err := webauthncose.ParsePublicKey(cred.PublicKey)
	if err != nil {
		return "", fmt.Errorf("ceremony: parse stored public key: %w", err)
	}
	valid, err := webauthncose.VerifySignature(key, signedData, parsed.Response.Signature)
	if err != nil || !valid {
		log.WithField("credential", credentialID).Warn("assertion signature verification failed")
		return "", ErrSignatureInvalid
	}

	if err := v.creds.UpdateCounter(ctx, credentialID, authData.Counter); err != nil {
		if errors.Is(err, registry.ErrCounterRegression) {
			log.WithFields(log.Fields{"credential": credentialID, "counter": authData.Counter}).Warn("signature counter regression, possible cloned credential")
		}
		return "", err
	}

	return cred.ReservationID, nil
}

// checkClientData verifies the challenge and origin carried in the signed
// client data against the redeemed session and the configured relying party.
func (v *Verifier) checkClientData(client protocol.CollectedClientData, session *webauthn.SessionData) error {
	if client.Challenge != session.Challenge {
		return ErrChallengeMismatch
	}
	if client.Origin != v.rp.Origin {
		return ErrOriginMismatch
	}
	return nil
}

// checkRPIDHash verifies the authenticator bound the response to our relying
// party id.
func (v *Verifier) checkRPIDHash(got []byte) error {
	want := sha256.Sum256([]byte(v.rp.ID))
	if !bytes.Equal(got, want[:]) {
		return ErrOriginMismatch
	}
	return nil
}

// residentKeyDeclined reports whether the client's credProps extension output
// explicitly denies discoverable storage. Absence of the extension is not a
// failure; responses carry no authoritative resident-key bit.
func residentKeyDeclined(outputs protocol.AuthenticationExtensionsClientOutputs) bool {
	raw, ok := outputs["credProps"]
	if !ok {
		return false
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	rk, ok := props["rk"].(bool)
	return ok && !rk
}
