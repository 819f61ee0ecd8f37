// Package webauthntest fabricates authenticator responses for exercising the
// ceremony verifier without a browser: a software P-256 key plays the role of
// a platform authenticator with user verification.
package webauthntest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Authenticator flag bits.
const (
	flagUserPresent      = 0x01
	flagUserVerified     = 0x04
	flagAttestedIncluded = 0x40
)

// Authenticator simulates one registered passkey device.
type Authenticator struct {
	key          *ecdsa.PrivateKey
	CredentialID []byte
	RPID         string
	Origin       string
	UserHandle   []byte
	Counter      uint32

	// SkipUserVerification drops the UV flag to fabricate responses from a
	// device that never performed the biometric gesture.
	SkipUserVerification bool

	// CeremonyTypeOverride replaces the client data type field, for
	// fabricating responses that assert the wrong ceremony.
	CeremonyTypeOverride string
}

// New creates an authenticator for the given relying party.
func New(rpID, origin string, userHandle []byte) (*Authenticator, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("webauthntest: generate key: %w", err)
	}
	credentialID := make([]byte, 32)
	if _, err := rand.Read(credentialID); err != nil {
		return nil, fmt.Errorf("webauthntest: generate credential id: %w", err)
	}
	return &Authenticator{
		key:          key,
		CredentialID: credentialID,
		RPID:         rpID,
		Origin:       origin,
		UserHandle:   userHandle,
	}, nil
}

// CredentialIDString returns the credential id the way registries store it.
func (a *Authenticator) CredentialIDString() string {
	return base64.RawURLEncoding.EncodeToString(a.CredentialID)
}

// coseKey mirrors the COSE EC2 key layout (RFC 9053) with integer map keys.
type coseKey struct {
	KeyType   int64  `cbor:"1,keyasint"`
	Algorithm int64  `cbor:"3,keyasint"`
	Curve     int64  `cbor:"-1,keyasint"`
	X         []byte `cbor:"-2,keyasint"`
	Y         []byte `cbor:"-3,keyasint"`
}

// PublicKeyCOSE returns the credential public key in COSE form.
func (a *Authenticator) PublicKeyCOSE() ([]byte, error) {
	encoded, err := cbor.Marshal(coseKey{
		KeyType:   2,  // EC2
		Algorithm: -7, // ES256
		Curve:     1,  // P-256
		X:         padCoord(a.key.PublicKey.X.Bytes()),
		Y:         padCoord(a.key.PublicKey.Y.Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("webauthntest: encode cose key: %w", err)
	}
	return encoded, nil
}

func padCoord(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func (a *Authenticator) flags(attested bool) byte {
	f := byte(flagUserPresent)
	if !a.SkipUserVerification {
		f |= flagUserVerified
	}
	if attested {
		f |= flagAttestedIncluded
	}
	return f
}

func (a *Authenticator) authenticatorData(attested bool) ([]byte, error) {
	rpIDHash := sha256.Sum256([]byte(a.RPID))

	data := make([]byte, 0, 37)
	data = append(data, rpIDHash[:]...)
	data = append(data, a.flags(attested))
	counter := make([]byte, 4)
	binary.BigEndian.PutUint32(counter, a.Counter)
	data = append(data, counter...)

	if attested {
		aaguid := make([]byte, 16)
		data = append(data, aaguid...)
		idLen := make([]byte, 2)
		binary.BigEndian.PutUint16(idLen, uint16(len(a.CredentialID)))
		data = append(data, idLen...)
		data = append(data, a.CredentialID...)
		coseBytes, err := a.PublicKeyCOSE()
		if err != nil {
			return nil, err
		}
		data = append(data, coseBytes...)
	}
	return data, nil
}

func (a *Authenticator) clientDataJSON(ceremonyType, challenge string) []byte {
	if a.CeremonyTypeOverride != "" {
		ceremonyType = a.CeremonyTypeOverride
	}
	payload, _ := json.Marshal(map[string]any{
		"type":      ceremonyType,
		"challenge": challenge,
		"origin":    a.Origin,
	})
	return payload
}

// attestationObject mirrors the WebAuthn attestation object CBOR layout.
type attestationObject struct {
	AuthData []byte         `cbor:"authData"`
	Format   string         `cbor:"fmt"`
	AttStmt  map[string]any `cbor:"attStmt"`
}

// RegistrationResponse fabricates a creation response bound to challenge, in
// the JSON shape browsers hand back from navigator.credentials.create.
func (a *Authenticator) RegistrationResponse(challenge string) ([]byte, error) {
	authData, err := a.authenticatorData(true)
	if err != nil {
		return nil, err
	}
	attObj, err := cbor.Marshal(attestationObject{
		AuthData: authData,
		Format:   "none",
		AttStmt:  map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("webauthntest: encode attestation object: %w", err)
	}

	body := map[string]any{
		"id":    base64.RawURLEncoding.EncodeToString(a.CredentialID),
		"rawId": base64.RawURLEncoding.EncodeToString(a.CredentialID),
		"type":  "public-key",
		"clientExtensionResults": map[string]any{
			"credProps": map[string]any{"rk": true},
		},
		"response": map[string]any{
			"clientDataJSON":    base64.RawURLEncoding.EncodeToString(a.clientDataJSON("webauthn.create", challenge)),
			"attestationObject": base64.RawURLEncoding.EncodeToString(attObj),
			"transports":        []string{"internal"},
		},
	}
	return json.Marshal(body)
}

// AssertionResponse fabricates an assertion bound to challenge, signed with
// the credential key over authenticatorData || SHA-256(clientDataJSON).
func (a *Authenticator) AssertionResponse(challenge string) ([]byte, error) {
	authData, err := a.authenticatorData(false)
	if err != nil {
		return nil, err
	}
	clientData := a.clientDataJSON("webauthn.get", challenge)
	clientDataHash := sha256.Sum256(clientData)

	signed := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signed)
	signature, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("webauthntest: sign assertion: %w", err)
	}

	body := map[string]any{
		"id":    base64.RawURLEncoding.EncodeToString(a.CredentialID),
		"rawId": base64.RawURLEncoding.EncodeToString(a.CredentialID),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    base64.RawURLEncoding.EncodeToString(clientData),
			"authenticatorData": base64.RawURLEncoding.EncodeToString(authData),
			"signature":         base64.RawURLEncoding.EncodeToString(signature),
			"userHandle":        base64.RawURLEncoding.EncodeToString(a.UserHandle),
		},
	}
	return json.Marshal(body)
}

// creationOptions is the subset of the credential creation options needed to
// pull out the issued challenge.
type creationOptions struct {
	PublicKey struct {
		Challenge string `json:"challenge"`
	} `json:"publicKey"`
}

// ChallengeFromOptions extracts the base64url challenge string from begin-
// ceremony options JSON. Works for both creation and request options.
func ChallengeFromOptions(optionsJSON []byte) (string, error) {
	var opts creationOptions
	if err := json.Unmarshal(optionsJSON, &opts); err != nil {
		return "", fmt.Errorf("webauthntest: parse options: %w", err)
	}
	if opts.PublicKey.Challenge == "" {
		return "", fmt.Errorf("webauthntest: options carry no challenge")
	}
	return opts.PublicKey.Challenge, nil
}
