// Package signature authenticates operator requests. Every operator request
// carries a Signature-Data header
//
//	base64(DER(signature)):nonce:base64(DER(public key))
//
// with an ECDSA P-256 signature over "url:body:nonce", or "url:nonce" for
// requests without a body.
package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
)

const HeaderName = "Signature-Data"

type ErrorKind int

const (
	MissingHeader ErrorKind = iota + 1
	Malformed
	BadSignatureEncoding
	BadNonce
	BadPublicKey
	InvalidSignature
	UnknownKey
)

var subtypes = map[ErrorKind]string{
	MissingHeader:        "missing_signature_header",
	Malformed:            "malformed_signature_header",
	BadSignatureEncoding: "bad_signature_encoding",
	BadNonce:             "bad_nonce",
	BadPublicKey:         "bad_public_key",
	InvalidSignature:     "invalid_signature",
	UnknownKey:           "unknown_public_key",
}

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Subtype(), e.Err)
	}
	return e.Subtype()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Subtype() string { return subtypes[e.Kind] }

func (e *Error) Code() uint16 { return 2000 + uint16(e.Kind) }

func (e *Error) Status() int {
	if e.Kind == UnknownKey {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

// Header is a parsed Signature-Data header.
type Header struct {
	Signature []byte
	Nonce     uint64
	PublicKey *ecdsa.PublicKey
	// base64 of the DER public key as sent, the operator identity
	KeyID string
}

// ParseHeader splits and decodes the header value.
func ParseHeader(value string) (*Header, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, &Error{Kind: MissingHeader}
	}
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return nil, &Error{Kind: Malformed, Err: fmt.Errorf("expected 3 fields, got %d", len(parts))}
	}
	sig, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(sig) == 0 {
		return nil, &Error{Kind: BadSignatureEncoding, Err: err}
	}
	nonce, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return nil, &Error{Kind: BadNonce, Err: err}
	}
	der, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, &Error{Kind: BadPublicKey, Err: err}
	}
	pub, err := parsePublicKeyDER(der)
	if err != nil {
		return nil, &Error{Kind: BadPublicKey, Err: err}
	}
	return &Header{Signature: sig, Nonce: nonce, PublicKey: pub, KeyID: parts[2]}, nil
}

// Message is the signed payload.
func Message(url string, body []byte, nonce uint64) []byte {
	n := strconv.FormatUint(nonce, 10)
	if len(body) == 0 {
		return []byte(url + ":" + n)
	}
	msg := make([]byte, 0, len(url)+len(body)+len(n)+2)
	msg = append(msg, url...)
	msg = append(msg, ':')
	msg = append(msg, body...)
	msg = append(msg, ':')
	msg = append(msg, n...)
	return msg
}

// Verify checks the header signature against the url and body.
func Verify(h *Header, url string, body []byte) error {
	digest := sha256.Sum256(Message(url, body, h.Nonce))
	if !ecdsa.VerifyASN1(h.PublicKey, digest[:], h.Signature) {
		return &Error{Kind: InvalidSignature}
	}
	return nil
}

// Sign produces a Signature-Data header value.
func Sign(priv *ecdsa.PrivateKey, url string, body []byte, nonce uint64) (string, error) {
	digest := sha256.Sum256(Message(url, body, nonce))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", err
	}
	keyID, err := KeyID(&priv.PublicKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig) + ":" + strconv.FormatUint(nonce, 10) + ":" + keyID, nil
}

// KeyID is the base64 DER encoding of the key, as it appears in headers and
// in recorded decisions.
func KeyID(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Gate holds the trusted operator keys.
type Gate struct {
	trusted map[string]*ecdsa.PublicKey
}

func NewGate(keys []*ecdsa.PublicKey) (*Gate, error) {
	g := &Gate{trusted: make(map[string]*ecdsa.PublicKey, len(keys))}
	for _, k := range keys {
		id, err := KeyID(k)
		if err != nil {
			return nil, err
		}
		g.trusted[id] = k
	}
	return g, nil
}

// LoadGate reads the trusted set from PEM public key files.
func LoadGate(paths []string) (*Gate, error) {
	keys := make([]*ecdsa.PublicKey, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read operator key %s: %w", p, err)
		}
		k, err := ParsePublicKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("operator key %s: %w", p, err)
		}
		keys = append(keys, k)
	}
	return NewGate(keys)
}

func (g *Gate) Len() int { return len(g.trusted) }

// Keys lists the trusted key ids in a stable order.
func (g *Gate) Keys() []string {
	out := make([]string, 0, len(g.trusted))
	for id := range g.trusted {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Check parses and verifies the header value for a request to url, then
// requires the key to be trusted.
func (g *Gate) Check(value, url string, body []byte) (*Header, error) {
	h, err := ParseHeader(value)
	if err != nil {
		return nil, err
	}
	if err := Verify(h, url, body); err != nil {
		return nil, err
	}
	id, err := KeyID(h.PublicKey)
	if err != nil {
		return nil, &Error{Kind: BadPublicKey, Err: err}
	}
	if _, ok := g.trusted[id]; !ok {
		return nil, &Error{Kind: UnknownKey}
	}
	h.KeyID = id
	return h, nil
}

func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func parsePublicKeyDER(der []byte) (*ecdsa.PublicKey, error) {
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := k.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, errors.New("not a P-256 public key")
	}
	return pub, nil
}

func ParsePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	return parsePublicKeyDER(block.Bytes)
}

func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	if k, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := k.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an ECDSA private key")
	}
	return priv, nil
}

func EncodePublicKeyPEM(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func EncodePrivateKeyPEM(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
