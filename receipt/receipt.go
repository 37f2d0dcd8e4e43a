// Package receipt renders canonical credential-status receipts.
//
// A receipt is a deterministic sectioned text document binding a credential
// digest to its registry, lifecycle state, anchoring source seal, and the
// key set resolved at that anchor. Receipts may be signed by the emitting
// controller; the signature is computed over the receipt bytes excluding
// the Signature line itself.
package receipt

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"xdao.co/keltel/ident"
	"xdao.co/keltel/seal"
	"xdao.co/keltel/tel"
)

const (
	Preamble  = "-----BEGIN KELTEL STATUS-----"
	Postamble = "-----END KELTEL STATUS-----"
)

type Options struct {
	ControllerID string

	// Optional receipt signing. If PrivateKey is set, the CRYPTO section is
	// populated and Signature computed over the receipt bytes excluding the
	// Signature: line.
	SignerKey  string
	PrivateKey ed25519.PrivateKey
}

// Render produces a canonical receipt for a credential's resolved status.
// Sections are always present and ordering is deterministic.
func Render(credential string, registry ident.Prefix, status tel.Status, anchor seal.Source, signingKeys []string, opts Options) []byte {
	controllerID := opts.ControllerID
	if controllerID == "" {
		controllerID = "keltel-controller"
	}

	var sb strings.Builder
	sb.WriteString(Preamble)
	sb.WriteString("\n")

	sb.WriteString("META\n")
	metaLines := []string{
		"Controller-ID: " + controllerID,
		"Spec: keltel-receipt-1",
		"Version: 1",
	}
	sort.Strings(metaLines)
	for _, l := range metaLines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("SUBJECT\n")
	subjectLines := []string{
		"Credential-Digest: " + credential,
		"Registry: " + string(registry),
	}
	sort.Strings(subjectLines)
	for _, l := range subjectLines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("STATUS\n")
	sb.WriteString("State: ")
	sb.WriteString(string(status))
	sb.WriteString("\n\n")

	sb.WriteString("ANCHOR\n")
	anchorLines := []string{
		fmt.Sprintf("Anchor-SN: %d", anchor.SN),
		"Anchor-Digest: " + anchor.Digest,
	}
	sort.Strings(anchorLines)
	for _, l := range anchorLines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("KEYS\n")
	ks := append([]string(nil), signingKeys...)
	sort.Strings(ks)
	for _, k := range ks {
		sb.WriteString("Signing-Key: ")
		sb.WriteString(k)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("CRYPTO\n")
	cryptoLines := []string{}
	if opts.SignerKey != "" {
		cryptoLines = append(cryptoLines,
			"Hash-Alg: sha256",
			"Signature-Alg: ed25519",
			"Signature: 0",
			"Signer-Key: "+opts.SignerKey,
		)
	}
	sort.Strings(cryptoLines)
	for _, l := range cryptoLines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString(Postamble)
	sb.WriteString("\n")
	out := []byte(sb.String())

	if len(opts.PrivateKey) > 0 && opts.SignerKey != "" {
		sig, err := sign(out, opts.PrivateKey)
		if err == nil {
			out = []byte(strings.Replace(string(out), "Signature: 0", "Signature: "+sig, 1))
		}
	}
	return out
}

// VerifySignature verifies a receipt's CRYPTO signature, if present.
//
// Returns (true, nil) if the receipt is signed and the signature verifies.
// Returns (false, nil) if the receipt is not signed (empty CRYPTO section).
// Returns (false, err) for malformed or invalid signatures.
func VerifySignature(receiptBytes []byte) (bool, error) {
	signerKey, hasKey := field(receiptBytes, "Signer-Key")
	sigB64, hasSig := field(receiptBytes, "Signature")
	sigAlg, hasAlg := field(receiptBytes, "Signature-Alg")
	hashAlg, hasHash := field(receiptBytes, "Hash-Alg")

	if !hasKey && !hasSig && !hasAlg && !hasHash {
		return false, nil
	}
	// Partially populated CRYPTO is invalid.
	if !(hasKey && hasSig && hasAlg && hasHash) {
		return false, errors.New("receipt: incomplete signature fields")
	}
	if sigAlg != "ed25519" {
		return false, fmt.Errorf("receipt: unsupported Signature-Alg %q", sigAlg)
	}
	if hashAlg != "sha256" {
		return false, fmt.Errorf("receipt: unsupported Hash-Alg %q", hashAlg)
	}

	pub, err := parseEd25519SignerKey(signerKey)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("receipt: invalid Signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, errors.New("receipt: invalid Signature length")
	}

	scope, err := signatureScope(receiptBytes)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(scope)
	if !ed25519.Verify(pub, digest[:], sig) {
		return false, errors.New("receipt: signature did not verify")
	}
	return true, nil
}

// Field extracts the first value for a "Name: value" line, e.g. "State".
func Field(receiptBytes []byte, name string) (string, bool) {
	return field(receiptBytes, name)
}

func field(receiptBytes []byte, name string) (string, bool) {
	prefix := name + ": "
	for _, l := range strings.Split(string(receiptBytes), "\n") {
		if strings.HasPrefix(l, prefix) {
			return strings.TrimPrefix(l, prefix), true
		}
	}
	return "", false
}

func sign(receiptBytes []byte, privateKey ed25519.PrivateKey) (string, error) {
	scope, err := signatureScope(receiptBytes)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(scope)
	sig := ed25519.Sign(privateKey, digest[:])
	return base64.StdEncoding.EncodeToString(sig), nil
}

func signatureScope(receiptBytes []byte) ([]byte, error) {
	lines := strings.Split(string(receiptBytes), "\n")
	var out []string
	removed := false
	for _, l := range lines {
		if strings.HasPrefix(l, "Signature: ") {
			if removed {
				return nil, errors.New("receipt: multiple Signature lines")
			}
			removed = true
			continue
		}
		out = append(out, l)
	}
	if !removed {
		return nil, errors.New("receipt: missing Signature line")
	}
	return []byte(strings.Join(out, "\n")), nil
}

func parseEd25519SignerKey(s string) (ed25519.PublicKey, error) {
	const prefix = "ed25519:"
	if !strings.HasPrefix(s, prefix) {
		return nil, fmt.Errorf("receipt: unsupported Signer-Key %q", s)
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, prefix))
	if err != nil {
		return nil, fmt.Errorf("receipt: invalid Signer-Key encoding: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.New("receipt: invalid Signer-Key length")
	}
	return ed25519.PublicKey(b), nil
}
