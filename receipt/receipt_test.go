package receipt

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"

	"xdao.co/keltel/seal"
	"xdao.co/keltel/tel"
)

func testKeypair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{4}, ed25519.SeedSize))
	pub := priv.Public().(ed25519.PublicKey)
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub), priv
}

func render(t *testing.T, opts Options) []byte {
	t.Helper()
	return Render(
		"bafy-credential",
		"ed25519-registry-issuer",
		tel.StatusIssued,
		seal.Source{SN: 3, Digest: "bafy-ixn"},
		[]string{"ed25519:a2V5LW9uZQ=="},
		opts,
	)
}

func TestRenderDeterministic(t *testing.T) {
	a := render(t, Options{ControllerID: "test-controller"})
	b := render(t, Options{ControllerID: "test-controller"})
	if !bytes.Equal(a, b) {
		t.Fatalf("identical inputs rendered different receipts")
	}
	if !strings.HasPrefix(string(a), Preamble) || !strings.Contains(string(a), Postamble) {
		t.Fatalf("receipt missing framing")
	}
	if got, ok := Field(a, "State"); !ok || got != string(tel.StatusIssued) {
		t.Fatalf("State field: got %q ok=%v", got, ok)
	}
	if got, ok := Field(a, "Anchor-SN"); !ok || got != "3" {
		t.Fatalf("Anchor-SN field: got %q ok=%v", got, ok)
	}
}

func TestUnsignedReceipt(t *testing.T) {
	b := render(t, Options{})
	signed, err := VerifySignature(b)
	if err != nil {
		t.Fatalf("VerifySignature(unsigned): %v", err)
	}
	if signed {
		t.Fatalf("unsigned receipt reported as signed")
	}
}

func TestSignedReceiptVerifies(t *testing.T) {
	signerKey, priv := testKeypair(t)
	b := render(t, Options{SignerKey: signerKey, PrivateKey: priv})

	signed, err := VerifySignature(b)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !signed {
		t.Fatalf("signed receipt reported as unsigned")
	}
}

func TestTamperedReceiptRejected(t *testing.T) {
	signerKey, priv := testKeypair(t)
	b := render(t, Options{SignerKey: signerKey, PrivateKey: priv})

	tampered := bytes.Replace(b, []byte("State: "+string(tel.StatusIssued)), []byte("State: "+string(tel.StatusRevoked)), 1)
	if _, err := VerifySignature(tampered); err == nil {
		t.Fatalf("tampered receipt still verified")
	}
}

func TestIncompleteCryptoRejected(t *testing.T) {
	signerKey, priv := testKeypair(t)
	b := render(t, Options{SignerKey: signerKey, PrivateKey: priv})

	// Drop the Signer-Key line; a partially populated CRYPTO section must
	// not verify as unsigned.
	var out []string
	for _, l := range strings.Split(string(b), "\n") {
		if strings.HasPrefix(l, "Signer-Key: ") {
			continue
		}
		out = append(out, l)
	}
	if _, err := VerifySignature([]byte(strings.Join(out, "\n"))); err == nil {
		t.Fatalf("incomplete CRYPTO section accepted")
	}
}
