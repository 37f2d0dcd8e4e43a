package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"xdao.co/keltel/controller"
	"xdao.co/keltel/ident"
	"xdao.co/keltel/keys"
	"xdao.co/keltel/receipt"
	"xdao.co/keltel/said"
	"xdao.co/keltel/seal"
	"xdao.co/keltel/tel"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "init":
		return cmdInit(args[1:], out, errOut)
	case "issue":
		return cmdIssue(args[1:], out, errOut)
	case "revoke":
		return cmdRevoke(args[1:], out, errOut)
	case "rotate-keys":
		return cmdRotateKeys(args[1:], out, errOut)
	case "update-backers":
		return cmdUpdateBackers(args[1:], out, errOut)
	case "status":
		return cmdStatus(args[1:], out, errOut)
	case "log":
		return cmdLog(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "credential-digest":
		return cmdCredentialDigest(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "keltel: credential issuance controller over anchored event logs")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  keltel init --kel-root <dir> --tel-root <dir> (--seed-hex <64hex> | --key-file <path>) [--key-alg ed25519|dilithium3] [--alg blake3-256|sha2-256|sha3-256] [--backer <prefix> ...] [--backer-threshold <n>]")
	fmt.Fprintln(w, "  keltel issue --kel-root <dir> --tel-root <dir> (--seed-hex | --key-file) <file>")
	fmt.Fprintln(w, "  keltel revoke --kel-root <dir> --tel-root <dir> (--seed-hex | --key-file) <file>")
	fmt.Fprintln(w, "  keltel rotate-keys --kel-root <dir> --tel-root <dir> (--seed-hex | --key-file)")
	fmt.Fprintln(w, "  keltel update-backers --kel-root <dir> --tel-root <dir> (--seed-hex | --key-file) [--add <prefix> ...] [--remove <prefix> ...]")
	fmt.Fprintln(w, "  keltel status --kel-root <dir> --tel-root <dir> (--credential <digest> | <file>) [--receipt] [--receipt-seed-hex <64hex>]")
	fmt.Fprintln(w, "  keltel log --kel-root <dir> --tel-root <dir> (--credential <digest> | <file>)")
	fmt.Fprintln(w, "  keltel verify --kel-root <dir> --tel-root <dir> --signature <b64> <file>")
	fmt.Fprintln(w, "  keltel credential-digest [--alg <alg>] <file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - --seed-hex must be 32 bytes (64 hex chars); --key-file holds the same hex")
	fmt.Fprintln(w, "  - the seed is the key manager root: all rotations derive from it, so the")
	fmt.Fprintln(w, "    same seed re-opens a log after any number of rotations")
	fmt.Fprintln(w, "  - issue prints the message signature (base64) to stdout and the")
	fmt.Fprintln(w, "    credential digest to stderr")
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type storeFlags struct {
	kelRoot string
	telRoot string
	alg     string
}

func (f *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.kelRoot, "kel-root", "", "Key event log storage root")
	fs.StringVar(&f.telRoot, "tel-root", "", "Transaction event log storage root")
	fs.StringVar(&f.alg, "alg", string(said.Blake3), "Digest algorithm for event identifiers")
}

func (f *storeFlags) validate(errOut io.Writer) bool {
	if f.kelRoot == "" {
		fmt.Fprintln(errOut, "missing --kel-root")
		return false
	}
	if f.telRoot == "" {
		fmt.Fprintln(errOut, "missing --tel-root")
		return false
	}
	return true
}

type keyFlags struct {
	seedHex string
	keyFile string
	keyAlg  string
}

func (f *keyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.seedHex, "seed-hex", "", "Key manager root seed as 64 hex chars")
	fs.StringVar(&f.keyFile, "key-file", "", "Path to a file holding the root seed hex")
	fs.StringVar(&f.keyAlg, "key-alg", keys.AlgEd25519, "Signing algorithm: ed25519 or dilithium3")
}

func (f *keyFlags) manager(errOut io.Writer) keys.Manager {
	if f.seedHex == "" && f.keyFile == "" {
		fmt.Fprintln(errOut, "missing signer: use --seed-hex or --key-file")
		return nil
	}
	if f.seedHex != "" && f.keyFile != "" {
		fmt.Fprintln(errOut, "conflicting signer flags: --seed-hex cannot be combined with --key-file")
		return nil
	}
	seedHex := f.seedHex
	if f.keyFile != "" {
		b, err := os.ReadFile(f.keyFile)
		if err != nil {
			fmt.Fprintf(errOut, "read --key-file: %v\n", err)
			return nil
		}
		seedHex = strings.TrimSpace(string(b))
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != 32 {
		fmt.Fprintln(errOut, "invalid seed: expected 32 bytes as 64 hex chars")
		return nil
	}

	var km keys.Manager
	switch f.keyAlg {
	case keys.AlgEd25519:
		km, err = keys.NewEd25519ManagerFromSeed(seed)
	case keys.AlgDilithium3:
		km, err = keys.NewDilithium3ManagerFromSeed(seed)
	default:
		fmt.Fprintf(errOut, "invalid --key-alg: %q\n", f.keyAlg)
		return nil
	}
	if err != nil {
		fmt.Fprintf(errOut, "key manager: %v\n", err)
		return nil
	}
	return km
}

// alignManager rotates a freshly derived manager forward until its current
// key set matches the log's. Seed-chained managers always restart at
// generation zero, so reopening a rotated log needs this catch-up.
func alignManager(c *controller.Controller, km keys.Manager) error {
	state, err := c.KELState()
	if err != nil {
		return err
	}
	const maxGenerations = 1 << 16
	for i := 0; i < maxGenerations; i++ {
		if sameKeySets(km.Keys(), state.Keys) {
			return nil
		}
		if err := km.Rotate(); err != nil {
			return err
		}
	}
	return errors.New("seed does not control this log")
}

func sameKeySets(a, b []keys.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].String() != b[i].String() {
			return false
		}
	}
	return true
}

// openAligned opens the controller and catches the manager up to the log's
// current key generation.
func openAligned(sf *storeFlags, kf *keyFlags, errOut io.Writer) (*controller.Controller, keys.Manager) {
	km := kf.manager(errOut)
	if km == nil {
		return nil, nil
	}
	c, err := controller.Open(sf.kelRoot, sf.telRoot, said.Alg(sf.alg))
	if err != nil {
		fmt.Fprintf(errOut, "open: %v\n", err)
		return nil, nil
	}
	if err := alignManager(c, km); err != nil {
		fmt.Fprintf(errOut, "key manager: %v\n", err)
		return nil, nil
	}
	return c, km
}

func cmdInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var kf keyFlags
	var backers stringList
	var backerThreshold uint64
	sf.register(fs)
	kf.register(fs)
	fs.Var(&backers, "backer", "Backer prefix (repeatable; omit for a no-backers registry)")
	fs.Uint64Var(&backerThreshold, "backer-threshold", 0, "Backer threshold")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.validate(errOut) {
		return 2
	}
	km := kf.manager(errOut)
	if km == nil {
		return 2
	}

	var backerPrefixes []ident.Prefix
	for _, b := range backers {
		backerPrefixes = append(backerPrefixes, ident.Prefix(b))
	}

	c, err := controller.Init(sf.kelRoot, sf.telRoot, said.Alg(sf.alg), km, backerPrefixes, backerThreshold)
	if err != nil {
		fmt.Fprintf(errOut, "init: %v\n", err)
		return 1
	}
	reg, err := c.RegistryState()
	if err != nil {
		fmt.Fprintf(errOut, "registry state: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Registry: %s\n", reg.Registry)
	fmt.Fprintf(out, "Issuer: %s\n", reg.Issuer)
	return 0
}

func cmdIssue(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var kf keyFlags
	sf.register(fs)
	kf.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.validate(errOut) {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: keltel issue [flags] <file>")
		return 2
	}
	message, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read message: %v\n", err)
		return 1
	}

	c, km := openAligned(&sf, &kf, errOut)
	if c == nil {
		return 1
	}
	sig, err := c.Issue(message, km)
	if err != nil {
		fmt.Fprintf(errOut, "issue: %v\n", err)
		return 1
	}
	credential, err := c.DigestAlg().SumString(message)
	if err != nil {
		fmt.Fprintf(errOut, "digest: %v\n", err)
		return 1
	}
	fmt.Fprintf(errOut, "Credential-Digest: %s\n", credential)
	_, _ = fmt.Fprintln(out, base64.StdEncoding.EncodeToString(sig))
	return 0
}

func cmdRevoke(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var kf keyFlags
	sf.register(fs)
	kf.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.validate(errOut) {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: keltel revoke [flags] <file>")
		return 2
	}
	message, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read message: %v\n", err)
		return 1
	}

	c, km := openAligned(&sf, &kf, errOut)
	if c == nil {
		return 1
	}
	if err := c.Revoke(message, km); err != nil {
		fmt.Fprintf(errOut, "revoke: %v\n", err)
		return 1
	}
	credential, err := c.DigestAlg().SumString(message)
	if err != nil {
		fmt.Fprintf(errOut, "digest: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Revoked: %s\n", credential)
	return 0
}

func cmdRotateKeys(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("rotate-keys", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var kf keyFlags
	sf.register(fs)
	kf.register(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.validate(errOut) {
		return 2
	}

	c, km := openAligned(&sf, &kf, errOut)
	if c == nil {
		return 1
	}
	if err := km.Rotate(); err != nil {
		fmt.Fprintf(errOut, "rotate: %v\n", err)
		return 1
	}
	if err := c.RotateKeys(km); err != nil {
		fmt.Fprintf(errOut, "rotate: %v\n", err)
		return 1
	}
	for _, k := range km.Keys() {
		fmt.Fprintf(out, "Signing-Key: %s\n", k.String())
	}
	return 0
}

func cmdUpdateBackers(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("update-backers", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var kf keyFlags
	var add stringList
	var remove stringList
	sf.register(fs)
	kf.register(fs)
	fs.Var(&add, "add", "Backer prefix to add (repeatable)")
	fs.Var(&remove, "remove", "Backer prefix to remove (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.validate(errOut) {
		return 2
	}
	if len(add) == 0 && len(remove) == 0 {
		fmt.Fprintln(errOut, "nothing to do: provide --add and/or --remove")
		return 2
	}

	c, km := openAligned(&sf, &kf, errOut)
	if c == nil {
		return 1
	}
	if err := c.UpdateBackers(toPrefixes(add), toPrefixes(remove), km); err != nil {
		fmt.Fprintf(errOut, "update-backers: %v\n", err)
		return 1
	}
	reg, err := c.RegistryState()
	if err != nil {
		fmt.Fprintf(errOut, "registry state: %v\n", err)
		return 1
	}
	for _, b := range reg.Backers {
		fmt.Fprintf(out, "Backer: %s\n", b)
	}
	return 0
}

func toPrefixes(ss []string) []ident.Prefix {
	var out []ident.Prefix
	for _, s := range ss {
		out = append(out, ident.Prefix(s))
	}
	return out
}

// resolveCredential takes the digest from --credential or derives it from a
// message file positional argument.
func resolveCredential(c *controller.Controller, credential string, fs *flag.FlagSet, errOut io.Writer) (string, bool) {
	if credential != "" {
		if fs.NArg() != 0 {
			fmt.Fprintln(errOut, "provide either --credential or a message file, not both")
			return "", false
		}
		return credential, true
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "provide --credential <digest> or a message file")
		return "", false
	}
	message, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read message: %v\n", err)
		return "", false
	}
	digest, err := c.DigestAlg().SumString(message)
	if err != nil {
		fmt.Fprintf(errOut, "digest: %v\n", err)
		return "", false
	}
	return digest, true
}

func cmdStatus(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var credential string
	var asReceipt bool
	var receiptSeedHex string
	var controllerID string
	sf.register(fs)
	fs.StringVar(&credential, "credential", "", "Credential digest")
	fs.BoolVar(&asReceipt, "receipt", false, "Emit a canonical status receipt")
	fs.StringVar(&receiptSeedHex, "receipt-seed-hex", "", "Sign the receipt with this ed25519 seed (64 hex chars)")
	fs.StringVar(&controllerID, "controller-id", "", "Controller-ID recorded in the receipt")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.validate(errOut) {
		return 2
	}

	c, err := controller.Open(sf.kelRoot, sf.telRoot, said.Alg(sf.alg))
	if err != nil {
		fmt.Fprintf(errOut, "open: %v\n", err)
		return 1
	}
	digest, ok := resolveCredential(c, credential, fs, errOut)
	if !ok {
		return 2
	}

	state, err := c.VCState(digest)
	if err != nil {
		fmt.Fprintf(errOut, "status: %v\n", err)
		return 1
	}

	if !asReceipt {
		fmt.Fprintf(out, "Credential-Digest: %s\n", digest)
		fmt.Fprintf(out, "State: %s\n", state.Status)
		return 0
	}

	reg, err := c.RegistryState()
	if err != nil {
		fmt.Fprintf(errOut, "registry state: %v\n", err)
		return 1
	}
	log, err := c.TEL(digest)
	if err != nil {
		fmt.Fprintf(errOut, "log: %v\n", err)
		return 1
	}
	opts := receipt.Options{ControllerID: controllerID}
	if receiptSeedHex != "" {
		seed, derr := hex.DecodeString(receiptSeedHex)
		if derr != nil || len(seed) != ed25519.SeedSize {
			fmt.Fprintln(errOut, "invalid --receipt-seed-hex: expected 32 bytes as 64 hex chars")
			return 2
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		opts.SignerKey = "ed25519:" + base64.StdEncoding.EncodeToString(pub)
		opts.PrivateKey = priv
	}

	var signingKeys []string
	if state.Status != tel.StatusNotIssued {
		ks, kerr := c.SigningKeys(digest)
		if kerr != nil {
			fmt.Fprintf(errOut, "signing keys: %v\n", kerr)
			return 1
		}
		for _, k := range ks {
			signingKeys = append(signingKeys, k.String())
		}
	}
	last := lastSeal(log)
	_, _ = out.Write(receipt.Render(digest, reg.Registry, state.Status, last, signingKeys, opts))
	return 0
}

func lastSeal(log []tel.VerifiableEvent) seal.Source {
	if len(log) > 0 {
		return log[len(log)-1].Seal
	}
	return seal.Source{}
}

func cmdLog(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var credential string
	sf.register(fs)
	fs.StringVar(&credential, "credential", "", "Credential digest")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.validate(errOut) {
		return 2
	}

	c, err := controller.Open(sf.kelRoot, sf.telRoot, said.Alg(sf.alg))
	if err != nil {
		fmt.Fprintf(errOut, "open: %v\n", err)
		return 1
	}
	digest, ok := resolveCredential(c, credential, fs, errOut)
	if !ok {
		return 2
	}

	log, err := c.TEL(digest)
	if err != nil {
		fmt.Fprintf(errOut, "log: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(log); err != nil {
		fmt.Fprintf(errOut, "encode: %v\n", err)
		return 1
	}
	return 0
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf storeFlags
	var sigB64 string
	sf.register(fs)
	fs.StringVar(&sigB64, "signature", "", "Signature over the message, base64")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.validate(errOut) {
		return 2
	}
	if sigB64 == "" {
		fmt.Fprintln(errOut, "missing --signature")
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: keltel verify [flags] --signature <b64> <file>")
		return 2
	}
	message, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read message: %v\n", err)
		return 1
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --signature: %v\n", err)
		return 2
	}

	c, err := controller.Open(sf.kelRoot, sf.telRoot, said.Alg(sf.alg))
	if err != nil {
		fmt.Fprintf(errOut, "open: %v\n", err)
		return 1
	}
	ok, err := c.Verify(message, sig)
	if err != nil {
		fmt.Fprintf(errOut, "verify: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(errOut, "signature did not verify")
		return 1
	}
	_, _ = fmt.Fprintln(out, "OK")
	return 0
}

func cmdCredentialDigest(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("credential-digest", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var alg string
	fs.StringVar(&alg, "alg", string(said.Blake3), "Digest algorithm")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: keltel credential-digest [--alg <alg>] <file>")
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", fs.Arg(0), err)
		return 1
	}
	digest, err := said.Alg(alg).SumString(b)
	if err != nil {
		fmt.Fprintf(errOut, "digest: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, digest)
	return 0
}
