package transform

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"feathermail/stage"
)

// DKIMSigner parses an outgoing message, computes a DKIM-Signature header
// over a fixed set of headers plus the body (relaxed/relaxed
// canonicalization, rsa-sha256), and prepends it to the message.
type DKIMSigner struct {
	Selector   string
	Domain     string
	PrivateKey *rsa.PrivateKey
	// SignedHeaders lists the header field names included in the
	// signature, in the order they should be signed. Defaults to
	// {"from", "to", "subject", "date"} when empty.
	SignedHeaders []string
}

// NewDKIMSigner parses a PEM-encoded PKCS#1 or PKCS#8 RSA private key and
// constructs a signer.
func NewDKIMSigner(selector, domain string, pemKey []byte, signedHeaders []string) (*DKIMSigner, error) {
	key, err := parseRSAPrivateKey(pemKey)
	if err != nil {
		return nil, fmt.Errorf("transform: parsing DKIM private key: %w", err)
	}
	if len(signedHeaders) == 0 {
		signedHeaders = []string{"from", "to", "subject", "date"}
	}
	return &DKIMSigner{Selector: selector, Domain: domain, PrivateKey: key, SignedHeaders: signedHeaders}, nil
}

func parseRSAPrivateKey(pemKey []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PKCS#8 key is not RSA")
	}
	return rsaKey, nil
}

// TransformData parses raw, signs it, and returns raw with a
// DKIM-Signature header prepended. meta is returned unmodified.
func (d *DKIMSigner) TransformData(raw []byte, meta stage.Meta) ([]byte, stage.Meta, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return raw, meta, fmt.Errorf("transform: DKIM parsing message: %w", err)
	}
	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(msg.Body); err != nil {
		return raw, meta, fmt.Errorf("transform: DKIM reading body: %w", err)
	}

	bodyHash := sha256.Sum256(canonicalizeBodyRelaxed(body.Bytes()))
	bh := base64.StdEncoding.EncodeToString(bodyHash[:])

	headerNames := strings.Join(d.SignedHeaders, ":")
	sigHeader := fmt.Sprintf(
		"v=1; a=rsa-sha256; c=relaxed/relaxed; d=%s; s=%s; t=%d; h=%s; bh=%s; b=",
		d.Domain, d.Selector, time.Now().Unix(), headerNames, bh,
	)

	signingInput := d.buildSigningInput(msg, sigHeader)
	digest := sha256.Sum256(signingInput)
	sig, err := rsa.SignPKCS1v15(rand.Reader, d.PrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		return raw, meta, fmt.Errorf("transform: DKIM signing: %w", err)
	}

	fullHeader := "DKIM-Signature: " + sigHeader + base64.StdEncoding.EncodeToString(sig)
	out := []byte(fullHeader + "\r\n" + string(raw))
	return out, meta, nil
}

// buildSigningInput canonicalizes the configured header set (relaxed) plus
// the partial DKIM-Signature header (with an empty b= tag) in signing
// order, per RFC 6376 §3.7.
func (d *DKIMSigner) buildSigningInput(msg *mail.Message, sigHeader string) []byte {
	var buf bytes.Buffer
	for _, name := range d.SignedHeaders {
		value := msg.Header.Get(name)
		buf.WriteString(canonicalizeHeaderRelaxed(name, value))
		buf.WriteString("\r\n")
	}
	buf.WriteString(canonicalizeHeaderRelaxed("dkim-signature", sigHeader))
	return buf.Bytes()
}

func canonicalizeHeaderRelaxed(name, value string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.Join(strings.Fields(value), " ")
	return name + ":" + strings.TrimSpace(value)
}

func canonicalizeBodyRelaxed(body []byte) []byte {
	lines := strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(strings.Join(strings.Fields(line), " "), " ")
	}
	// Remove trailing empty lines, then guarantee exactly one trailing CRLF,
	// per RFC 6376 §3.4.4.
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return []byte("\r\n")
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}
