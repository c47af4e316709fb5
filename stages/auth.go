package stages

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/crypto/bcrypt"

	"feathermail/pipeline"
	"feathermail/stage"
)

func init() {
	pipeline.Default.Register("simple_auth", newSimpleAuth)
	pipeline.Default.Register("encrypted_provisioned_password", newEncryptedProvisionedPassword)
	pipeline.Default.Register("pam_auth", newPamAuth)
	pipeline.Default.Register("no_auth", newNoAuth)
}

// SimpleAuth authenticates against a static in-memory {user: password} map.
type SimpleAuth struct {
	formatsReason
	users map[string]string
}

type simpleAuthOpts struct {
	Users map[string]string `mapstructure:"users"`
}

func newSimpleAuth(opts map[string]any) (stage.Adapter, error) {
	var o simpleAuthOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: simple_auth: %w", err)
	}
	return &SimpleAuth{users: o.Users}, nil
}

func (a *SimpleAuth) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *SimpleAuth) Auth(username, credential string, meta stage.Meta, state any) stage.Result {
	if pass, ok := a.users[username]; ok && pass == credential {
		out := meta.Clone()
		out[stage.KeyAuthenticated] = true
		out[stage.KeyUser] = username
		return stage.Continue(out, state)
	}
	return stage.Halt(reason{phase: "auth", line: "535 Authentication failed"}, state)
}

// EncryptedProvisionedPassword authenticates against a JSON keystore of
// bcrypt password hashes, after decrypting the client-supplied credential:
// a base64 JSON envelope {iv, ciphertext, tag} encrypted with AES-256-GCM
// under key = SHA-256(secret_key) and an empty AAD.
type EncryptedProvisionedPassword struct {
	formatsReason
	secretKey []byte
	hashes    map[string]string
}

type encryptedProvisionedPasswordOpts struct {
	KeystorePath string `mapstructure:"keystore_path"`
	SecretKey    string `mapstructure:"secret_key"`
}

func newEncryptedProvisionedPassword(opts map[string]any) (stage.Adapter, error) {
	var o encryptedProvisionedPasswordOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: encrypted_provisioned_password: %w", err)
	}

	raw, err := os.ReadFile(o.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("stages: encrypted_provisioned_password: reading keystore: %w", err)
	}
	var hashes map[string]string
	if err := json.Unmarshal(raw, &hashes); err != nil {
		return nil, fmt.Errorf("stages: encrypted_provisioned_password: parsing keystore: %w", err)
	}

	sum := sha256.Sum256([]byte(o.SecretKey))
	return &EncryptedProvisionedPassword{secretKey: sum[:], hashes: hashes}, nil
}

func (a *EncryptedProvisionedPassword) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *EncryptedProvisionedPassword) Auth(username, credential string, meta stage.Meta, state any) stage.Result {
	hash, ok := a.hashes[username]
	if !ok {
		return stage.Halt(reason{phase: "auth", line: "535 Authentication failed"}, state)
	}

	plaintext, err := decryptProvisionedPassword(credential, a.secretKey)
	if err != nil {
		return stage.Halt(reason{phase: "auth", line: "535 Authentication failed"}, state)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) != nil {
		return stage.Halt(reason{phase: "auth", line: "535 Authentication failed"}, state)
	}

	out := meta.Clone()
	out[stage.KeyAuthenticated] = true
	out[stage.KeyUser] = username
	return stage.Continue(out, state)
}

func decryptProvisionedPassword(encoded string, key []byte) (string, error) {
	envJSON, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("stages: invalid base64 envelope: %w", err)
	}

	var envelope struct {
		IV         string `json:"iv"`
		Ciphertext string `json:"ciphertext"`
		Tag        string `json:"tag"`
	}
	if err := json.Unmarshal(envJSON, &envelope); err != nil {
		return "", fmt.Errorf("stages: invalid envelope JSON: %w", err)
	}

	iv, err := base64.StdEncoding.DecodeString(envelope.IV)
	if err != nil {
		return "", fmt.Errorf("stages: invalid iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("stages: invalid ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(envelope.Tag)
	if err != nil {
		return "", fmt.Errorf("stages: invalid tag: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("stages: building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("stages: building GCM: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("stages: decrypting password: %w", err)
	}
	return string(plaintext), nil
}

// PamAuth delegates credential verification to an external binary invoked
// as "<binary> <user> <pass>"; exit code 0 is success.
type PamAuth struct {
	formatsReason
	binary  string
	timeout time.Duration
}

type pamAuthOpts struct {
	Binary         string `mapstructure:"binary"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func newPamAuth(opts map[string]any) (stage.Adapter, error) {
	var o pamAuthOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: pam_auth: %w", err)
	}
	binary := o.Binary
	if binary == "" {
		binary = "pam_auth"
	}
	timeout := time.Duration(o.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PamAuth{binary: binary, timeout: timeout}, nil
}

func (a *PamAuth) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *PamAuth) Auth(username, credential string, meta stage.Meta, state any) stage.Result {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.binary, username, credential)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err != nil {
		output := out.String()
		return stage.Halt(reason{
			phase: "auth",
			line:  fmt.Sprintf("535 Authentication failed: %s", output),
		}, state)
	}

	out2 := meta.Clone()
	out2[stage.KeyAuthenticated] = true
	out2[stage.KeyUser] = username
	return stage.Continue(out2, state)
}

// NoAuth unconditionally marks every session as authenticated, bypassing
// the engine's MAIL FROM authentication wall. It participates in the helo
// phase (the earliest phase a pipeline reaches before MAIL FROM) so, once
// the client has sent HELO/EHLO, the bypass is in effect before the
// engine's wall check runs; the engine does not require HELO/EHLO before
// MAIL FROM. It also
// implements auth and mail for pipelines that exercise those phases
// directly.
type NoAuth struct {
	formatsReason
	user string
}

type noAuthOpts struct {
	User string `mapstructure:"user"`
}

func newNoAuth(opts map[string]any) (stage.Adapter, error) {
	var o noAuthOpts
	if err := decodeOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("stages: no_auth: %w", err)
	}
	user := o.User
	if user == "" {
		user = "trusted@localhost"
	}
	return &NoAuth{user: user}, nil
}

func (a *NoAuth) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *NoAuth) bypass(meta stage.Meta) stage.Meta {
	if meta.Authenticated() {
		return meta
	}
	out := meta.Clone()
	out[stage.KeyAuthenticated] = true
	out[stage.KeyUser] = a.user
	return out
}

func (a *NoAuth) Helo(domain string, meta stage.Meta, state any) stage.Result {
	return stage.Continue(a.bypass(meta), state)
}

func (a *NoAuth) Auth(username, credential string, meta stage.Meta, state any) stage.Result {
	return stage.Continue(a.bypass(meta), state)
}

func (a *NoAuth) Mail(from string, meta stage.Meta, state any) stage.Result {
	return stage.Continue(a.bypass(meta), state)
}
