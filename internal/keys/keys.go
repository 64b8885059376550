// Package keys owns the server's RSA signing keypair: loading it from
// disk, generating it on first boot and exporting the public half for
// external verifiers.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

const (
	// KidLength matches the identifier length stamped into issued tokens.
	KidLength = 56

	rsaBits = 2048

	privateBlockType = "RSA PRIVATE KEY"
	publicBlockType  = "PUBLIC KEY"
	kidHeader        = "Kid"
)

// Keypair is the single active signing key for this server instance.
// It is immutable after Ensure returns; there is no automatic rotation.
type Keypair struct {
	Kid     string
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Ensure loads the private key from <dir>/<name>.key, generating and
// persisting a fresh RSA-2048 keypair when the file does not exist.
// The public half is written to <dir>/<name>.pub if absent. A present
// but unreadable or corrupt key file is an error: the caller must not
// serve traffic without valid key material.
func Ensure(dir, name string) (*Keypair, error) {
	if name == "" {
		return nil, errors.New("keys: key name is required")
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("keys: create key dir: %w", err)
		}
	}
	keyPath := filepath.Join(dir, name+".key")
	pubPath := filepath.Join(dir, name+".pub")

	kp, err := load(keyPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		kp, err = generate()
		if err != nil {
			return nil, err
		}
		if err := writePrivate(keyPath, kp); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if _, err := os.Stat(pubPath); errors.Is(err, os.ErrNotExist) {
		pub, err := kp.ExportPublic()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(pubPath, []byte(pub), 0o644); err != nil {
			return nil, fmt.Errorf("keys: write public key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("keys: stat public key: %w", err)
	}
	return kp, nil
}

// ExportPublic returns the PEM (PKIX) encoding of the public key for
// cross-process verification.
func (k *Keypair) ExportPublic() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return "", fmt.Errorf("keys: marshal public key: %w", err)
	}
	block := &pem.Block{Type: publicBlockType, Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func generate() (*Keypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("keys: generate keypair: %w", err)
	}
	kid, err := randomKid(KidLength)
	if err != nil {
		return nil, err
	}
	return &Keypair{Kid: kid, Private: priv, Public: &priv.PublicKey}, nil
}

func load(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("keys: %s is not valid PEM", path)
	}
	var priv *rsa.PrivateKey
	switch block.Type {
	case privateBlockType:
		priv, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("keys: parse private key: %w", err)
		}
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("keys: parse private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("keys: not an RSA private key")
		}
		priv = rsaKey
	default:
		return nil, fmt.Errorf("keys: unsupported key type %s", block.Type)
	}
	kid := block.Headers[kidHeader]
	if kid == "" {
		// Key files written by other tooling carry no kid header;
		// derive a stable one from the modulus so verification still
		// lines up across restarts.
		kid = deriveKid(priv.N)
	}
	return &Keypair{Kid: kid, Private: priv, Public: &priv.PublicKey}, nil
}

func writePrivate(path string, kp *Keypair) error {
	block := &pem.Block{
		Type:    privateBlockType,
		Headers: map[string]string{kidHeader: kp.Kid},
		Bytes:   x509.MarshalPKCS1PrivateKey(kp.Private),
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("keys: write private key: %w", err)
	}
	return nil
}

const kidAlphabet = "abcdefghijklmnopqrstuvwxyz"

func randomKid(size int) (string, error) {
	out := make([]byte, size)
	max := big.NewInt(int64(len(kidAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("keys: generate kid: %w", err)
		}
		out[i] = kidAlphabet[n.Int64()]
	}
	return string(out), nil
}

func deriveKid(modulus *big.Int) string {
	digits := modulus.Text(26)
	if len(digits) > KidLength {
		digits = digits[:KidLength]
	}
	out := make([]byte, len(digits))
	for i := range digits {
		switch {
		case digits[i] >= '0' && digits[i] <= '9':
			out[i] = kidAlphabet[digits[i]-'0']
		default:
			out[i] = digits[i]
		}
	}
	return string(out)
}
