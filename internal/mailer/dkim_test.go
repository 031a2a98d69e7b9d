package mailer

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-msgauth/dkim"
)

func TestSignVerifies(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	record, err := DNSRecord(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	signer := NewSigner(key, "acme.test", "drill")
	msg := []byte("From: it@acme.test\r\nTo: alice@corp.test\r\nSubject: Test\r\n\r\nHello.\r\n")

	signed, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
		t.Fatal("signed message should start with DKIM-Signature header")
	}

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			if domain != "drill._domainkey.acme.test" {
				return nil, fmt.Errorf("unexpected lookup %s", domain)
			}
			return []string{record}, nil
		},
	})
	if err != nil {
		t.Fatalf("VerifyWithOptions() error = %v", err)
	}
	if len(verifications) != 1 || verifications[0].Err != nil {
		t.Fatalf("verifications = %+v", verifications)
	}
	if verifications[0].Domain != "acme.test" {
		t.Errorf("Domain = %q", verifications[0].Domain)
	}
}

func TestGenerateAndLoadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dkim", "drill.key")

	record, err := GenerateKey(path)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if !strings.HasPrefix(record, "v=DKIM1; k=rsa; p=") {
		t.Errorf("record = %q", record)
	}

	signer, err := NewSignerFromFile(path, "acme.test", "drill")
	if err != nil {
		t.Fatalf("NewSignerFromFile() error = %v", err)
	}
	if signer.Domain() != "acme.test" || signer.Selector() != "drill" {
		t.Errorf("signer = %s/%s", signer.Domain(), signer.Selector())
	}

	if _, err := GenerateKey(path); err == nil {
		t.Error("GenerateKey() overwrote an existing key")
	}
	if _, err := LoadPrivateKey(filepath.Join(t.TempDir(), "missing.key")); err == nil {
		t.Error("LoadPrivateKey() accepted a missing file")
	}
}
