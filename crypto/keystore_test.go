package crypto

import (
	"path/filepath"
	"testing"
)

func TestSaveAndLoadKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "nested", "signer.json")

	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address() != key.PubKey().Address() {
		t.Fatalf("loaded key derives a different address than the saved one")
	}
}

func TestLoadFromKeystoreRejectsWrongPassphrase(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "signer.json")
	if err := SaveToKeystore(path, key, "right"); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected error decrypting with wrong passphrase")
	}
}

func TestSaveToKeystoreRejectsNilKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.json")
	if err := SaveToKeystore(path, nil, "pw"); err == nil {
		t.Fatalf("expected error saving a nil key")
	}
}
