package wallet

import (
	"bytes"
	"errors"
	"testing"
)

// fastParams returns low-cost Argon2 params for fast tests.
func fastParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64, // 64 KiB (minimal)
		Iterations:  1,
		Parallelism: 1,
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte("secret wallet data")},
		{"empty", []byte{}},
		{"large", bytes.Repeat([]byte{0xAB}, 10000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Encrypt(tt.data, []byte("strong-password-123"), fastParams())
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}
			opened, err := Decrypt(sealed, []byte("strong-password-123"))
			if err != nil {
				t.Fatalf("Decrypt() error: %v", err)
			}
			if !bytes.Equal(opened, tt.data) {
				t.Errorf("roundtrip mismatch: got %d bytes, want %d", len(opened), len(tt.data))
			}
		})
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	sealed, err := Encrypt([]byte("secret data"), []byte("correct"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if _, err := Decrypt(sealed, []byte("wrong")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt() with wrong password error = %v, want ErrDecrypt", err)
	}
}

func TestDecrypt_TruncatedData(t *testing.T) {
	if _, err := Decrypt([]byte("too short"), []byte("pass")); err == nil {
		t.Error("Decrypt with truncated data should fail")
	}
}

func TestDecrypt_TamperedHeader(t *testing.T) {
	sealed, err := Encrypt([]byte("data"), []byte("pass"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	// Flip a salt bit; the header is authenticated.
	sealed[1] ^= 0x01
	if _, err := Decrypt(sealed, []byte("pass")); err == nil {
		t.Error("Decrypt with tampered header should fail")
	}
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	sealed, err := Encrypt([]byte("data"), []byte("pass"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := Decrypt(sealed, []byte("pass")); err == nil {
		t.Error("Decrypt with corrupted ciphertext should fail")
	}
}

func TestDecrypt_UnknownVersion(t *testing.T) {
	sealed, _ := Encrypt([]byte("data"), []byte("pass"), fastParams())
	sealed[0] = 9
	if _, err := Decrypt(sealed, []byte("pass")); err == nil {
		t.Error("Decrypt with unknown version should fail")
	}
}

func TestEncrypt_DifferentEachTime(t *testing.T) {
	plaintext := []byte("same data")
	password := []byte("same pass")

	enc1, _ := Encrypt(plaintext, password, fastParams())
	enc2, _ := Encrypt(plaintext, password, fastParams())
	if bytes.Equal(enc1, enc2) {
		t.Error("encrypting same data twice should produce different output (random salt/nonce)")
	}
}

func TestEncrypt_EntropyFailure(t *testing.T) {
	_, err := encryptFrom(bytes.NewReader(make([]byte, 8)), []byte("x"), []byte("p"), fastParams())
	if !errors.Is(err, ErrEntropy) {
		t.Errorf("error = %v, want ErrEntropy", err)
	}
}

func TestEncrypt_InvalidParams(t *testing.T) {
	if _, err := Encrypt([]byte("x"), []byte("p"), EncryptionParams{}); err == nil {
		t.Error("zero params should be rejected")
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	if p.Memory != 64*1024 || p.Iterations != 3 || p.Parallelism != 4 {
		t.Errorf("DefaultParams() = %+v", p)
	}
}
