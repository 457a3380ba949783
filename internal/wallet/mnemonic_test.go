package wallet

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestGenerateMnemonic(t *testing.T) {
	for _, words := range []int{12, 15, 18, 21, 24} {
		mnemonic, err := GenerateMnemonic(words, English)
		if err != nil {
			t.Fatalf("GenerateMnemonic(%d) error: %v", words, err)
		}
		if got := len(strings.Fields(mnemonic)); got != words {
			t.Errorf("GenerateMnemonic(%d) produced %d words", words, got)
		}
		if err := ValidateMnemonic(mnemonic, English); err != nil {
			t.Errorf("generated mnemonic does not validate: %v", err)
		}
	}
}

func TestGenerateMnemonic_Unique(t *testing.T) {
	m1, err := GenerateMnemonic(DefaultWords, English)
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	m2, err := GenerateMnemonic(DefaultWords, English)
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	if m1 == m2 {
		t.Error("two generated mnemonics should differ")
	}
}

func TestGenerateMnemonicFrom_ZeroEntropy(t *testing.T) {
	zeros := bytes.NewReader(make([]byte, 16))
	mnemonic, err := GenerateMnemonicFrom(zeros, 12, English)
	if err != nil {
		t.Fatalf("GenerateMnemonicFrom() error: %v", err)
	}
	want := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	if mnemonic != want {
		t.Errorf("mnemonic = %q, want %q", mnemonic, want)
	}
}

func TestGenerateMnemonicFrom_Languages(t *testing.T) {
	for lang := range languageLists {
		t.Run(string(lang), func(t *testing.T) {
			mnemonic, err := GenerateMnemonicFrom(bytes.NewReader(make([]byte, 16)), 12, lang)
			if err != nil {
				t.Fatalf("GenerateMnemonicFrom() error: %v", err)
			}
			if err := ValidateMnemonic(mnemonic, lang); err != nil {
				t.Errorf("ValidateMnemonic(%s) error: %v", lang, err)
			}
		})
	}
}

func TestGenerateMnemonicFrom_ShortRead(t *testing.T) {
	short := bytes.NewReader(make([]byte, 4))
	_, err := GenerateMnemonicFrom(short, 12, English)
	if !errors.Is(err, ErrEntropy) {
		t.Fatalf("error = %v, want ErrEntropy", err)
	}
	var ee *EntropyError
	if !errors.As(err, &ee) {
		t.Fatalf("error should be *EntropyError, got %T", err)
	}
	if ee.Bits != 128 {
		t.Errorf("EntropyError.Bits = %d, want 128", ee.Bits)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("EntropyError should wrap the reader error, got %v", ee.Err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device unavailable") }

func TestGenerateMnemonicFrom_ReaderFailure(t *testing.T) {
	_, err := GenerateMnemonicFrom(failingReader{}, 24, English)
	if !errors.Is(err, ErrEntropy) {
		t.Fatalf("error = %v, want ErrEntropy", err)
	}
}

func TestGenerateMnemonic_BadArgs(t *testing.T) {
	if _, err := GenerateMnemonic(13, English); err == nil {
		t.Error("13 words should be rejected")
	}
	if _, err := GenerateMnemonic(12, Language("klingon")); err == nil {
		t.Error("unknown language should be rejected")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		valid    bool
	}{
		{"valid 12", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", true},
		{"bad checksum", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", false},
		{"unknown word", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon qqqq", false},
		{"wrong count", "abandon abandon abandon", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMnemonic(tt.mnemonic, English)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateMnemonic() error = %v, valid = %v", err, tt.valid)
			}
		})
	}
}

func TestValidateMnemonic_WrongLanguage(t *testing.T) {
	mnemonic, err := GenerateMnemonicFrom(bytes.NewReader(make([]byte, 16)), 12, Spanish)
	if err != nil {
		t.Fatalf("GenerateMnemonicFrom() error: %v", err)
	}
	if err := ValidateMnemonic(mnemonic, English); err == nil {
		t.Error("spanish mnemonic should not validate against the english list")
	}
}

func TestGenerateMnemonic_ConcurrentLanguages(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		lang := English
		if i%2 == 1 {
			lang = French
		}
		wg.Add(1)
		go func(lang Language) {
			defer wg.Done()
			m, err := GenerateMnemonic(12, lang)
			if err == nil {
				err = ValidateMnemonic(m, lang)
			}
			errs <- err
		}(lang)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent generation error: %v", err)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	if lang, err := ParseLanguage("japanese"); err != nil || lang != Japanese {
		t.Errorf("ParseLanguage(japanese) = %q, %v", lang, err)
	}
	if _, err := ParseLanguage("elvish"); err == nil {
		t.Error("ParseLanguage(elvish) should fail")
	}
}
