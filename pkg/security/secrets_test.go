package security

import (
	"bytes"
	"testing"

	"github.com/boris-cremit/nebula/pkg/pairing"
)

func TestNewSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSealer(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSealer() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && s == nil {
				t.Error("NewSealer() returned nil without error")
			}
		})
	}
}

func TestNewSealerFromMasterSecret(t *testing.T) {
	order := pairing.DefaultOrder()
	gt, err := pairing.GtRandom(order)
	if err != nil {
		t.Fatalf("GtRandom: %v", err)
	}

	s, err := NewSealerFromMasterSecret(gt)
	if err != nil {
		t.Fatalf("NewSealerFromMasterSecret() error = %v", err)
	}
	if s == nil {
		t.Fatal("NewSealerFromMasterSecret() returned nil without error")
	}

	s2, err := NewSealerFromMasterSecret(gt)
	if err != nil {
		t.Fatalf("NewSealerFromMasterSecret() error = %v", err)
	}
	ct, err := s.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := s2.Open(ct); err != nil {
		t.Fatalf("sealer derived twice from the same master secret must decrypt each other's output: %v", err)
	}
}

func TestSealOpenRoundtrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, []byte("test-encryption-key-32-bytes-!!"))

	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("Failed to create Sealer: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{
			name:      "simple string",
			plaintext: []byte("hello world"),
		},
		{
			name:      "json data",
			plaintext: []byte(`{"key":"db-password","value":"secret123"}`),
		},
		{
			name:      "binary data",
			plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD},
		},
		{
			name:      "large data",
			plaintext: bytes.Repeat([]byte("test"), 1000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := s.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}

			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("Ciphertext should not equal plaintext")
			}

			decrypted, err := s.Open(ciphertext)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("Decrypted data does not match original.\nGot:  %v\nWant: %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestSeal_Errors(t *testing.T) {
	key := make([]byte, 32)
	s, _ := NewSealer(key)

	tests := []struct {
		name      string
		plaintext []byte
		wantErr   bool
	}{
		{
			name:      "empty data",
			plaintext: []byte{},
			wantErr:   true,
		},
		{
			name:      "nil data",
			plaintext: nil,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Seal(tt.plaintext)
			if (err != nil) != tt.wantErr {
				t.Errorf("Seal() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	key := make([]byte, 32)
	s, _ := NewSealer(key)

	tests := []struct {
		name       string
		ciphertext []byte
		wantErr    bool
	}{
		{
			name:       "empty data",
			ciphertext: []byte{},
			wantErr:    true,
		},
		{
			name:       "nil data",
			ciphertext: nil,
			wantErr:    true,
		},
		{
			name:       "too short data",
			ciphertext: []byte{0x01, 0x02},
			wantErr:    true,
		},
		{
			name:       "corrupted data",
			ciphertext: bytes.Repeat([]byte("x"), 100),
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Open(tt.ciphertext)
			if (err != nil) != tt.wantErr {
				t.Errorf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	copy(key1, []byte("key-one-32-bytes-long-!!!!!!!!!!"))

	key2 := make([]byte, 32)
	copy(key2, []byte("key-two-32-bytes-long-!!!!!!!!!!"))

	s1, _ := NewSealer(key1)
	s2, _ := NewSealer(key2)

	plaintext := []byte("secret data")

	ciphertext, err := s1.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	_, err = s2.Open(ciphertext)
	if err == nil {
		t.Error("Open() should fail with wrong key")
	}
}
