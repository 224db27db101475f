package encryption

import (
	"testing"

	"empctl/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		want    string
		wantErr bool
	}{
		{name: "default is age", cfg: config.EncryptionConfig{}, want: "*encryption.AgeEncryptor"},
		{name: "age", cfg: config.EncryptionConfig{Type: "age"}, want: "*encryption.AgeEncryptor"},
		{name: "test", cfg: config.EncryptionConfig{Type: "test"}, want: "*encryption.TestEncryptor"},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			switch got.(type) {
			case *AgeEncryptor:
				if tt.want != "*encryption.AgeEncryptor" {
					t.Errorf("got AgeEncryptor, want %s", tt.want)
				}
			case *TestEncryptor:
				if tt.want != "*encryption.TestEncryptor" {
					t.Errorf("got TestEncryptor, want %s", tt.want)
				}
			default:
				t.Errorf("unexpected encryptor type %T", got)
			}
		})
	}
}
