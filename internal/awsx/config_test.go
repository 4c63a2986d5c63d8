package awsx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/querydesk/internal/config"
)

func TestLoadStaticCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")

	cfg, err := Load(context.Background(), config.AWSConfig{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		MaxAttempts:     5,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Region != "eu-west-1" {
		t.Errorf("Region = %q", cfg.Region)
	}
	creds, err := cfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if creds.AccessKeyID != "AKIDEXAMPLE" || creds.SecretAccessKey != "secret" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestLoadOptionsCount(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AWSConfig
		want int
	}{
		{"empty", config.AWSConfig{}, 0},
		{"region only", config.AWSConfig{Region: "us-east-1"}, 1},
		{"profile", config.AWSConfig{Region: "us-east-1", Profile: "dev"}, 2},
		{"static beats profile", config.AWSConfig{AccessKeyID: "a", SecretAccessKey: "b", Profile: "dev"}, 1},
		{"partial static falls through", config.AWSConfig{AccessKeyID: "a"}, 0},
	}
	for _, tt := range tests {
		if got := len(loadOptions(tt.cfg)); got != tt.want {
			t.Errorf("%s: %d options, want %d", tt.name, got, tt.want)
		}
	}
}
