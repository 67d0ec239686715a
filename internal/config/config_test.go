package config

import (
	"os"
	"path/filepath"
	"testing"

	"sana/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
app:
  name: "sana-engine"
database:
  path: "test.db"
payouts:
  min_amount_cents: 7500
commission:
  base_rates:
    - service_type: "session"
      rate: 20
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "test.db" {
		t.Errorf("expected database path test.db, got %s", cfg.Database.Path)
	}
	if cfg.Payouts.MinAmountCents != 7500 {
		t.Errorf("expected min payout 7500, got %d", cfg.Payouts.MinAmountCents)
	}
	if len(cfg.Commission.BaseRates) != 1 || cfg.Commission.BaseRates[0].Rate != 20 {
		t.Errorf("expected one base rate of 20")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TEST_DB_PATH", "env.db")
	yamlContent := `
database:
  path: "${TEST_DB_PATH}"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Database.Path != "env.db" {
		t.Errorf("expected expanded database path env.db, got %s", cfg.Database.Path)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
			},
			wantErr: false,
		},
		{
			name:    "missing database path",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "negative min payout",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Payouts:  PayoutConfig{MinAmountCents: -1},
			},
			wantErr: true,
		},
		{
			name: "commission rate out of range",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Commission: CommissionConfig{
					BaseRates: []ServiceRate{{ServiceType: "session", Rate: 120}},
				},
			},
			wantErr: true,
		},
		{
			name: "duplicate base rate",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Commission: CommissionConfig{
					BaseRates: []ServiceRate{
						{ServiceType: "session", Rate: 20},
						{ServiceType: "session", Rate: 25},
					},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.API.Port != 8080 {
		t.Errorf("expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.Booking.CancellationWindowHours != models.DefaultCancellationWindowHours {
		t.Errorf("expected default cancellation window %d, got %d",
			models.DefaultCancellationWindowHours, cfg.Booking.CancellationWindowHours)
	}
	if cfg.Payouts.MinAmountCents != models.DefaultMinPayoutCents {
		t.Errorf("expected default min payout %d, got %d", models.DefaultMinPayoutCents, cfg.Payouts.MinAmountCents)
	}
	if cfg.Payouts.DefaultMethod != "bank_transfer" {
		t.Errorf("expected default payout method bank_transfer, got %s", cfg.Payouts.DefaultMethod)
	}
	if len(cfg.Reminders.UpcomingOffsetsMinutes) != 2 {
		t.Errorf("expected two default reminder offsets, got %v", cfg.Reminders.UpcomingOffsetsMinutes)
	}
	if cfg.Reminders.ReviewDelayHours != models.DefaultReviewDelayHours {
		t.Errorf("expected default review delay %d, got %d", models.DefaultReviewDelayHours, cfg.Reminders.ReviewDelayHours)
	}
}
