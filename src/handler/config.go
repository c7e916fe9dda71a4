package handler

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// bcrypt hash of the shared webhook passphrase; empty disables the check
	WebhookPassphraseHash string `envconfig:"WEBHOOK_PASSPHRASE_HASH" default:""`
	MaxBodyBytes          int64  `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
