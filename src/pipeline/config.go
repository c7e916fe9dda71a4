package pipeline

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	UserScope       string        `envconfig:"USER_SCOPE" default:"default"`
	PipelineTimeout time.Duration `envconfig:"PIPELINE_TIMEOUT" default:"30s"`
	ExchangeTimeout time.Duration `envconfig:"EXCHANGE_TIMEOUT" default:"15s"`
	RecordTimeout   time.Duration `envconfig:"RECORD_TIMEOUT" default:"10s"` // per write, independent of PIPELINE_TIMEOUT
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
