package refresher

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Schedules use the six-field cron format with a leading seconds field.
type Config struct {
	SnapshotSchedule string `envconfig:"SNAPSHOT_SCHEDULE" default:"0 */5 * * * *"`
	PositionSchedule string `envconfig:"POSITION_SCHEDULE" default:"30 * * * * *"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
