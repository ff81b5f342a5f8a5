package env

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const DefaultEnvFile = ".env"

// InitConfig fills every config struct from the environment.
// An optional .env file is loaded first; it never overrides variables
// that are already set.
func InitConfig(configs ...any) error {
	// nolint:errcheck // .env file is optional, failure is acceptable
	_ = godotenv.Load(DefaultEnvFile)

	if len(configs) == 0 {
		return errors.New("no config to process")
	}

	for _, c := range configs {
		if err := envconfig.Process("", c); err != nil {
			return errors.Wrapf(err, "failed to envconfig.Process %T", c)
		}
	}

	return nil
}
