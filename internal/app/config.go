package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/jobcore/pkg/db"
	"github.com/dmitrymomot/jobcore/pkg/job"
	"github.com/dmitrymomot/jobcore/pkg/logger"
	"github.com/dmitrymomot/jobcore/pkg/redis"
)

// Broker backends.
const (
	BrokerMemory = "memory"
	BrokerRiver  = "river"
)

// ErrInvalidConfig wraps every configuration problem found by Validate.
var ErrInvalidConfig = errors.New("app: invalid config")

// Config is the process configuration, read from the environment by
// config.Load.
type Config struct {
	Logger   logger.Config
	Redis    redis.Config
	Database db.Config

	Broker      string `env:"BROKER" envDefault:"memory"`
	JobsFile    string `env:"JOBS_FILE"`
	Concurrency int    `env:"WORKER_CONCURRENCY" envDefault:"10"`
	Admission   string `env:"ADMISSION_POLICY" envDefault:"reject"`

	RateLimitPrefix           string        `env:"RATELIMIT_PREFIX" envDefault:"ratelimit:"`
	RateLimitFailureThreshold int           `env:"RATELIMIT_FAILURE_THRESHOLD" envDefault:"5"`
	RateLimitCoolDown         time.Duration `env:"RATELIMIT_COOLDOWN" envDefault:"30s"`
	RateLimitFallbackKeys     int           `env:"RATELIMIT_FALLBACK_MAX_KEYS" envDefault:"10000"`

	DLQKey      string `env:"DLQ_KEY" envDefault:"dlq:messages"`
	DLQCapacity int    `env:"DLQ_CAPACITY" envDefault:"10000"`

	ShutdownHandlerTimeout time.Duration `env:"SHUTDOWN_HANDLER_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout        time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"60s"`

	OpsAddr string `env:"OPS_ADDR" envDefault:":8080"`
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Broker {
	case BrokerMemory:
	case BrokerRiver:
		if c.Database.ConnectionString == "" {
			errs = append(errs, errors.New("BROKER=river needs DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("BROKER must be %q or %q, got %q", BrokerMemory, BrokerRiver, c.Broker))
	}
	if _, err := parseAdmission(c.Admission); err != nil {
		errs = append(errs, err)
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Concurrency))
	}
	if c.ShutdownTimeout < c.ShutdownHandlerTimeout {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must not be shorter than SHUTDOWN_HANDLER_TIMEOUT"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

func parseAdmission(s string) (job.AdmissionPolicy, error) {
	switch s {
	case "", "reject":
		return job.AdmissionReject, nil
	case "defer":
		return job.AdmissionDefer, nil
	default:
		return 0, fmt.Errorf("ADMISSION_POLICY must be reject or defer, got %q", s)
	}
}
