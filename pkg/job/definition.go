package job

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/jobcore/pkg/ratelimit"
)

const (
	// DefaultQueue is used when a definition names no queue.
	DefaultQueue = "default"

	// DefaultTimeout is used when a definition sets no timeout.
	DefaultTimeout = 30 * time.Second
)

// Definition is the static registration record of a job type.
type Definition struct {
	RateLimit  *RateLimit    `yaml:"rate_limit,omitempty"`
	Name       string        `yaml:"name"`
	Queue      string        `yaml:"queue,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	Priority   int           `yaml:"priority,omitempty"`
	MaxRetries int           `yaml:"max_retries"`
}

// RateLimit admits at most Max jobs per sliding Window.
type RateLimit struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

func (r *RateLimit) limit() ratelimit.Limit {
	return ratelimit.Limit{MaxRequests: r.Max, Window: r.Window}
}

// Validate reports why the definition cannot be registered.
func (d Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", d.MaxRetries))
	}
	if d.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", d.Timeout))
	}
	if d.RateLimit != nil && (d.RateLimit.Max <= 0 || d.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit needs positive max and window"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidDefinition, d.Name, errors.Join(errs...))
}

func (d Definition) withDefaults() Definition {
	if d.Queue == "" {
		d.Queue = DefaultQueue
	}
	if d.Timeout == 0 {
		d.Timeout = DefaultTimeout
	}
	return d
}

// catalogue is the YAML layout of a job definition file.
type catalogue struct {
	Jobs []Definition `yaml:"jobs"`
}

// ParseDefinitions decodes a YAML job catalogue:
//
//	jobs:
//	  - name: send-report
//	    queue: reports
//	    priority: 2
//	    max_retries: 2
//	    timeout: 1m
//	    rate_limit:
//	      max: 10
//	      window: 1m
func ParseDefinitions(data []byte) ([]Definition, error) {
	var c catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("job: parse definitions: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for _, d := range c.Jobs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("%w %q: defined twice", ErrInvalidDefinition, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return c.Jobs, nil
}

// LoadDefinitions reads and parses a YAML job catalogue file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("job: read definitions: %w", err)
	}
	return ParseDefinitions(data)
}
