package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the analysis worker.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the lease reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains analysis worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// TaskLease is the duration a worker's claim on a task is held.
	TaskLease time.Duration `env:"WORKER_TASK_LEASE" envDefault:"60s"`

	// MaxRetries is the maximum number of analysis attempts per task.
	MaxRetries int `env:"WORKER_MAX_RETRIES" envDefault:"3"`

	// BackoffBase is the base for exponential retry backoff: the Nth retry is
	// scheduled base * 2^(N-1) after the failure.
	BackoffBase time.Duration `env:"WORKER_BACKOFF_BASE" envDefault:"1s"`

	// CoverageTimeout bounds the coverage provider per attempt.
	CoverageTimeout time.Duration `env:"WORKER_COVERAGE_TIMEOUT" envDefault:"15s"`

	// VulnerabilityTimeout bounds the vulnerability provider per attempt.
	VulnerabilityTimeout time.Duration `env:"WORKER_VULNERABILITY_TIMEOUT" envDefault:"15s"`

	// SmellsTimeout bounds the code smells provider per attempt.
	SmellsTimeout time.Duration `env:"WORKER_SMELLS_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.TaskLease < 5*time.Second {
		w.TaskLease = 5 * time.Second
	}
	if w.MaxRetries < 1 {
		w.MaxRetries = 1
	}
	if w.BackoffBase < 100*time.Millisecond {
		w.BackoffBase = 100 * time.Millisecond
	}
	if w.CoverageTimeout < time.Second {
		w.CoverageTimeout = time.Second
	}
	if w.VulnerabilityTimeout < time.Second {
		w.VulnerabilityTimeout = time.Second
	}
	if w.SmellsTimeout < time.Second {
		w.SmellsTimeout = time.Second
	}
}

// ReaperConfig contains lease reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"30s"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 5*time.Second {
		r.Interval = 5 * time.Second
	}
}
