package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Policy is the submission policy applied on the next worker tick. It is
// reloaded from disk without a restart; in-flight attempts keep the values
// they started with.
type Policy struct {
	VATRate        decimal.Decimal
	BatchSize      int
	TickInterval   time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	Concurrency    int
	LockTTL        time.Duration
	RequestTimeout time.Duration
	ReportWindow   time.Duration
}

// policyFile is the on-disk shape. Durations are milliseconds.
type policyFile struct {
	VATRate          string `mapstructure:"vatRate"`
	BatchSize        int    `mapstructure:"batchSize"`
	TickIntervalMs   int    `mapstructure:"tickIntervalMs"`
	MaxAttempts      int    `mapstructure:"maxAttempts"`
	BackoffBaseMs    int    `mapstructure:"backoffBaseMs"`
	BackoffCapMs     int    `mapstructure:"backoffCapMs"`
	Concurrency      int    `mapstructure:"concurrency"`
	LockTTLMs        int    `mapstructure:"lockTtlMs"`
	RequestTimeoutMs int    `mapstructure:"requestTimeoutMs"`
	ReportWindowMs   int    `mapstructure:"reportWindowMs"`
}

func DefaultPolicy() Policy {
	return Policy{
		VATRate:        decimal.RequireFromString("0.175"),
		BatchSize:      50,
		TickInterval:   30 * time.Second,
		MaxAttempts:    5,
		BackoffBase:    2 * time.Second,
		BackoffCap:     5 * time.Minute,
		Concurrency:    8,
		LockTTL:        2 * time.Minute,
		RequestTimeout: 10 * time.Second,
		ReportWindow:   24 * time.Hour,
	}
}

// PolicyHolder publishes the current policy to the worker and the invoice
// service. Reads are lock-free; reloads swap the whole value.
type PolicyHolder struct {
	current atomic.Value // holds Policy
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/taxbridge/config")
	v.AddConfigPath("/etc/taxbridge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TAXBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg, err := resolvePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := resolvePolicy(v)
		if err != nil {
			log.Printf("[policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder wraps a fixed policy, used by tests.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func (h *PolicyHolder) Current() Policy {
	return h.current.Load().(Policy)
}

// Store replaces the published policy. Exposed for tests that exercise
// mid-run reloads.
func (h *PolicyHolder) Store(p Policy) {
	h.current.Store(p)
}

func resolvePolicy(v *viper.Viper) (Policy, error) {
	var file policyFile
	if err := v.UnmarshalKey("submission", &file); err != nil {
		return Policy{}, err
	}

	cfg := DefaultPolicy()
	if file.VATRate != "" {
		rate, err := decimal.NewFromString(file.VATRate)
		if err != nil {
			return Policy{}, err
		}
		cfg.VATRate = rate
	}
	if file.BatchSize > 0 {
		cfg.BatchSize = file.BatchSize
	}
	if file.TickIntervalMs > 0 {
		cfg.TickInterval = time.Duration(file.TickIntervalMs) * time.Millisecond
	}
	if file.MaxAttempts > 0 {
		cfg.MaxAttempts = file.MaxAttempts
	}
	if file.BackoffBaseMs > 0 {
		cfg.BackoffBase = time.Duration(file.BackoffBaseMs) * time.Millisecond
	}
	if file.BackoffCapMs > 0 {
		cfg.BackoffCap = time.Duration(file.BackoffCapMs) * time.Millisecond
	}
	if file.Concurrency > 0 {
		cfg.Concurrency = file.Concurrency
	}
	if file.LockTTLMs > 0 {
		cfg.LockTTL = time.Duration(file.LockTTLMs) * time.Millisecond
	}
	if file.RequestTimeoutMs > 0 {
		cfg.RequestTimeout = time.Duration(file.RequestTimeoutMs) * time.Millisecond
	}
	if file.ReportWindowMs > 0 {
		cfg.ReportWindow = time.Duration(file.ReportWindowMs) * time.Millisecond
	}

	if err := validatePolicy(cfg); err != nil {
		return Policy{}, err
	}
	return cfg, nil
}

func validatePolicy(cfg Policy) error {
	if cfg.VATRate.IsNegative() || cfg.VATRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("submission.vatRate must be in [0, 1)")
	}
	if cfg.BackoffBase <= 0 || cfg.BackoffCap < cfg.BackoffBase {
		return errors.New("submission backoff window is inverted")
	}
	// A stuck authority call must resolve before the next tick fires, or
	// batches pile up behind it.
	if cfg.RequestTimeout >= cfg.TickInterval {
		return errors.New("submission.requestTimeoutMs must be below tickIntervalMs")
	}
	return nil
}
