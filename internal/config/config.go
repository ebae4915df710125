package config

import (
	"log"
	"time"

	"fieldops/pkg/config"

	"gopkg.in/yaml.v3"
)

// OrchestrationConfig holds the scheduling and escalation policy knobs.
// Defaults come from config files; tenant-level overrides are merged at
// call time via WithTenantOverrides. Nothing in the core reads ambient
// process state.
type OrchestrationConfig struct {
	DispatchInterval time.Duration `yaml:"-"`
	MonitorInterval  time.Duration `yaml:"-"`
	ClaimBatchSize   int           `yaml:"claim_batch_size"`

	DoubleCallGap time.Duration `yaml:"-"`

	UrgentResponseTimeout   time.Duration `yaml:"-"`
	StandardResponseTimeout time.Duration `yaml:"-"`
	MaxFollowupAttempts     int           `yaml:"max_followup_attempts"`
	OwnerAlertAfter         time.Duration `yaml:"-"`
	CustomerNoticeAfter     time.Duration `yaml:"-"`
	RebroadcastAfter        time.Duration `yaml:"-"`
	CancelOwnerAlertAfter   time.Duration `yaml:"-"`

	// BusinessCloseHour is the local hour after which cascaded
	// appointments are flagged as conflicts.
	BusinessCloseHour int `yaml:"business_close_hour"`
}

func DefaultOrchestration() OrchestrationConfig {
	return OrchestrationConfig{
		DispatchInterval:        30 * time.Second,
		MonitorInterval:         3 * time.Minute,
		ClaimBatchSize:          50,
		DoubleCallGap:           30 * time.Second,
		UrgentResponseTimeout:   15 * time.Minute,
		StandardResponseTimeout: 30 * time.Minute,
		MaxFollowupAttempts:     10,
		OwnerAlertAfter:         30 * time.Minute,
		CustomerNoticeAfter:     60 * time.Minute,
		RebroadcastAfter:        20 * time.Minute,
		CancelOwnerAlertAfter:   40 * time.Minute,
		BusinessCloseHour:       18,
	}
}

// TenantOverrides is the per-tenant subset of orchestration settings a
// tenant may change. Nil pointer fields keep the defaults.
type TenantOverrides struct {
	StageDelayMinutes           map[int]int `json:"stage_delay_minutes"`
	UrgentResponseTimeoutMins   *int        `json:"urgent_response_timeout_mins"`
	StandardResponseTimeoutMins *int        `json:"standard_response_timeout_mins"`
	MaxFollowupAttempts         *int        `json:"max_followup_attempts"`
	OwnerAlertAfterMins         *int        `json:"owner_alert_after_mins"`
	BusinessCloseHour           *int        `json:"business_close_hour"`
}

// WithTenantOverrides returns a copy of the config with the tenant's
// overrides applied. The receiver is never mutated.
func (c OrchestrationConfig) WithTenantOverrides(o *TenantOverrides) OrchestrationConfig {
	if o == nil {
		return c
	}
	out := c
	if o.UrgentResponseTimeoutMins != nil {
		out.UrgentResponseTimeout = time.Duration(*o.UrgentResponseTimeoutMins) * time.Minute
	}
	if o.StandardResponseTimeoutMins != nil {
		out.StandardResponseTimeout = time.Duration(*o.StandardResponseTimeoutMins) * time.Minute
	}
	if o.MaxFollowupAttempts != nil {
		out.MaxFollowupAttempts = *o.MaxFollowupAttempts
	}
	if o.OwnerAlertAfterMins != nil {
		out.OwnerAlertAfter = time.Duration(*o.OwnerAlertAfterMins) * time.Minute
		out.CustomerNoticeAfter = 2 * out.OwnerAlertAfter
	}
	if o.BusinessCloseHour != nil {
		out.BusinessCloseHour = *o.BusinessCloseHour
	}
	return out
}

type Config struct {
	DB     config.DBConfig     `yaml:"db"`
	MQ     config.MQConfig     `yaml:"mq"`
	Redis  config.RedisConfig  `yaml:"redis"`
	JWT    config.JWTConfig    `yaml:"jwt"`
	Server config.ServerConfig `yaml:"server"`

	Orchestration OrchestrationConfig `yaml:"orchestration"`

	// Raw duration fields from yaml, converted in Load.
	DispatchIntervalSecs int `yaml:"dispatch_interval_secs"`
	MonitorIntervalSecs  int `yaml:"monitor_interval_secs"`
}

func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg := Config{Orchestration: DefaultOrchestration()}
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		log.Fatalf("failed to marshal config: %v", err)
	}
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	if cfg.DispatchIntervalSecs > 0 {
		cfg.Orchestration.DispatchInterval = time.Duration(cfg.DispatchIntervalSecs) * time.Second
	}
	if cfg.MonitorIntervalSecs > 0 {
		cfg.Orchestration.MonitorInterval = time.Duration(cfg.MonitorIntervalSecs) * time.Second
	}
	if cfg.Orchestration.ClaimBatchSize <= 0 {
		cfg.Orchestration.ClaimBatchSize = DefaultOrchestration().ClaimBatchSize
	}
	if cfg.Orchestration.MaxFollowupAttempts <= 0 {
		cfg.Orchestration.MaxFollowupAttempts = DefaultOrchestration().MaxFollowupAttempts
	}
	if cfg.Orchestration.BusinessCloseHour <= 0 {
		cfg.Orchestration.BusinessCloseHour = DefaultOrchestration().BusinessCloseHour
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)

	return &cfg
}
