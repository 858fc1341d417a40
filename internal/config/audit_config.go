package config

import "time"

const (
	JobStoreMemory = "memory"
	JobStoreRedis  = "redis"
)

type AuditConfig interface {
	GetScriptsDir() string
	GetOutputDir() string
	GetScriptInterpreter() string
	GetJobTimeout() time.Duration
	GetJobRetention() time.Duration
	GetJanitorInterval() time.Duration
	GetSyncWait() time.Duration
	GetPollInterval() time.Duration
	GetParallelFanOut() bool
	GetJobStore() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetStorageAPIBaseURL() string
	GetComputeAPIBaseURL() string
}

type Audit struct {
	ScriptsDir        string        `yaml:"scripts_dir" env:"AUDIT_SCRIPTS_DIR" env-default:"./scripts"`
	OutputDir         string        `yaml:"output_dir" env:"AUDIT_OUTPUT_DIR" env-default:"./data/audit"`
	ScriptInterpreter string        `yaml:"script_interpreter" env:"AUDIT_SCRIPT_INTERPRETER" env-default:"python3"`
	JobTimeout        time.Duration `yaml:"job_timeout" env:"AUDIT_JOB_TIMEOUT" env-default:"10m"`
	JobRetention      time.Duration `yaml:"job_retention" env:"AUDIT_JOB_TTL" env-default:"1h"`
	JanitorInterval   time.Duration `yaml:"janitor_interval" env:"AUDIT_JANITOR_INTERVAL" env-default:"5m"`
	SyncWait          time.Duration `yaml:"sync_wait" env:"AUDIT_SYNC_WAIT" env-default:"0s"`
	PollInterval      time.Duration `yaml:"poll_interval" env:"AUDIT_POLL_INTERVAL" env-default:"2s"`
	ParallelFanOut    bool          `yaml:"parallel_fan_out" env:"AUDIT_FANOUT_PARALLEL" env-default:"false"`
	JobStore          string        `yaml:"job_store" env:"AUDIT_JOB_STORE" env-default:"memory"`
	RedisAddr         string        `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword     string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB           int           `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	StorageAPIBaseURL string        `yaml:"storage_api_base_url" env:"AUDIT_STORAGE_API_URL" env-default:"https://storage.googleapis.com"`
	ComputeAPIBaseURL string        `yaml:"compute_api_base_url" env:"AUDIT_COMPUTE_API_URL" env-default:"https://compute.googleapis.com"`
}

var _ AuditConfig = Audit{}

func (a Audit) GetScriptsDir() string {
	return a.ScriptsDir
}

// GetOutputDir is where audit scripts write their result artifacts.
func (a Audit) GetOutputDir() string {
	return a.OutputDir
}

func (a Audit) GetScriptInterpreter() string {
	return a.ScriptInterpreter
}

func (a Audit) GetJobTimeout() time.Duration {
	return a.JobTimeout
}

// GetJobRetention is how long a finished job stays queryable after completedAt.
func (a Audit) GetJobRetention() time.Duration {
	return a.JobRetention
}

func (a Audit) GetJanitorInterval() time.Duration {
	return a.JanitorInterval
}

// GetSyncWait is how long POST /audits/run waits for a job before answering 202.
// Zero always answers 202.
func (a Audit) GetSyncWait() time.Duration {
	return a.SyncWait
}

// GetPollInterval is sent to pollers as Retry-After while a job runs.
func (a Audit) GetPollInterval() time.Duration {
	return a.PollInterval
}

func (a Audit) GetParallelFanOut() bool {
	return a.ParallelFanOut
}

func (a Audit) GetJobStore() string {
	return a.JobStore
}

func (a Audit) GetRedisAddr() string {
	return a.RedisAddr
}

func (a Audit) GetRedisPassword() string {
	return a.RedisPassword
}

func (a Audit) GetRedisDB() int {
	return a.RedisDB
}

func (a Audit) GetStorageAPIBaseURL() string {
	return a.StorageAPIBaseURL
}

func (a Audit) GetComputeAPIBaseURL() string {
	return a.ComputeAPIBaseURL
}
