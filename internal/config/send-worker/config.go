package send_worker_config

import (
	"time"

	"github.com/goshlabs/onboarding-pipeline/internal/mail"
	"github.com/goshlabs/onboarding-pipeline/internal/obs"
	pginfra "github.com/goshlabs/onboarding-pipeline/internal/repository/postgres"
)

type Queue struct {
	Name      string        `mapstructure:"name"`
	Workers   int           `mapstructure:"workers"`
	Batch     int           `mapstructure:"batch"`
	Tick      time.Duration `mapstructure:"tick"`
	ActiveTTL time.Duration `mapstructure:"active_ttl"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (lc *Log) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  lc.Level,
		Pretty: lc.Pretty,
		App:    "onboarding/send-worker",
	}
}

type Config struct {
	DB     pginfra.Config `mapstructure:"db"`
	SMTP   mail.Config    `mapstructure:"smtp"`
	Queue  Queue          `mapstructure:"queue"`
	Server Server         `mapstructure:"server"`
	OTEL   OTEL           `mapstructure:"otel"`
	Log    Log            `mapstructure:"log"`
}
