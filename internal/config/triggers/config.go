package triggers_config

import (
	"time"

	"github.com/goshlabs/onboarding-pipeline/internal/obs"
	kafkax "github.com/goshlabs/onboarding-pipeline/internal/repository/kafka"
	pginfra "github.com/goshlabs/onboarding-pipeline/internal/repository/postgres"
)

type KafkaIn struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	GroupID       string   `mapstructure:"group_id"`
	FromBeginning bool     `mapstructure:"from_beginning"`
}

func (k *KafkaIn) AsConsumerConfig() *kafkax.ConsumerConfig {
	return &kafkax.ConsumerConfig{
		Brokers:       k.Brokers,
		Topic:         k.Topic,
		GroupID:       k.GroupID,
		FromBeginning: k.FromBeginning,
	}
}

type Poll struct {
	Tick       time.Duration `mapstructure:"tick"`
	BatchLimit int           `mapstructure:"batch_limit"`
}

type Enqueue struct {
	Queue        string        `mapstructure:"queue"`
	Retries      int           `mapstructure:"retries"`
	BackoffKind  string        `mapstructure:"backoff_kind"`
	BackoffDelay time.Duration `mapstructure:"backoff_delay"`
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
		App:    "onboarding/triggers",
	}
}

type Config struct {
	DB      pginfra.Config `mapstructure:"db"`
	In      KafkaIn        `mapstructure:"kafka_in"`
	Poll    Poll           `mapstructure:"poll"`
	Enqueue Enqueue        `mapstructure:"enqueue"`
	Server  Server         `mapstructure:"server"`
	OTEL    OTEL           `mapstructure:"otel"`
	Log     Log            `mapstructure:"log"`
}
