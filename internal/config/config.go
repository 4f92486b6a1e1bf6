package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConf struct {
	Env             string `mapstructure:"env"`
	Port            int    `mapstructure:"port"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
	BodyLimitMB     int    `mapstructure:"body_limit_mb"`
}

type MongoConf struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Collection     string `mapstructure:"collection"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type RedisConf struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type EventsConf struct {
	// Driver is kafka, nats or none.
	Driver string `mapstructure:"driver"`
	// Buffer bounds the events waiting for the broker; extra events are dropped.
	Buffer int `mapstructure:"buffer"`
}

type KafkaConf struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NATSConf struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type JWTConf struct {
	Algorithm     string `mapstructure:"algorithm"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	UserClaim     string `mapstructure:"user_claim"`
}

type AWSConf struct {
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

type S3Conf struct {
	PublicRead        bool `mapstructure:"public_read"`
	PresignTTLSeconds int  `mapstructure:"presign_ttl_seconds"`
	BreakerFailures   int  `mapstructure:"breaker_failures"`
	BreakerTimeoutSec int  `mapstructure:"breaker_timeout_seconds"`
}

type WSConf struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	PongWaitSeconds      int   `mapstructure:"pong_wait_seconds"`
	IdleAfterSeconds     int   `mapstructure:"idle_after_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
	EventsPerSecond      int   `mapstructure:"events_per_second"`
}

type RateLimitConf struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

type Config struct {
	App       AppConf       `mapstructure:"app"`
	Mongo     MongoConf     `mapstructure:"mongo"`
	Redis     RedisConf     `mapstructure:"redis"`
	Events    EventsConf    `mapstructure:"events"`
	Kafka     KafkaConf     `mapstructure:"kafka"`
	NATS      NATSConf      `mapstructure:"nats"`
	JWT       JWTConf       `mapstructure:"jwt"`
	AWS       AWSConf       `mapstructure:"aws"`
	S3        S3Conf        `mapstructure:"s3"`
	WS        WSConf        `mapstructure:"ws"`
	RateLimit RateLimitConf `mapstructure:"ratelimit"`
	Log       struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	// derived
	ShutdownTimeout time.Duration
	MongoTimeout    time.Duration
	PresignTTL      time.Duration
	BreakerTimeout  time.Duration
	PingInterval    time.Duration
	WriteDeadline   time.Duration
	PongWait        time.Duration
	IdleAfter       time.Duration
}

func (c *Config) Development() bool { return c.App.Env == "" || c.App.Env == "development" }

// Load reads the YAML file at path (optional) with environment overrides.
// MONGO_URI overrides mongo.uri, WS_IDLE_AFTER_SECONDS overrides ws.idle_after_seconds.
func Load(path string) (*Config, error) {
	// .env is a convenience for local runs
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.shutdown_seconds", 15)
	v.SetDefault("app.body_limit_mb", 110)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "chat")
	v.SetDefault("mongo.collection", "messages")
	v.SetDefault("mongo.timeout_seconds", 5)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "msg")
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.buffer", 1024)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "message-events")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "message")
	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("jwt.user_claim", "user_id")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.bucket", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("s3.public_read", false)
	v.SetDefault("s3.presign_ttl_seconds", 600)
	v.SetDefault("s3.breaker_failures", 5)
	v.SetDefault("s3.breaker_timeout_seconds", 30)
	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.pong_wait_seconds", 60)
	v.SetDefault("ws.idle_after_seconds", 120)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.events_per_second", 20)
	v.SetDefault("ratelimit.per_minute", 600)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("log.level", "info")
}

func (c *Config) applyDefaults() {
	if c.App.Port == 0 {
		c.App.Port = 8080
	}
	if c.App.ShutdownSeconds == 0 {
		c.App.ShutdownSeconds = 15
	}
	if c.Mongo.TimeoutSeconds == 0 {
		c.Mongo.TimeoutSeconds = 5
	}
	if c.S3.PresignTTLSeconds == 0 {
		c.S3.PresignTTLSeconds = 600
	}
	if c.WS.PingIntervalSeconds == 0 {
		c.WS.PingIntervalSeconds = 25
	}
	if c.WS.WriteDeadlineSeconds == 0 {
		c.WS.WriteDeadlineSeconds = 10
	}
	if c.WS.PongWaitSeconds <= c.WS.PingIntervalSeconds {
		c.WS.PongWaitSeconds = c.WS.PingIntervalSeconds * 2
	}
	if c.WS.MaxMessageSizeBytes == 0 {
		c.WS.MaxMessageSizeBytes = 65536
	}
	if c.WS.SendBuffer == 0 {
		c.WS.SendBuffer = 256
	}
	c.JWT.Algorithm = strings.ToUpper(c.JWT.Algorithm)
	c.Events.Driver = strings.ToLower(c.Events.Driver)

	c.ShutdownTimeout = time.Duration(c.App.ShutdownSeconds) * time.Second
	c.MongoTimeout = time.Duration(c.Mongo.TimeoutSeconds) * time.Second
	c.PresignTTL = time.Duration(c.S3.PresignTTLSeconds) * time.Second
	c.BreakerTimeout = time.Duration(c.S3.BreakerTimeoutSec) * time.Second
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.PongWait = time.Duration(c.WS.PongWaitSeconds) * time.Second
	c.IdleAfter = time.Duration(c.WS.IdleAfterSeconds) * time.Second
}

func (c *Config) validate() error {
	if c.Mongo.URI == "" {
		return errors.New("mongo.uri is required")
	}
	switch c.JWT.Algorithm {
	case "HS256":
		if c.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret is required for HS256")
		}
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path is required for RS256")
		}
	default:
		return errors.New("jwt.algorithm must be HS256 or RS256")
	}
	switch c.Events.Driver {
	case "none", "":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required for the kafka events driver")
		}
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("nats.url is required for the nats events driver")
		}
	default:
		return errors.New("events.driver must be kafka, nats or none")
	}
	if c.Events.Buffer <= 0 {
		return errors.New("events.buffer must be positive")
	}
	return nil
}
