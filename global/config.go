package global

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis_rate/v10"
	cfg "github.com/mailio/go-web3-kit/config"
)

// Conf global config
var Conf Config

// Global rate limiter
var RateLimiter *redis_rate.Limiter

type Config struct {
	cfg.YamlConfig `yaml:",inline"`
	Edge       EdgeConfig       `yaml:"edge"`
	Aws        AwsConfig        `yaml:"aws"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Assets     AssetsConfig     `yaml:"assets"`
	Revocation RevocationConfig `yaml:"revocation"`
	RuleGroup  RuleGroupConfig  `yaml:"ruleGroup"`
	Risk       RiskConfig       `yaml:"risk"`
	Rotation   RotationConfig   `yaml:"rotation"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      Queue            `yaml:"queue"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Admin      AdminConfig      `yaml:"admin"`
	Cors       CorsConfig       `yaml:"cors"`
	// TrustedProxies lists the CIDRs (or addresses) of the CDN and load balancers in front of
	// both servers. Forwarding, viewer address and geo headers are only read from these peers.
	TrustedProxies []string `yaml:"trustedProxies" validate:"dive,cidr|ip"`
}

type EdgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Origin  string `yaml:"origin" validate:"required_if=Enabled true"`
	// MinTokenLength rejects shorter token segments before any decoding
	MinTokenLength int `yaml:"minTokenLength"`
	// geo attribute headers set by the CDN
	CountryHeader string `yaml:"countryHeader"`
	RegionHeader  string `yaml:"regionHeader"`
	CityHeader    string `yaml:"cityHeader"`
	// ViewerAddressHeader carries "ip:port" of the viewer
	ViewerAddressHeader string `yaml:"viewerAddressHeader"`
}

type AwsConfig struct {
	Region   string `yaml:"region" validate:"required"`
	Key      string `yaml:"key"`
	Secret   string `yaml:"secret"`
	Endpoint string `yaml:"endpoint"`
}

type SecretsConfig struct {
	StackName string `yaml:"stackName" validate:"required"`
	// seconds
	CacheTTL int `yaml:"cacheTTL"`
	// seconds after publishing before the edge key set is considered live everywhere
	PropagationDelay int `yaml:"propagationDelay"`
}

type AssetsConfig struct {
	TableName string `yaml:"tableName"`
}

type RevocationConfig struct {
	Backend   string `yaml:"backend" validate:"required,oneof=dynamodb redis"`
	TableName string `yaml:"tableName" validate:"required_if=Backend dynamodb"`
	IndexName string `yaml:"indexName"`
	// days
	ManualTTL int `yaml:"manualTTL" validate:"min=0"`
	AutoTTL   int `yaml:"autoTTL" validate:"min=0"`
	// minutes of last_updated history read by the rule group rebuild
	Retention int `yaml:"retention" validate:"min=0"`
}

type RuleGroupConfig struct {
	// split evenly between manual and automatic rules
	Capacity int    `yaml:"capacity" validate:"min=0,even"`
	Writer   string `yaml:"writer" validate:"omitempty,oneof=waf local"`
	Name     string `yaml:"name" validate:"required_if=Writer waf"`
	ID       string `yaml:"id" validate:"required_if=Writer waf"`
	Scope    string `yaml:"scope" validate:"omitempty,oneof=CLOUDFRONT REGIONAL"`
	// minutes
	Schedule      int    `yaml:"schedule"`
	ArchiveBucket string `yaml:"archiveBucket"`
}

// RiskConfig drives the anomaly scoring query.
type RiskConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Engine                 string  `yaml:"engine" validate:"omitempty,oneof=athena local"`
	DbName                 string  `yaml:"dbName" validate:"omitempty,sqlident"`
	TableName              string  `yaml:"tableName" validate:"omitempty,sqlident"`
	UriColumnName          string  `yaml:"uriColumnName" validate:"omitempty,sqlident"`
	RefererColumnName      string  `yaml:"refererColumnName" validate:"omitempty,sqlident"`
	UaColumnName           string  `yaml:"uaColumnName" validate:"omitempty,sqlident"`
	RequestIpColumn        string  `yaml:"requestIpColumn" validate:"omitempty,sqlident"`
	StatusColumnName       string  `yaml:"statusColumnName" validate:"omitempty,sqlident"`
	ResponseBytesColumName string  `yaml:"responseBytesColumnName" validate:"omitempty,sqlident"`
	DateColumnName         string  `yaml:"dateColumnName" validate:"omitempty,sqlident"`
	TimeColumnName         string  `yaml:"timeColumnName" validate:"omitempty,sqlident"`
	IpRate                 float64 `yaml:"ipRate" validate:"min=0"`
	IpPenaltyEnabled       bool    `yaml:"ipPenaltyEnabled"`
	IpPenalty              float64 `yaml:"ipPenalty" validate:"min=0"`
	RefererPenaltyEnabled  bool    `yaml:"refererPenaltyEnabled"`
	RefererPenalty         float64 `yaml:"refererPenalty" validate:"min=0"`
	UaPenaltyEnabled       bool    `yaml:"uaPenaltyEnabled"`
	UaPenalty              float64 `yaml:"uaPenalty" validate:"min=0"`
	MinSessionsNumber      int     `yaml:"minSessionsNumber" validate:"min=0"`
	// seconds
	MinSessionDuration int     `yaml:"minSessionDuration" validate:"min=1"`
	ScoreThreshold     float64 `yaml:"scoreThreshold" validate:"gt=1"`
	// minutes, the partition predicates cover at most two calendar days
	LookbackPeriod int  `yaml:"lookbackPeriod" validate:"min=1,max=1440"`
	Partitioned    bool `yaml:"partitioned"`
	// minutes between scheduled runs
	Schedule       int    `yaml:"schedule"`
	WorkGroup      string `yaml:"workGroup"`
	OutputLocation string `yaml:"outputLocation"`
	LogBucket      string `yaml:"logBucket"`
	LogPrefix      string `yaml:"logPrefix"`
}

type RotationConfig struct {
	// cron spec, empty disables scheduled rotation
	Schedule    string `yaml:"schedule"`
	MaxAttempts int    `yaml:"maxAttempts"`
	// seconds, multiplied by the attempt number
	BaseDelay int `yaml:"baseDelay"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

type Queue struct {
	Concurrency int `yaml:"concurrency"`
}

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type CorsConfig struct {
	AllowOrigins []string `yaml:"allowOrigins"`
}

var (
	sqlIdentRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	wordRegex     = regexp.MustCompile(`^\w+$`)
)

// NewValidator returns a validator with the custom rules used across the config and API inputs.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return sqlIdentRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("word", func(fl validator.FieldLevel) bool {
		return wordRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("even", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 0
	})
	return v
}

// LoadConfig reads the yaml file at path into conf, fills defaults and validates the result.
func LoadConfig(path string, conf *Config) error {
	if err := cfg.NewYamlConfig(path, conf); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	conf.ApplyDefaults()
	if err := NewValidator().Struct(conf); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ApplyDefaults fills zero values with the defaults the service runs with.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "release"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Edge.Port == 0 {
		c.Edge.Port = 8081
	}
	if c.Edge.MinTokenLength == 0 {
		c.Edge.MinTokenLength = 60
	}
	if c.Edge.CountryHeader == "" {
		c.Edge.CountryHeader = "cloudfront-viewer-country"
	}
	if c.Edge.RegionHeader == "" {
		c.Edge.RegionHeader = "cloudfront-viewer-country-region"
	}
	if c.Edge.CityHeader == "" {
		c.Edge.CityHeader = "cloudfront-viewer-city"
	}
	if c.Edge.ViewerAddressHeader == "" {
		c.Edge.ViewerAddressHeader = "cloudfront-viewer-address"
	}
	if c.Secrets.CacheTTL == 0 {
		c.Secrets.CacheTTL = 4
	}
	if c.Secrets.PropagationDelay == 0 {
		c.Secrets.PropagationDelay = c.Secrets.CacheTTL + 1
	}
	if c.Revocation.Backend == "" {
		c.Revocation.Backend = "dynamodb"
	}
	if c.Revocation.IndexName == "" {
		c.Revocation.IndexName = "reason-last_updated-index"
	}
	if c.Revocation.ManualTTL == 0 {
		c.Revocation.ManualTTL = 1
	}
	if c.Revocation.AutoTTL == 0 {
		c.Revocation.AutoTTL = 1
	}
	if c.Revocation.Retention == 0 {
		c.Revocation.Retention = 14 * 24 * 60
	}
	if c.RuleGroup.Capacity == 0 {
		c.RuleGroup.Capacity = 100
	}
	if c.RuleGroup.Writer == "" {
		c.RuleGroup.Writer = "local"
	}
	if c.RuleGroup.Scope == "" {
		c.RuleGroup.Scope = "CLOUDFRONT"
	}
	if c.RuleGroup.Schedule == 0 {
		c.RuleGroup.Schedule = 5
	}
	if c.Risk.Engine == "" {
		c.Risk.Engine = "athena"
	}
	if c.Risk.LookbackPeriod == 0 {
		c.Risk.LookbackPeriod = 20
	}
	if c.Risk.MinSessionDuration == 0 {
		c.Risk.MinSessionDuration = 60
	}
	if c.Risk.ScoreThreshold == 0 {
		c.Risk.ScoreThreshold = 2
	}
	if c.Risk.Schedule == 0 {
		c.Risk.Schedule = 20
	}
	if c.Rotation.MaxAttempts == 0 {
		c.Rotation.MaxAttempts = 10
	}
	if c.Rotation.BaseDelay == 0 {
		c.Rotation.BaseDelay = 2
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 5
	}
}

func (c *SecretsConfig) CacheDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

func (c *SecretsConfig) PropagationDuration() time.Duration {
	return time.Duration(c.PropagationDelay) * time.Second
}

func (c *RotationConfig) BaseDelayDuration() time.Duration {
	return time.Duration(c.BaseDelay) * time.Second
}
