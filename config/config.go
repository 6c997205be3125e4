package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hexresearch/hexstody-sub000/model"
)

const EnvPrefix = "HEXSTODY"

type Confirmations struct {
	Withdraw    int `mapstructure:"withdraw"`
	ChangeLimit int `mapstructure:"change_limit"`
	Exchange    int `mapstructure:"exchange"`
}

type Listen struct {
	Public   string `mapstructure:"public"`
	Operator string `mapstructure:"operator"`
}

type Btc struct {
	AdapterURL string `mapstructure:"adapter_url"`
}

type Eth struct {
	RPCURL        string `mapstructure:"rpc_url"`
	AdapterURL    string `mapstructure:"adapter_url"`
	Confirmations uint64 `mapstructure:"confirmations"`
}

type HD struct {
	Mnemonic string `mapstructure:"mnemonic"`
}

type Worker struct {
	QueueCapacity int           `mapstructure:"queue_capacity"`
	SnapshotEvery int           `mapstructure:"snapshot_every"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	AppendTimeout time.Duration `mapstructure:"append_timeout"`
	AppendBudget  time.Duration `mapstructure:"append_budget"`
}

type Ingest struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	RPCTimeout   time.Duration `mapstructure:"rpc_timeout"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Database struct {
	DSN string `mapstructure:"dsn"`
}

type Config struct {
	Network            string        `mapstructure:"network"`
	Database           Database      `mapstructure:"database"`
	OperatorPublicKeys []string      `mapstructure:"operator_public_keys"`
	Confirmations      Confirmations `mapstructure:"confirmations"`
	PublicAPIDomain    string        `mapstructure:"public_api_domain"`
	OperatorAPIDomain  string        `mapstructure:"operator_api_domain"`
	SecretKey          string        `mapstructure:"secret_key"`
	Listen             Listen        `mapstructure:"listen"`
	Btc                Btc           `mapstructure:"btc"`
	Eth                Eth           `mapstructure:"eth"`
	HD                 HD            `mapstructure:"hd"`
	Worker             Worker        `mapstructure:"worker"`
	Ingest             Ingest        `mapstructure:"ingest"`
	Log                Log           `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", string(model.Regtest))
	v.SetDefault("confirmations.withdraw", 2)
	v.SetDefault("confirmations.change_limit", 2)
	v.SetDefault("confirmations.exchange", 1)
	v.SetDefault("listen.public", ":8080")
	v.SetDefault("listen.operator", ":8081")
	v.SetDefault("eth.confirmations", 12)
	v.SetDefault("worker.queue_capacity", 1000)
	v.SetDefault("worker.snapshot_every", 1000)
	v.SetDefault("worker.send_timeout", 5*time.Second)
	v.SetDefault("worker.append_timeout", 2*time.Second)
	v.SetDefault("worker.append_budget", 5*time.Second)
	v.SetDefault("ingest.poll_interval", 30*time.Second)
	v.SetDefault("ingest.error_backoff", 60*time.Second)
	v.SetDefault("ingest.rpc_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// keys without defaults, bound so that Unmarshal sees their env values
var envOnly = []string{
	"database.dsn", "operator_public_keys", "public_api_domain", "operator_api_domain",
	"secret_key", "btc.adapter_url", "eth.rpc_url", "eth.adapter_url", "hd.mnemonic",
}

// Load reads the YAML file at path (optional when path is empty) with
// HEXSTODY_ environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	loadLocalEnv()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envOnly {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	// a missing file leaves defaults and env
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// env gives a single comma separated string
	if len(cfg.OperatorPublicKeys) == 1 && strings.Contains(cfg.OperatorPublicKeys[0], ",") {
		cfg.OperatorPublicKeys = splitList(cfg.OperatorPublicKeys[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadLocalEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the settings that must hold before serving.
func (c *Config) Validate() error {
	var errs []error
	if _, err := model.ParseNetwork(c.Network); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	cf := c.Confirmations
	if cf.Withdraw < 1 || cf.ChangeLimit < 1 || cf.Exchange < 1 {
		errs = append(errs, errors.New("confirmation thresholds must be at least 1"))
	}
	need := c.Quorum()
	if n := distinctPaths(c.OperatorPublicKeys); n < need {
		errs = append(errs, fmt.Errorf("operator_public_keys has %d distinct keys, thresholds need %d", n, need))
	}
	if _, err := c.Secret(); err != nil {
		errs = append(errs, err)
	}
	if c.Worker.QueueCapacity < 1 {
		errs = append(errs, errors.New("worker.queue_capacity must be positive"))
	}
	if c.Worker.AppendTimeout > c.Worker.AppendBudget {
		errs = append(errs, errors.New("worker.append_timeout exceeds worker.append_budget"))
	}
	return errors.Join(errs...)
}

// Quorum is the number of distinct operator keys the thresholds need.
func (c *Config) Quorum() int {
	cf := c.Confirmations
	return max(cf.Withdraw, cf.ChangeLimit, cf.Exchange)
}

func distinctPaths(paths []string) int {
	seen := map[string]bool{}
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			seen[filepath.Clean(p)] = true
		}
	}
	return len(seen)
}

// NetworkValue is the parsed network; call after Validate.
func (c *Config) NetworkValue() model.Network {
	n, _ := model.ParseNetwork(c.Network)
	return n
}

// Secret decodes secret_key, 64 bytes of base64.
func (c *Config) Secret() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.SecretKey))
	if err != nil {
		return nil, fmt.Errorf("secret_key is not base64: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("secret_key must decode to 64 bytes, got %d", len(raw))
	}
	return raw, nil
}
