package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Provider is the interface for obtaining configuration.
// Consumers should depend on this interface rather than calling the global Get() directly.
type Provider interface {
	GetConfig() *Config
}

// GlobalProvider implements Provider using the package-level singleton.
type GlobalProvider struct{}

func (GlobalProvider) GetConfig() *Config { return Get() }

// StaticProvider implements Provider with a fixed config value, useful for testing.
type StaticProvider struct {
	Cfg *Config
}

func (p *StaticProvider) GetConfig() *Config { return p.Cfg }

type Config struct {
	Auth         AuthConfig         `mapstructure:"auth"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Poller       PollerConfig       `mapstructure:"poller"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Redis        RedisConfig        `mapstructure:"redis"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"` // Secret used to verify player tokens
}

type OrchestratorConfig struct {
	URL            string        `mapstructure:"url"`                       // Base URL of the orchestrator API
	Secret         string        `mapstructure:"secret"`                    // Shared secret used to sign orchestrator tokens
	Role           string        `mapstructure:"role,omitempty"`            // Role claim sent to the orchestrator (default: zync)
	Timeout        time.Duration `mapstructure:"timeout,omitempty"`         // Per request timeout
	InsecureTLS    bool          `mapstructure:"insecure_tls,omitempty"`    // Skip TLS verification, for lab setups only
	FixturesDir    string        `mapstructure:"fixtures_dir,omitempty"`    // Serve challenge.yml fixtures from memory instead of calling URL
	ProvisionDelay time.Duration `mapstructure:"provision_delay,omitempty"` // Simulated provisioning delay of the fixture orchestrator
}

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval,omitempty"` // Time between two fetches of a polling session
	Ceiling  time.Duration `mapstructure:"ceiling,omitempty"`  // Polling stops after this long without a usable instance
}

type GatewayConfig struct {
	DBPath           string        `mapstructure:"db_path"`                     // Path to the session history database
	SessionRetention time.Duration `mapstructure:"session_retention,omitempty"` // Finished session records older than this are deleted
	JanitorInterval  time.Duration `mapstructure:"janitor_interval,omitempty"`  // How often old session records are purged
	IdleTeamTimeout  time.Duration `mapstructure:"idle_team_timeout,omitempty"` // Team pollers with no activity for this long are released
}

type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`                     // Redis address (e.g., "localhost:6379"); notifications are off when empty
	Password      string        `mapstructure:"password"`                 // Redis password (optional)
	DB            int           `mapstructure:"db"`                       // Redis database number (default: 0)
	ChannelPrefix string        `mapstructure:"channel_prefix,omitempty"` // Prefix of pub/sub channels and keys (default: zync:access)
	TTL           time.Duration `mapstructure:"ttl,omitempty"`            // How long the last access record is kept
}

const (
	DefaultPollInterval     = 2 * time.Second
	DefaultPollCeiling      = 45 * time.Second
	DefaultOrchTimeout      = 10 * time.Second
	DefaultSessionRetention = 24 * time.Hour
	DefaultJanitorInterval  = 10 * time.Minute
	DefaultIdleTeamTimeout  = 2 * time.Hour
	DefaultChannelPrefix    = "zync:access"
	DefaultAccessTTL        = 6 * time.Hour
)

// SetDefaults registers every default with viper.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.timeout", DefaultOrchTimeout)
	v.SetDefault("orchestrator.role", "zync")
	v.SetDefault("poller.interval", DefaultPollInterval)
	v.SetDefault("poller.ceiling", DefaultPollCeiling)
	v.SetDefault("gateway.db_path", "zync.db")
	v.SetDefault("gateway.session_retention", DefaultSessionRetention)
	v.SetDefault("gateway.janitor_interval", DefaultJanitorInterval)
	v.SetDefault("gateway.idle_team_timeout", DefaultIdleTeamTimeout)
	v.SetDefault("redis.channel_prefix", DefaultChannelPrefix)
	v.SetDefault("redis.ttl", DefaultAccessTTL)
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load() error {
	zap.S().Infof("Loading config from %s", viper.ConfigFileUsed())
	mu.Lock()
	defer mu.Unlock()

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return err
	}
	zap.S().Info("Config loaded successfully")
	current = cfg
	return nil
}

func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Reload() error {
	return Load()
}

// Defaults returns a config with every default applied and no orchestrator.
func Defaults() *Config {
	return &Config{
		Auth: AuthConfig{
			JWTSecret: "defaultsecret",
		},
		Orchestrator: OrchestratorConfig{
			Role:    "zync",
			Timeout: DefaultOrchTimeout,
		},
		Poller: PollerConfig{
			Interval: DefaultPollInterval,
			Ceiling:  DefaultPollCeiling,
		},
		Gateway: GatewayConfig{
			DBPath:           "zync.db",
			SessionRetention: DefaultSessionRetention,
			JanitorInterval:  DefaultJanitorInterval,
			IdleTeamTimeout:  DefaultIdleTeamTimeout,
		},
		Redis: RedisConfig{
			ChannelPrefix: DefaultChannelPrefix,
			TTL:           DefaultAccessTTL,
		},
	}
}

func LoadDefaults() error {
	mu.Lock()
	defer mu.Unlock()

	current = Defaults()
	return nil
}
