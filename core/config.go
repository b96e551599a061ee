package core

import (
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string `mapstructure:"env"`
		Debug            bool   `mapstructure:"debug"`
		TestMode         bool   `mapstructure:"testMode"`
		AppName          string `mapstructure:"appName"`
		Build            string `mapstructure:"build"`
		SecretKey        string `mapstructure:"secretKey"`
		DefaultFromEmail string `mapstructure:"defaultFromEmail"`
		FrontendBaseURL  string `mapstructure:"frontendBaseURL"`
		SendgridApiKey   string `mapstructure:"sendgridApiKey"`
		RollbarToken     string `mapstructure:"rollbarToken"`

		Server      ServerConfig      `mapstructure:"server"`
		Database    DatabaseConfig    `mapstructure:"database"`
		Redis       RedisConfig       `mapstructure:"redis"`
		Eligibility EligibilityConfig `mapstructure:"eligibility"`
		Grace       GraceConfig       `mapstructure:"grace"`
		Bulk        BulkConfig        `mapstructure:"bulk"`
		Expiry      ExpiryConfig      `mapstructure:"expiry"`
	}

	ServerConfig struct {
		Address            string        `mapstructure:"address"`
		Host               string        `mapstructure:"host"`
		DebugHost          string        `mapstructure:"debugHost"`
		ShutdownTimeout    time.Duration `mapstructure:"shutdownTimeout"`
		JWTExpirationDelta time.Duration `mapstructure:"jwtExpirationDelta"`
		AppealRateLimit    int           `mapstructure:"appealRateLimit"` // requests per minute per IP
	}

	DatabaseConfig struct {
		Engine        string `mapstructure:"engine"`
		Host          string `mapstructure:"host"`
		Port          int    `mapstructure:"port"`
		Name          string `mapstructure:"name"`
		User          string `mapstructure:"user"`
		Password      string `mapstructure:"password"`
		AdminUser     string `mapstructure:"adminUser"`
		AdminPassword string `mapstructure:"adminPassword"`
		DisableTLS    bool   `mapstructure:"disableTLS"`
	}

	RedisConfig struct {
		Addr   string `mapstructure:"addr"` // empty disables the stream notifier
		Stream string `mapstructure:"stream"`
	}

	EligibilityConfig struct {
		StudentThreshold int `mapstructure:"studentThreshold"`
	}

	GraceConfig struct {
		InitialDays             int `mapstructure:"initialDays"`
		WarningThresholdDays    int `mapstructure:"warningThresholdDays"`
		CriticalThresholdDays   int `mapstructure:"criticalThresholdDays"`
		SuspensionThresholdDays int `mapstructure:"suspensionThresholdDays"`
	}

	BulkConfig struct {
		Concurrency int `mapstructure:"concurrency"`
	}

	ExpiryConfig struct {
		Interval time.Duration `mapstructure:"interval"`
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, strconv.Itoa(dbc.Port))
}

func (conf *Config) DefaultFromAddress() mail.Address {
	return mail.Address{Name: conf.AppName, Address: conf.DefaultFromEmail}
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Masomo")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.appealRateLimit", 10)

	v.SetDefault("database.engine", "postgres") // or "memory"
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "masomo")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.stream", "eligibility:notifications")

	v.SetDefault("eligibility.studentThreshold", 1500)

	v.SetDefault("grace.initialDays", 30)
	v.SetDefault("grace.warningThresholdDays", 7)
	v.SetDefault("grace.criticalThresholdDays", 3)
	v.SetDefault("grace.suspensionThresholdDays", 90)

	v.SetDefault("bulk.concurrency", 8)
	v.SetDefault("expiry.interval", time.Hour)
}

// LoadConfig reads the configuration from defaults, an optional `config/.env.<env>` file and
// the environment. Environment keys are prefixed with the upper-cased ENV, e.g. PROD_GRACE_INITIALDAYS.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetDefault("env", env)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	if wd, err := os.Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat %s", dotEnvPath)
		}
	}
	v.AutomaticEnv()

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return conf, nil
}
