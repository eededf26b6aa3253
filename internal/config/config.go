package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const envPrefix = "ZUZEL_"

// Config is read once at startup and never changed afterwards.
type Config struct {
	Port     int    `validate:"min=1,max=65535"`
	HTTPAddr string `validate:"omitempty,hostname_port"`

	TLSCert string `validate:"required_with=TLSKey,omitempty,file"`
	TLSKey  string `validate:"required_with=TLSCert,omitempty,file"`

	PlayerName   string `validate:"max=32"`
	Speed        int    `validate:"min=1,max=9"`
	Rounds       int    `validate:"min=1,max=15"`
	PublicServer bool
	PoolSize     int `validate:"min=0,max=64"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`
}

func Default() Config {
	return Config{
		Port:       5678,
		HTTPAddr:   "",
		PlayerName: "Player",
		Speed:      5,
		Rounds:     5,
		PoolSize:   0,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// TLSEnabled reports whether a certificate pair was configured.
func (c Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads envFile if it exists, then the ZUZEL_* environment variables
// on top of the defaults.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		switch {
		case err == nil:
			log.Printf("[config.Load] loaded %s", envFile)
		case errors.Is(err, fs.ErrNotExist):
			log.Debugf("[config.Load] %s not found, using environment only", envFile)
		default:
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	var errs []error
	lookupInt("PORT", &cfg.Port, &errs)
	lookupString("HTTP_ADDR", &cfg.HTTPAddr)
	lookupString("TLS_CERT", &cfg.TLSCert)
	lookupString("TLS_KEY", &cfg.TLSKey)
	lookupString("PLAYER_NAME", &cfg.PlayerName)
	lookupInt("SPEED", &cfg.Speed, &errs)
	lookupInt("ROUNDS", &cfg.Rounds, &errs)
	lookupBool("PUBLIC_SERVER", &cfg.PublicServer, &errs)
	lookupInt("POOL_SIZE", &cfg.PoolSize, &errs)
	lookupString("LOG_LEVEL", &cfg.LogLevel)
	lookupString("LOG_FORMAT", &cfg.LogFormat)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make([]string, 0, len(invalid))
			for _, fe := range invalid {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func lookupString(name string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		*dst = strings.TrimSpace(v)
	}
}

func lookupInt(name string, dst *int, errs *[]error) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = n
}

func lookupBool(name string, dst *bool, errs *[]error) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = b
}
