// Package config loads the rfm configuration and sets up logging.
package config

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/opensource-finance/rfm/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. RFM_QUANTILE_COUNT.
const EnvPrefix = "RFM"

// Load reads configuration from path, or from an optional rfm.yaml in the
// working directory when path is empty, then applies RFM_* environment
// overrides. The result is not validated.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rfm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if used := v.ConfigFileUsed(); used != "" {
		zap.L().Debug("configuration file loaded", zap.String("path", used))
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := domain.DefaultConfig()

	v.SetDefault("analysis_window.start", "")
	v.SetDefault("analysis_window.end", "")
	v.SetDefault("reference_date", d.ReferenceDate)
	v.SetDefault("quantile_count", d.QuantileCount)
	v.SetDefault("rules_file", "")
	v.SetDefault("partitions", d.Partitions)

	v.SetDefault("validation.mobile_pattern", d.Validation.MobilePattern)
	v.SetDefault("validation.date_layouts", d.Validation.DateLayouts)

	v.SetDefault("source.format", d.Source.Format)
	v.SetDefault("source.paths", []string{})
	v.SetDefault("source.sheets", []string{})
	v.SetDefault("source.delimiter", d.Source.Delimiter)
	v.SetDefault("source.encoding", d.Source.Encoding)
	v.SetDefault("source.columns.mobile", d.Source.Columns.Mobile)
	v.SetDefault("source.columns.invoice_no", d.Source.Columns.InvoiceNo)
	v.SetDefault("source.columns.store_id", d.Source.Columns.StoreID)
	v.SetDefault("source.columns.item_name", d.Source.Columns.ItemName)
	v.SetDefault("source.columns.date", d.Source.Columns.Date)
	v.SetDefault("source.columns.amount", d.Source.Columns.Amount)
	v.SetDefault("source.sql.driver", "")
	v.SetDefault("source.sql.dsn", "")
	v.SetDefault("source.sql.query", "")

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.formats", d.Output.Formats)
	v.SetDefault("output.persist", d.Output.Persist)
	v.SetDefault("output.publish", d.Output.Publish)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", "localhost")
	v.SetDefault("repository.postgres_port", 5432)
	v.SetDefault("repository.postgres_user", "")
	v.SetDefault("repository.postgres_password", "")
	v.SetDefault("repository.postgres_db", "rfm")
	v.SetDefault("repository.postgres_sslmode", "disable")
	v.SetDefault("repository.max_open_conns", 0)
	v.SetDefault("repository.max_idle_conns", 0)
	v.SetDefault("repository.conn_max_lifetime", "0s")

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", "5m")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.enable_two_phase", false)

	v.SetDefault("event_bus.type", d.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", "nats://localhost:4222")
	v.SetDefault("event_bus.nats_token", "")
	v.SetDefault("event_bus.nats_max_reconnects", 10)
	v.SetDefault("event_bus.nats_reconnect_wait", 5)
	v.SetDefault("event_bus.request_timeout", 300)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// InitLogger installs the global zap logger.
func InitLogger(cfg domain.LoggingConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	levelText := cfg.Level
	if levelText == "" {
		levelText = "info"
	}
	level, err := zapcore.ParseLevel(levelText)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
