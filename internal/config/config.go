package config

import "github.com/spf13/viper"

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Storage struct {
		// Driver is "postgres" or "memory"; memory keeps everything
		// in-process and is meant for local runs.
		Driver string
		DSN    string
	} `mapstructure:"storage"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Alerts struct {
		Enabled       bool
		TelegramToken string `mapstructure:"telegram_token"`
		ChatID        int64  `mapstructure:"chat_id"`
		IntervalMin   int    `mapstructure:"interval_min"`
		ExpiryDays    int    `mapstructure:"expiry_days"`
	} `mapstructure:"alerts"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("alerts.interval_min", 60)
	v.SetDefault("alerts.expiry_days", 30)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}
