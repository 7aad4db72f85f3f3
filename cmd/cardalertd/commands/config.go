package commands

import (
	"fmt"

	"cardalert-backend/lib/configutil"
)

type CredentialsConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type BotConfig struct {
	ApiToken string `json:"api_token"`
}

type ProxyConfig struct {
	// proxy for reaching the bot API; the VPN and card portals are
	// always contacted directly
	Url string `json:"url"`
}

type LoopConfig struct {
	DayIntervalSeconds   int   `json:"day_interval_seconds"`
	NightIntervalSeconds int   `json:"night_interval_seconds"`
	MergeThresholdCents  int64 `json:"merge_threshold_cents"`
	LookupWindowDays     int   `json:"lookup_window_days"`
}

type Config struct {
	Vpn      CredentialsConfig `json:"vpn"`
	Ecard    CredentialsConfig `json:"ecard"`
	Bot      BotConfig         `json:"bot"`
	Proxy    ProxyConfig       `json:"proxy"`
	Loop     LoopConfig        `json:"loop"`
	Database string            `json:"database"`
}

func readConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil {
		return Config{}, err
	}
	for _, required := range []struct {
		key   string
		value string
	}{
		{"vpn.username", cfg.Vpn.Username},
		{"vpn.password", cfg.Vpn.Password},
		{"ecard.username", cfg.Ecard.Username},
		{"ecard.password", cfg.Ecard.Password},
		{"bot.api_token", cfg.Bot.ApiToken},
	} {
		if required.value == "" {
			return Config{}, fmt.Errorf("config key %q is required", required.key)
		}
	}
	if cfg.Database == "" {
		cfg.Database = "cardalert.db"
	}
	return cfg, nil
}
