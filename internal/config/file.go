package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Load reads configuration from an INI file on top of the defaults.
// If the file doesn't exist, returns the defaults and no error.
//
// INI format:
//
//	[gateway]
//	url = http://localhost:5001/api
//	token = <bearer-token>
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 8080
//	user =
//	no_proxy = localhost,127.0.0.1
//	warmup = false
//
//	[polling]
//	interval_ms = 2000
//	max_consecutive_failures = 3
//
//	[notifications]
//	enabled = true
//	show_task_complete = true
//	show_task_failed = true
//	show_download_complete = false
//
//	[export]
//	s3_bucket =
//	s3_region =
//	azure_account_url =
//	azure_container =
//	prefix =
//
//	[logging]
//	file =
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	gw := iniFile.Section("gateway")
	cfg.APIBaseURL = gw.Key("url").MustString(cfg.APIBaseURL)
	cfg.Token = gw.Key("token").String()

	proxy := iniFile.Section("proxy")
	cfg.ProxyMode = proxy.Key("mode").MustString(cfg.ProxyMode)
	cfg.ProxyHost = proxy.Key("host").String()
	cfg.ProxyPort = proxy.Key("port").MustInt(0)
	cfg.ProxyUser = proxy.Key("user").String()
	cfg.NoProxy = proxy.Key("no_proxy").String()
	cfg.ProxyWarmup = proxy.Key("warmup").MustBool(false)

	polling := iniFile.Section("polling")
	intervalMs := polling.Key("interval_ms").MustInt(int(cfg.PollInterval / time.Millisecond))
	cfg.PollInterval = time.Duration(intervalMs) * time.Millisecond
	cfg.MaxConsecutiveFailures = polling.Key("max_consecutive_failures").MustInt(cfg.MaxConsecutiveFailures)

	notifications := iniFile.Section("notifications")
	cfg.NotificationsEnabled = notifications.Key("enabled").MustBool(true)
	cfg.Notifications = notifications.KeysHash()

	export := iniFile.Section("export")
	cfg.Export.S3Bucket = export.Key("s3_bucket").String()
	cfg.Export.S3Region = export.Key("s3_region").String()
	cfg.Export.AzureAccountURL = export.Key("azure_account_url").String()
	cfg.Export.AzureContainer = export.Key("azure_container").String()
	cfg.Export.Prefix = export.Key("prefix").String()

	cfg.LogFile = iniFile.Section("logging").Key("file").String()

	return cfg, nil
}

// Save writes configuration to an INI file.
// The proxy password is never persisted. The token is stored in the file, so
// the file is written with owner-only permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	sections := []struct {
		name   string
		values [][2]string
	}{
		{"gateway", [][2]string{
			{"url", cfg.APIBaseURL},
			{"token", cfg.Token},
		}},
		{"proxy", [][2]string{
			{"mode", cfg.ProxyMode},
			{"host", cfg.ProxyHost},
			{"port", strconv.Itoa(cfg.ProxyPort)},
			{"user", cfg.ProxyUser},
			{"no_proxy", cfg.NoProxy},
			{"warmup", strconv.FormatBool(cfg.ProxyWarmup)},
		}},
		{"polling", [][2]string{
			{"interval_ms", strconv.FormatInt(cfg.PollInterval.Milliseconds(), 10)},
			{"max_consecutive_failures", strconv.Itoa(cfg.MaxConsecutiveFailures)},
		}},
		{"notifications", notificationValues(cfg)},
		{"export", [][2]string{
			{"s3_bucket", cfg.Export.S3Bucket},
			{"s3_region", cfg.Export.S3Region},
			{"azure_account_url", cfg.Export.AzureAccountURL},
			{"azure_container", cfg.Export.AzureContainer},
			{"prefix", cfg.Export.Prefix},
		}},
		{"logging", [][2]string{
			{"file", cfg.LogFile},
		}},
	}

	for _, s := range sections {
		sec, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.values {
			sec.Key(kv[0]).SetValue(kv[1])
		}
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// notificationValues writes enabled first, then any other keys in name order.
func notificationValues(cfg *Config) [][2]string {
	values := [][2]string{{"enabled", strconv.FormatBool(cfg.NotificationsEnabled)}}
	keys := make([]string, 0, len(cfg.Notifications))
	for k := range cfg.Notifications {
		if k != "enabled" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		values = append(values, [2]string{k, cfg.Notifications[k]})
	}
	return values
}
