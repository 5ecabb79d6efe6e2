package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can say "5s" or "100ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type Config struct {
	StationID        string `yaml:"station_id"`
	CentralSystemURL string `yaml:"central_system_url"`
	DBPath           string `yaml:"db_path"`

	Connectors       int `yaml:"connectors"`
	DefaultConnector int `yaml:"default_connector"`

	// Simulated electrical characteristics. 480V x 120A DC fast charging.
	ChargingPowerW    int `yaml:"charging_power_w"`
	NominalVoltageV   int `yaml:"nominal_voltage_v"`
	NominalCurrentA   int `yaml:"nominal_current_a"`
	VoltageJitterV    int `yaml:"voltage_jitter_v"`
	CurrentJitterA    int `yaml:"current_jitter_a"`
	PowerJitterW      int `yaml:"power_jitter_w"`
	BatteryCapacityWh int `yaml:"battery_capacity_wh"`
	StartSoCPercent   int `yaml:"start_soc_percent"`
	IdleMeterBaseWh   int `yaml:"idle_meter_base_wh"`
	IdleMeterOffsetWh int `yaml:"idle_meter_offset_wh"`

	CallTimeout       Duration `yaml:"call_timeout"`
	AuthRetryInterval Duration `yaml:"auth_retry_interval"`
	StopRetryInterval Duration `yaml:"stop_retry_interval"`
	StopRetryMax      int      `yaml:"stop_retry_max"`
	RefreshInterval   Duration `yaml:"refresh_interval"`
}

func DefaultConfig() Config {
	return Config{
		StationID:         "CP_SIM_001",
		DBPath:            "db",
		Connectors:        2,
		DefaultConnector:  0,
		ChargingPowerW:    57600,
		NominalVoltageV:   480,
		NominalCurrentA:   120,
		VoltageJitterV:    10,
		CurrentJitterA:    1,
		PowerJitterW:      200,
		BatteryCapacityWh: 100_000,
		StartSoCPercent:   20,
		IdleMeterBaseWh:   10_000,
		IdleMeterOffsetWh: 100,
		CallTimeout:       Duration(500 * time.Millisecond),
		AuthRetryInterval: Duration(5 * time.Second),
		StopRetryInterval: Duration(100 * time.Millisecond),
		StopRetryMax:      10,
		RefreshInterval:   Duration(time.Second),
	}
}

// LoadConfig overlays the YAML file at path on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Connectors <= 0 {
		return fmt.Errorf("config: connectors must be positive, got %d", c.Connectors)
	}
	if c.DefaultConnector < 0 || c.DefaultConnector >= c.Connectors {
		return fmt.Errorf("config: default_connector %d out of range 0..%d", c.DefaultConnector, c.Connectors-1)
	}
	if c.StartSoCPercent < 0 || c.StartSoCPercent > 100 {
		return fmt.Errorf("config: start_soc_percent %d out of range 0..100", c.StartSoCPercent)
	}
	if c.BatteryCapacityWh <= 0 {
		return fmt.Errorf("config: battery_capacity_wh must be positive")
	}
	return nil
}
