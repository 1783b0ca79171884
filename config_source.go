package streamtask

/*
   Copyright 2018 Bruno Moura <brunotm@gmail.com>

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

import (
	"time"

	"github.com/spf13/viper"
)

// RuntimeConfig holds the process-wide tunables a Task is initialized with
// (§6, "Configuration (process-wide)"). It is read-only after startup.
type RuntimeConfig struct {
	SinkDataRateBytesPerSec int64

	CheckRspInterval     time.Duration
	CheckNotRspDuration  time.Duration

	LaunchHTaskInterval         time.Duration
	WaitForMinimalInterval      time.Duration
	RetryLaunchIntervalIncRate  float64
}

// DefaultRuntimeConfig returns the tunables normatively fixed by §4.5 and
// §6 ("CHECK_RSP_INTERVAL = 300 ms", "CHECK_NOT_RSP_DURATION = 10 000 ms"),
// with reasonable defaults for the history-task launch tunables the
// external launcher consumes.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		SinkDataRateBytesPerSec:    0, // 0 means unlimited (rate.Inf)
		CheckRspInterval:           300 * time.Millisecond,
		CheckNotRspDuration:        10000 * time.Millisecond,
		LaunchHTaskInterval:        5 * time.Second,
		WaitForMinimalInterval:     2 * time.Second,
		RetryLaunchIntervalIncRate: 1.5,
	}
}

// LoadRuntimeConfig reads process tunables from path (any format viper
// supports: YAML, TOML, JSON, env) layered over DefaultRuntimeConfig, and
// overridden by any STREAMTASK_-prefixed environment variable (e.g.
// STREAMTASK_CHECK_RSP_INTERVAL). This is the ambient config-loading
// pattern the rest of the stack uses spf13/viper for; it is the only
// config reader in this package.
func LoadRuntimeConfig(path string) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()

	v := viper.New()
	v.SetEnvPrefix("STREAMTASK")
	v.AutomaticEnv()

	v.SetDefault("sink_data_rate_bytes_per_sec", cfg.SinkDataRateBytesPerSec)
	v.SetDefault("check_rsp_interval", cfg.CheckRspInterval)
	v.SetDefault("check_not_rsp_duration", cfg.CheckNotRspDuration)
	v.SetDefault("launch_htask_interval", cfg.LaunchHTaskInterval)
	v.SetDefault("wait_for_minimal_interval", cfg.WaitForMinimalInterval)
	v.SetDefault("retry_launch_interval_inc_rate", cfg.RetryLaunchIntervalIncRate)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	cfg.SinkDataRateBytesPerSec = v.GetInt64("sink_data_rate_bytes_per_sec")
	cfg.CheckRspInterval = v.GetDuration("check_rsp_interval")
	cfg.CheckNotRspDuration = v.GetDuration("check_not_rsp_duration")
	cfg.LaunchHTaskInterval = v.GetDuration("launch_htask_interval")
	cfg.WaitForMinimalInterval = v.GetDuration("wait_for_minimal_interval")
	cfg.RetryLaunchIntervalIncRate = v.GetFloat64("retry_launch_interval_inc_rate")

	return cfg, nil
}
