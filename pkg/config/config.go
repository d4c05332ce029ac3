package config

import (
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/gridbuilder/elmtask/pkg/buildsys"
)

// Config describes all configuration options
type Config struct {
	Tasks string `default:"tasks.star" usage:"Name of the task script searched in the current and parent directories"`
	Cache bool   `default:"true" usage:"Cache the parsed task script"`
	Log   struct {
		Level string `default:"info"`
		File  string
		JSON  bool `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Elm struct {
		Init string `default:"elm-package install --yes" usage:"Shell command run by elm-init"`
		Make string `default:"elm-make --yes" usage:"Compiler command; the source and --output <file> are appended"`
	}
	Watch struct {
		Lull int `default:"100" usage:"Milliseconds without changes before a watch triggers"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Flags are handled by the CLI so aconfig only reads defaults, elmtask.toml and ELMTASK_* variables.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{"elmtask.toml"}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "ELMTASK",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if len(strings.Fields(cfg.Elm.Make)) == 0 {
		return eris.New(`elm.make can't be empty`)
	}

	if cfg.Watch.Lull < 0 {
		return eris.Errorf(`Invalid value for watch.lull: %d (must not be negative)`, cfg.Watch.Lull)
	}

	if cfg.Tasks == "" {
		return eris.New(`tasks can't be empty`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// Toolchain returns the compiler settings
func (cfg *Config) Toolchain() buildsys.Toolchain {
	return buildsys.Toolchain{
		Init: cfg.Elm.Init,
		Make: strings.Fields(cfg.Elm.Make),
	}
}

// Lull returns the watch debounce interval
func (cfg *Config) Lull() time.Duration {
	return time.Duration(cfg.Watch.Lull) * time.Millisecond
}
