// Copyright © 2024 Genome Research Limited
//
//  This file is part of qcpipe.
//
//  qcpipe is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Lesser General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  qcpipe is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Lesser General Public License for more details.
//
//  You should have received a copy of the GNU Lesser General Public License
//  along with qcpipe. If not, see <http://www.gnu.org/licenses/>.

package internal

// this file implements the config system used by the cmd package

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/inconshreveable/log15"
	"github.com/jinzhu/configor"
	"github.com/olekukonko/tablewriter"
)

const (
	configCommonBasename = ".qcpipe_config.yml"

	// ConfigEnvPrefix is the prefix of environment variables that can set
	// config values, eg. QCPIPE_LIMIT.
	ConfigEnvPrefix = "QCPIPE"

	// ConfigDirEnvVar names the environment variable that can point to an
	// extra directory containing a config file.
	ConfigDirEnvVar = "QCPIPE_CONFIG_DIR"

	// ConfigSourceEnvVar is a config value source
	ConfigSourceEnvVar = "env var"

	// ConfigSourceDefault is a config value source
	ConfigSourceDefault = "default"

	// ConfigSourceFlag is a config value source
	ConfigSourceFlag = "command line"

	sourcesProperty = "sources"

	defaultUmask os.FileMode = 0002
)

// Config holds the configuration options for running and reporting on QC
// pipelines.
type Config struct {
	Runner         string `default:"local"`
	QueueSystem    string `default:"sge"`
	QueueArgs      string `default:""`
	Limit          int    `default:"4"`
	LogDir         string `default:""`
	PollSeconds    int    `default:"5"`
	MaxPollSeconds int    `default:"5"`
	TimeoutMinutes int    `default:"0"`
	Umask          string `default:"002"`
	HistoryDB      string `default:"~/.qcpipe/history.db"`
	sources        map[string]string
}

// configValues has the same fields as Config but no default tags. configor
// loads into this so that it can't reset zero values the user supplied (eg.
// limit: 0) to their defaults; defaults are set by creasty/defaults alone.
type configValues struct {
	Runner         string
	QueueSystem    string
	QueueArgs      string
	Limit          int
	LogDir         string
	PollSeconds    int
	MaxPollSeconds int
	TimeoutMinutes int
	Umask          string
	HistoryDB      string
	sources        map[string]string
}

// configorLoad loads env vars and the given files over c's current values.
func configorLoad(c *Config, files ...string) error {
	values := configValues(*c)
	if err := configor.Load(&values, files...); err != nil {
		return err
	}
	*c = Config(values)
	return nil
}

// merge compares existing to new Config values, and for each one that has
// changed, sets the given source on the changed property in our sources,
// and sets the new value on ourselves.
func (c *Config) merge(new *Config, source string) {
	v := reflect.ValueOf(*c)
	typeOfC := v.Type()
	vNew := reflect.ValueOf(*new)

	if c.sources == nil {
		c.sources = make(map[string]string)
	}

	for i := 0; i < v.NumField(); i++ {
		property := typeOfC.Field(i).Name
		if property == sourcesProperty {
			continue
		}

		if vNew.Field(i).Interface() != v.Field(i).Interface() {
			c.sources[property] = source

			adrField := reflect.ValueOf(c).Elem().Field(i)
			switch typeOfC.Field(i).Type.Kind() {
			case reflect.String:
				adrField.SetString(vNew.Field(i).String())
			case reflect.Int:
				adrField.SetInt(vNew.Field(i).Int())
			}
		}
	}
}

// clone makes a new Config with our values.
func (c *Config) clone() *Config {
	clone := *c
	clone.sources = make(map[string]string, len(c.sources))
	for key, val := range c.sources {
		clone.sources[key] = val
	}
	return &clone
}

// Override sets a string or int property to the given value, recording that it
// came from the command line. Used by the cmd package to apply flags the user
// explicitly set. Unknown properties are ignored.
func (c *Config) Override(property string, value interface{}) {
	field := reflect.ValueOf(c).Elem().FieldByName(property)
	if !field.IsValid() || !field.CanSet() {
		return
	}

	switch val := value.(type) {
	case string:
		if field.Kind() != reflect.String {
			return
		}
		field.SetString(val)
	case int:
		if field.Kind() != reflect.Int {
			return
		}
		field.SetInt(int64(val))
	default:
		return
	}

	if c.sources == nil {
		c.sources = make(map[string]string)
	}
	c.sources[property] = ConfigSourceFlag
}

// Source returns where the value of a Config field was defined.
func (c Config) Source(field string) string {
	if c.sources == nil {
		return ConfigSourceDefault
	}
	source, set := c.sources[field]
	if !set {
		return ConfigSourceDefault
	}
	return source
}

func (c Config) String() string {
	v := reflect.ValueOf(c)
	typeOfC := v.Type()

	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)
	table.SetHeader([]string{"Config", "Value", "Source"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for i := 0; i < v.NumField(); i++ {
		property := typeOfC.Field(i).Name
		if property == sourcesProperty {
			continue
		}

		table.Append([]string{property, fmt.Sprintf("%v", v.Field(i).Interface()), c.Source(property)})
	}

	table.Render()
	return tableString.String()
}

// PollInterval returns PollSeconds as a Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// MaxPollInterval returns MaxPollSeconds as a Duration, never less than
// PollInterval().
func (c Config) MaxPollInterval() time.Duration {
	if c.MaxPollSeconds < c.PollSeconds {
		return c.PollInterval()
	}
	return time.Duration(c.MaxPollSeconds) * time.Second
}

// FileUmask parses Umask as an octal number. Invalid values give the default
// of 002.
func (c Config) FileUmask() os.FileMode {
	mask, err := strconv.ParseUint(c.Umask, 8, 32)
	if err != nil {
		return defaultUmask
	}
	return os.FileMode(mask)
}

// Timeout returns TimeoutMinutes as a Duration; 0 means jobs may run forever.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

/*
ConfigLoad loads configuration settings from files and environment variables.
Note, this function exits on error, since without config we can't do anything.

We prefer settings in config file in current dir over config file in home
directory over config file in dir pointed to by QCPIPE_CONFIG_DIR. Any setting
can also be set with the environment variable QCPIPE_<setting name in caps>,
which takes precedence over the files, eg.
export QCPIPE_LIMIT="8"
*/
func ConfigLoad(logger log15.Logger) Config {
	config, err := configLoad()
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	return config
}

// configLoad does the work of ConfigLoad(), returning errors instead of
// exiting.
func configLoad() (Config, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	err = os.Setenv("CONFIGOR_ENV_PREFIX", ConfigEnvPrefix)
	if err != nil {
		return Config{}, err
	}

	// because we want to know the source of every value, we can't take
	// advantage of configor.Load() being able to take all env vars and config
	// files at once. We do it repeatedly and merge results instead
	config := &Config{}
	if err = defaults.Set(config); err != nil {
		return Config{}, err
	}

	configEnv := config.clone()
	if err = configorLoad(configEnv); err != nil {
		return Config{}, err
	}
	config.merge(configEnv, ConfigSourceEnvVar)

	if configDir := os.Getenv(ConfigDirEnvVar); configDir != "" {
		if err = configLoadFromFile(config, filepath.Join(configDir, configCommonBasename)); err != nil {
			return Config{}, err
		}
	}

	if home, herr := os.UserHomeDir(); herr == nil && home != "" {
		if err = configLoadFromFile(config, filepath.Join(home, configCommonBasename)); err != nil {
			return Config{}, err
		}
	}

	if err = configLoadFromFile(config, filepath.Join(pwd, configCommonBasename)); err != nil {
		return Config{}, err
	}

	config.HistoryDB = TildaToHome(config.HistoryDB)

	return *config, nil
}

// configLoadFromFile merges in the settings of the given config file, if it
// exists.
func configLoadFromFile(config *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	configFile := config.clone()
	if err := configorLoad(configFile, path); err != nil {
		return err
	}
	config.merge(configFile, path)
	return nil
}
