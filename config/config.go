// Package config loads the settings of the mount tool from an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	EnvPrefix = "QRFS"

	DefaultFsName = "qr_file_system"
)

// Mount configures a FUSE mount. Environment variables carry the QRFS_
// prefix, e.g. QRFS_ALLOW_OTHER.
type Mount struct {
	FsName         string        `yaml:"fsName"         envconfig:"FSNAME"`
	Debug          bool          `yaml:"debug"          envconfig:"DEBUG"`
	AllowOther     bool          `yaml:"allowOther"     envconfig:"ALLOW_OTHER"`
	SingleThreaded bool          `yaml:"singleThreaded" envconfig:"SINGLE_THREADED"`
	EntryTimeout   time.Duration `yaml:"entryTimeout"   envconfig:"ENTRY_TIMEOUT"`
	AttrTimeout    time.Duration `yaml:"attrTimeout"    envconfig:"ATTR_TIMEOUT"`
	LogLevel       string        `yaml:"logLevel"       envconfig:"LOG_LEVEL"`
}

func Default() Mount {
	return Mount{
		FsName:       DefaultFsName,
		EntryTimeout: time.Second,
		AttrTimeout:  time.Second,
		LogLevel:     logrus.InfoLevel.String(),
	}
}

// Load starts from Default, applies the YAML file at path (or at
// $QRFS_CONFIG_FILE when path is empty) and then the environment. A missing
// file is an error only when it was named explicitly.
func Load(path string) (*Mount, error) {
	c := Default()
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.UnmarshalStrict(data, &c); err != nil {
				return nil, fmt.Errorf("unmarshaling config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Mount) Validate() error {
	if c.FsName == "" {
		return fmt.Errorf("invalid configuration: fsName / %s_FSNAME is empty", EnvPrefix)
	}
	if c.EntryTimeout < 0 || c.AttrTimeout < 0 {
		return fmt.Errorf("invalid configuration: negative timeout")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid configuration: logLevel / %s_LOG_LEVEL: %w", EnvPrefix, err)
	}
	return nil
}

// Level is the logrus level named by LogLevel; Debug forces debug output.
func (c *Mount) Level() logrus.Level {
	if c.Debug {
		return logrus.DebugLevel
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
