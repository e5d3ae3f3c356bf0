package commands

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	keyBaseURL = "base_url"
	keyToken   = "token"
	keyOutput  = "output"

	defaultBaseURL = "http://localhost:42069"
)

func defaultProfilePath() string {
	if p := os.Getenv("TASKHIVE_PROFILE"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".taskhive", "profile.yaml")
	}
	return filepath.Join(dir, "taskhive", "profile.yaml")
}

func notExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}

// loadProfile reads the YAML profile at path, layering TASKHIVE_* env on
// top. A missing file is not an error.
func loadProfile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(keyBaseURL, defaultBaseURL)
	v.SetDefault(keyOutput, "table")
	v.SetEnvPrefix("TASKHIVE")
	for _, k := range []string{keyBaseURL, keyToken, keyOutput} {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !notExist(err) {
		return nil, err
	}
	return v, nil
}

// saveProfile merges values into the file at path. Only keys stored in the
// file are written back, so env and flag overrides never leak into it.
func saveProfile(path string, values map[string]any) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !notExist(err) {
		return err
	}
	for k, val := range values {
		v.Set(k, val)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := v.WriteConfigAs(path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}
