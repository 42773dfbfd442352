// pkg/config/load.go

package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SearchPaths are tried in order when no file is given.
var SearchPaths = []string{".", "/etc/delphi-sync"}

// Load reads path, or the first delphi-sync.yaml in SearchPaths when path is
// empty, then applies .env and DELPHI_* overrides. A missing file is not an
// error; an unreadable or invalid one is.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, filepath.Ext(DefaultFileName)))
		v.SetConfigType("yaml")
		for _, p := range SearchPaths {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, cerr.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, cerr.Wrap(err, "decode config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg and reports every invalid field at once.
func Validate(cfg *Config) error {
	validate := validator.New()
	var result *multierror.Error
	collect := func(err error, root reflect.Type, prefix string) {
		if err == nil {
			return
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			result = multierror.Append(result, err)
			return
		}
		for _, fe := range verrs {
			result = multierror.Append(result, cerr.Newf("%s%s: failed %q", prefix, fieldPath(fe, root), fe.Tag()))
		}
	}

	collect(validate.Struct(cfg), reflect.TypeOf(*cfg), "")
	if cfg.Ticketing.Backend == "glpi" {
		collect(validate.Struct(cfg.Ticketing.GLPI), reflect.TypeOf(cfg.Ticketing.GLPI), "ticketing.glpi.")
	}
	if err := result.ErrorOrNil(); err != nil {
		return cerr.WithHint(cerr.Wrap(err, "invalid configuration"),
			"check delphi-sync.yaml and DELPHI_* environment variables")
	}
	return nil
}

// fieldPath turns Config.Database.DSN into database.dsn using the
// mapstructure keys of root.
func fieldPath(fe validator.FieldError, root reflect.Type) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 0 {
		parts = parts[1:]
	}
	t := root
	out := make([]string, 0, len(parts))
	for _, name := range parts {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			out = append(out, strings.ToLower(name))
			continue
		}
		f, ok := t.FieldByName(name)
		if !ok {
			out = append(out, strings.ToLower(name))
			continue
		}
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" {
			tag = strings.ToLower(name)
		}
		out = append(out, tag)
		t = f.Type
	}
	return strings.Join(out, ".")
}

// loadDotEnv reads .env next to the config file, or in the working
// directory. Variables already set win.
func loadDotEnv(path string) error {
	dir := "."
	if path != "" {
		dir = filepath.Dir(path)
	}
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err != nil {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return cerr.Wrapf(err, "load %s", envFile)
	}
	return nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// that are absent from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	walk(v, "", reflect.ValueOf(cfg))
}

func walk(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		fv := val.Field(i)
		switch {
		case f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time":
			walk(v, key, fv)
		case f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.Struct:
			elem := fv
			if elem.IsNil() {
				elem = reflect.New(f.Type.Elem())
			}
			walk(v, key, elem.Elem())
		default:
			v.SetDefault(key, fv.Interface())
		}
	}
}
