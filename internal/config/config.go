// Package config loads the immutable run configuration: per-project record
// mappings from a YAML file plus credentials and sink settings from the
// environment. A Config is built once at startup and passed to components.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrProjectConfig marks a project whose configuration is unusable. It is
// fatal for that project only.
var ErrProjectConfig = errors.New("project configuration error")

// Environment variables read by Load.
const (
	EnvDefaultRecordsURL = "REDCAP_API_URL"
	EnvCarrierAuth       = "AUTHORIZATION"
	EnvCarrierSearchURL  = "LOGISTICS_CARRIER_SEARCH_URL"
	EnvDataDir           = "LOGISTICS_DATA_DIR"
	EnvBlobDriver        = "LOGISTICS_BLOB_DRIVER"
	EnvBlobFSRoot        = "LOGISTICS_BLOB_FS_ROOT"
	EnvBucket            = "LOGISTICS_BLOB_S3_BUCKET"
	EnvBlobRegion        = "LOGISTICS_BLOB_S3_REGION"
	EnvBlobEndpoint      = "LOGISTICS_BLOB_S3_ENDPOINT"
	EnvBlobPathStyle     = "LOGISTICS_BLOB_S3_PATH_STYLE"
	EnvSheetsDriver      = "LOGISTICS_SHEETS_DRIVER"
	EnvSheetsDSN         = "LOGISTICS_SHEETS_DSN"
	EnvPushgatewayURL    = "LOGISTICS_PUSHGATEWAY_URL"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"
	EnvRecordsTimeout    = "LOGISTICS_RECORDS_TIMEOUT"
)

const (
	defaultCarrierSearchURL = "https://deliveryexpresslogistics.dsapp.io/integration/api/v1/orders/search"
	defaultBucket           = "bbi-logistics-orders"
	defaultDataDir          = "data"
	defaultRecordsTimeout   = 60 * time.Second
)

// Carrier configures the delivery-service order search.
type Carrier struct {
	SearchURL     string `validate:"required,url"`
	Authorization string // user:password for basic auth
	ProjectMarker string `validate:"required"`
}

// Storage selects the object storage backend and names the key prefixes for
// order files.
type Storage struct {
	Driver         string `validate:"oneof=fs s3 memory"`
	FSRoot         string
	Bucket         string `validate:"required"`
	Region         string
	Endpoint       string `validate:"omitempty,url"`
	PathStyle      bool
	DeliveryPrefix string `validate:"required"`
	CarrierPrefix  string `validate:"required"`
	CourierPrefix  string `validate:"required"`
}

// Sheets selects the dashboard table sink.
type Sheets struct {
	Driver string `validate:"omitempty,oneof=memory sqlite postgres"`
	DSN    string
}

// Metrics configures run metric export.
type Metrics struct {
	PushgatewayURL string `validate:"omitempty,url"`
	Job            string
}

// Config is the immutable configuration for one process run.
type Config struct {
	Projects       []Project
	Invalid        map[string]error
	DataDir        string
	RecordsTimeout time.Duration
	Carrier        Carrier
	Storage        Storage
	Sheets         Sheets
	Metrics        Metrics
	LogLevel       string
	LogFormat      string
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	ProjectsFile string   // YAML project file; embedded defaults when empty
	EnvFiles     []string // dotenv files merged beneath the process environment
	Getenv       func(string) string
}

// Load reads the project file and environment into a Config. Invalid project
// entries are recorded in Config.Invalid instead of failing the load.
func Load(opts LoadOptions) (Config, error) {
	getenv, err := envLookup(opts)
	if err != nil {
		return Config{}, err
	}
	file, err := readProjectFile(opts.ProjectsFile)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Invalid:        make(map[string]error),
		DataDir:        firstNonEmpty(getenv(EnvDataDir), defaultDataDir),
		RecordsTimeout: defaultRecordsTimeout,
		Carrier: Carrier{
			SearchURL:     firstNonEmpty(getenv(EnvCarrierSearchURL), defaultCarrierSearchURL),
			Authorization: getenv(EnvCarrierAuth),
			ProjectMarker: firstNonEmpty(file.Carrier.ProjectMarker, "CASCADIA"),
		},
		Storage: Storage{
			Driver:         strings.ToLower(firstNonEmpty(getenv(EnvBlobDriver), "s3")),
			FSRoot:         firstNonEmpty(getenv(EnvBlobFSRoot), "blobdata"),
			Bucket:         firstNonEmpty(getenv(EnvBucket), file.Storage.Bucket, defaultBucket),
			Region:         firstNonEmpty(getenv(EnvBlobRegion), "us-west-2"),
			Endpoint:       getenv(EnvBlobEndpoint),
			PathStyle:      strings.EqualFold(getenv(EnvBlobPathStyle), "true"),
			DeliveryPrefix: firstNonEmpty(file.Storage.DeliveryPrefix, "delivery_express"),
			CarrierPrefix:  firstNonEmpty(file.Storage.CarrierPrefix, "usps"),
			CourierPrefix:  firstNonEmpty(file.Storage.CourierPrefix, "courier"),
		},
		Sheets: Sheets{
			Driver: strings.ToLower(firstNonEmpty(getenv(EnvSheetsDriver), "sqlite")),
			DSN:    getenv(EnvSheetsDSN),
		},
		Metrics: Metrics{
			PushgatewayURL: getenv(EnvPushgatewayURL),
			Job:            "logistics",
		},
		LogLevel:  getenv(EnvLogLevel),
		LogFormat: getenv(EnvLogFormat),
	}
	if raw := getenv(EnvRecordsTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvRecordsTimeout, err)
		}
		cfg.RecordsTimeout = d
	}

	validate := validator.New()
	for _, section := range []any{cfg.Carrier, cfg.Storage, cfg.Sheets, cfg.Metrics} {
		if err := validate.Struct(section); err != nil {
			return Config{}, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	for _, p := range file.Projects {
		if p.Disabled {
			continue
		}
		resolved, err := resolveProject(validate, p, getenv)
		if err != nil {
			cfg.Invalid[p.Name] = err
			continue
		}
		cfg.Projects = append(cfg.Projects, resolved)
	}
	return cfg, nil
}

// Project returns the named project or the reason it cannot be used.
func (c Config) Project(name string) (Project, error) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, nil
		}
	}
	if err, ok := c.Invalid[name]; ok {
		return Project{}, err
	}
	return Project{}, fmt.Errorf("%w: %s is not configured", ErrProjectConfig, name)
}

// ProjectNames lists every configured project, valid or not, valid first.
func (c Config) ProjectNames() []string {
	names := make([]string, 0, len(c.Projects)+len(c.Invalid))
	for _, p := range c.Projects {
		names = append(names, p.Name)
	}
	invalid := make([]string, 0, len(c.Invalid))
	for name := range c.Invalid {
		invalid = append(invalid, name)
	}
	sort.Strings(invalid)
	return append(names, invalid...)
}

func resolveProject(validate *validator.Validate, p Project, getenv func(string) string) (Project, error) {
	if err := validate.Struct(p); err != nil {
		return Project{}, fmt.Errorf("%w: %s: %v", ErrProjectConfig, p.Name, err)
	}
	rawURL := getenv(p.URLEnv)
	if rawURL == "" {
		rawURL = getenv(EnvDefaultRecordsURL)
	}
	if rawURL == "" {
		return Project{}, fmt.Errorf("%w: %s: no records API url (%s or %s)", ErrProjectConfig, p.Name, p.URLEnv, EnvDefaultRecordsURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Project{}, fmt.Errorf("%w: %s: invalid records API url %q", ErrProjectConfig, p.Name, rawURL)
	}
	tokenVar := TokenEnvName(u.Host, p.ProjectID)
	token := getenv(tokenVar)
	if token == "" {
		return Project{}, fmt.Errorf("%w: %s: %s is not set", ErrProjectConfig, p.Name, tokenVar)
	}
	p.APIURL = u.String()
	p.Token = token
	return p, nil
}

// TokenEnvName is the environment variable holding a project's API token.
func TokenEnvName(host, projectID string) string {
	return fmt.Sprintf("REDCAP_API_TOKEN_%s_%s", host, projectID)
}

func envLookup(opts LoadOptions) (func(string) string, error) {
	base := opts.Getenv
	if base == nil {
		base = os.Getenv
	}
	if len(opts.EnvFiles) == 0 {
		return base, nil
	}
	fileVals, err := godotenv.Read(opts.EnvFiles...)
	if err != nil {
		return nil, fmt.Errorf("read env files: %w", err)
	}
	return func(key string) string {
		if v := base(key); v != "" {
			return v
		}
		return fileVals[key]
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
