package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/projects.yaml
var defaultProjects []byte

// Strategy keys understood by the order engine registry.
const (
	StrategyHCT         = "hct"
	StrategyAIRS        = "airs"
	StrategyCascadia    = "cascadia"
	StrategySCAN        = "scan"
	StrategyPassthrough = "passthrough"
)

// Project is one records-platform project and its column mapping.
type Project struct {
	Name                string            `yaml:"name" validate:"required"`
	Strategy            string            `yaml:"strategy" validate:"required,oneof=hct airs cascadia scan passthrough"`
	Disabled            bool              `yaml:"disabled"`
	ProjectID           string            `yaml:"project_id" validate:"required,numeric"`
	ReportID            string            `yaml:"report_id" validate:"required,numeric"`
	Longitudinal        bool              `yaml:"longitudinal"`
	URLEnv              string            `yaml:"url_env"`
	IDField             string            `yaml:"id_field" validate:"required"`
	OrderDateLayout     string            `yaml:"order_date_layout"`
	EnrollmentEvent     string            `yaml:"enrollment_event"`
	OrderEvent          string            `yaml:"order_event"`
	Columns             map[string]string `yaml:"columns" validate:"required,min=1"`
	Sublocations        map[string]string `yaml:"sublocations"`
	CarrierSublocations map[string]string `yaml:"carrier_sublocations"`
	Zipcodes            ZipcodeMaps       `yaml:"zipcodes"`
	Reports             Reports           `yaml:"reports"`

	APIURL string `yaml:"-"`
	Token  string `yaml:"-"`
}

// Reports lists auxiliary report ids used by the Cascadia flows and dashboards.
type Reports struct {
	CarrierOrders string   `yaml:"carrier_orders" validate:"omitempty,numeric"`
	Serial        string   `yaml:"serial" validate:"omitempty,numeric"`
	Pauses        []string `yaml:"pauses" validate:"dive,numeric"`
	KitsShipped   string   `yaml:"kits_shipped" validate:"omitempty,numeric"`
}

// ZipcodeMaps translate raw zipcode codes and assign county sublocations.
type ZipcodeMaps struct {
	Labels   map[string]string   `yaml:"labels"`
	Counties map[string][]string `yaml:"counties"`
}

// County returns the sublocation tag whose zip list contains zip.
func (z ZipcodeMaps) County(zip string) (string, bool) {
	for tag, zips := range z.Counties {
		for _, candidate := range zips {
			if candidate == zip {
				return tag, true
			}
		}
	}
	return "", false
}

type projectFile struct {
	Carrier struct {
		ProjectMarker string `yaml:"project_marker"`
	} `yaml:"carrier"`
	Storage struct {
		Bucket         string `yaml:"bucket"`
		DeliveryPrefix string `yaml:"delivery_prefix"`
		CarrierPrefix  string `yaml:"carrier_prefix"`
		CourierPrefix  string `yaml:"courier_prefix"`
	} `yaml:"storage"`
	Projects []Project `yaml:"projects"`
}

func readProjectFile(path string) (projectFile, error) {
	data := defaultProjects
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return projectFile{}, fmt.Errorf("read project file: %w", err)
		}
		data = b
	}
	var pf projectFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return projectFile{}, fmt.Errorf("decode project file: %w", err)
	}
	seen := make(map[string]struct{}, len(pf.Projects))
	for _, p := range pf.Projects {
		if _, dup := seen[p.Name]; dup {
			return projectFile{}, fmt.Errorf("decode project file: duplicate project %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return pf, nil
}
