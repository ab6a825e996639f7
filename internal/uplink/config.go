package uplink

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// IfaceSelector identifies the network interface the uplink binds to.
// The config may give it as an integer index or an interface name.
type IfaceSelector struct {
	Name  string
	Index int
}

func (s *IfaceSelector) UnmarshalJSON(b []byte) error {
	var idx int
	if err := json.Unmarshal(b, &idx); err == nil {
		s.Index = idx
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("interface selector must be a number or a string: %w", err)
	}
	s.Name = name
	return nil
}

func (s IfaceSelector) MarshalJSON() ([]byte, error) {
	if s.Name != "" {
		return json.Marshal(s.Name)
	}
	return json.Marshal(s.Index)
}

// Config is the uplink section of the service configuration.
type Config struct {
	URL   string `json:"url" validate:"required,url"`
	Token string `json:"token" validate:"required"`

	Interface   IfaceSelector `json:"index"`
	Tag         string        `json:"tag"`
	Reboot      bool          `json:"reboot"`
	WSLogging   bool          `json:"ws_logging"`
	SerializeCT bool          `json:"serialize_ct"`
	CertsPath   string        `json:"certs_path"`
	VerifyCerts bool          `json:"verify_certs"`
}

// envelope is the top-level config document; only the uplink member is
// ours to read.
type envelope struct {
	Uplink *Config `json:"uplink"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ReadConfig parses the JSON configuration blob. Missing required
// fields are a hard error; the optional booleans default to reboot=true,
// ws_logging=true, verify_certs=true, serialize_ct=false.
func ReadConfig(blob []byte) (Config, error) {
	if len(blob) == 0 {
		return Config{}, fmt.Errorf("uplink config: empty document")
	}

	env := envelope{
		Uplink: &Config{
			Reboot:      true,
			WSLogging:   true,
			VerifyCerts: true,
		},
	}
	defaults := *env.Uplink
	if err := json.Unmarshal(blob, &env); err != nil {
		return Config{}, fmt.Errorf("uplink config: malformed document: %w", err)
	}
	if env.Uplink == nil {
		// "uplink": null knocks out the pre-seeded defaults.
		env.Uplink = &defaults
	}
	cfg := *env.Uplink
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("uplink config: %w", err)
	}
	return cfg, nil
}
