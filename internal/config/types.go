package config

import (
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/threadgate/internal/visibility"
)

// Config is the complete threadgate configuration.
type Config struct {
	Include []string      `yaml:"include,omitempty"`
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api"`
	Plugins PluginsConfig `yaml:"plugins"`
	Notify  NotifyConfig  `yaml:"notify,omitempty"`
	Events  EventsConfig  `yaml:"events,omitempty"`

	// SourceFiles lists every file that contributed, root first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines where operators and threads are stored.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the HTTP API.
type APIConfig struct {
	Listen string     `yaml:"listen"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken is a bearer token. OperatorID binds it to an operator session.
type APIToken struct {
	Token      string   `yaml:"token"`
	OperatorID int64    `yaml:"operator_id,omitempty"`
	Scopes     []string `yaml:"scopes"`
}

// PluginsConfig holds per-plugin settings.
type PluginsConfig struct {
	OperatorCode OperatorCodePlugin `yaml:"filter_visitors_by_operator_code"`
}

// OperatorCodePlugin configures the operator-code visibility filter.
// Pointers let an included file reset a value set by an earlier one.
type OperatorCodePlugin struct {
	Enabled              *bool `yaml:"enabled,omitempty"`
	EnableForSupervisors *bool `yaml:"enable_for_supervisors,omitempty"`
}

// IsEnabled defaults to true when unset.
func (p OperatorCodePlugin) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Visibility returns the filter configuration.
func (p OperatorCodePlugin) Visibility() visibility.Config {
	return visibility.Config{
		EnableForSupervisors: p.EnableForSupervisors != nil && *p.EnableForSupervisors,
	}
}

// NotifyConfig configures AMQP routing notifications.
type NotifyConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// IsEnabled defaults to false when unset.
func (n NotifyConfig) IsEnabled() bool {
	return n.Enabled != nil && *n.Enabled
}

// EventsConfig sizes the in-memory observation backlog.
type EventsConfig struct {
	Backlog int `yaml:"backlog"`
}

// Defaults returns a Config with every optional value filled in.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "threadgate",
			LogLevel: "info",
		},
		State: StateConfig{Path: "./data/threadgate.db"},
		API:   APIConfig{Listen: "127.0.0.1:8080"},
		Notify: NotifyConfig{
			Exchange:   "threadgate.events",
			RoutingKey: "thread.routed",
		},
		Events: EventsConfig{Backlog: 256},
	}
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
