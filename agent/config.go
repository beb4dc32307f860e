package agent

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go.jacobcolvin.com/pyroagent/tags"
)

var (
	// ErrInvalidConfig indicates a [Config] that cannot build an [Agent].
	ErrInvalidConfig = errors.New("invalid config")
	// ErrReadConfig indicates a config file that could not be read or
	// decoded.
	ErrReadConfig = errors.New("read config")
)

// Flags holds CLI flag names for agent configuration, allowing callers to
// customize flag names while keeping sensible defaults via [NewConfig].
type Flags struct {
	Endpoint        string
	ApplicationName string
	Tags            string
	FrequencyHz     string
	Blocklist       string
}

// NewConfig creates a new [Config] embedding these flag names.
func (f Flags) NewConfig() *Config {
	return &Config{
		Flags: f,
		Tags:  map[string]string{},
	}
}

// Config describes what to profile and where to send it.
//
// Create instances with [NewConfig], then populate them from CLI flags
// ([Config.RegisterFlags]), a YAML file ([Config.LoadFile]), or directly.
// [Config.NewAgent] snapshots the config; later changes do not affect agents
// already built.
type Config struct {
	Tags            map[string]string `json:"tags,omitempty"        jsonschema:"Static tags attached to every upload." yaml:"tags,omitempty"`
	Endpoint        string            `json:"server-address"        jsonschema:"Base URL of the ingestion service."    yaml:"server-address"`
	ApplicationName string            `json:"application-name"      jsonschema:"Application name used as the series." yaml:"application-name"`
	Blocklist       []string          `json:"blocklist,omitempty"   jsonschema:"Leaf function prefixes to drop."       yaml:"blocklist,omitempty"`
	// FrequencyHz of 0 uses the runtime default of 100 Hz. Any other rate
	// makes the Go runtime print "cannot set cpu profile rate until
	// previous profile has finished" to stderr each time profiling restarts,
	// which is once per upload.
	FrequencyHz int `json:"sample-rate,omitempty" jsonschema:"Sampling frequency in Hz. Rates other than 100 make the Go runtime print a warning to stderr on every upload." yaml:"sample-rate,omitempty"`

	Flags Flags `json:"-" yaml:"-"`
}

// NewConfig creates a new [Config] with default flag names and no values.
func NewConfig() *Config {
	f := Flags{
		Endpoint:        "server-address",
		ApplicationName: "application-name",
		Tags:            "tags",
		FrequencyHz:     "sample-rate",
		Blocklist:       "blocklist",
	}

	return f.NewConfig()
}

// RegisterFlags adds agent flags to the given [*pflag.FlagSet].
func (c *Config) RegisterFlags(flags *pflag.FlagSet) {
	if c.Tags == nil {
		c.Tags = map[string]string{}
	}

	flags.StringVar(&c.Endpoint, c.Flags.Endpoint, "", "ingestion service base URL")
	flags.StringVar(&c.ApplicationName, c.Flags.ApplicationName, "", "application name")
	flags.Var((*tagsValue)(&c.Tags), c.Flags.Tags, "tags as key=value pairs, comma separated")
	flags.IntVar(&c.FrequencyHz, c.Flags.FrequencyHz, 0, "sampling frequency in Hz (0 = 100Hz; other rates make the Go runtime warn on stderr every upload)")
	flags.StringSliceVar(&c.Blocklist, c.Flags.Blocklist, nil, "leaf function prefixes to drop from profiles")
}

// RegisterCompletions registers shell completions for agent flags on cmd.
// None of the flags take file paths.
func (c *Config) RegisterCompletions(cmd *cobra.Command) error {
	noFileComp := func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	for _, name := range []string{
		c.Flags.Endpoint,
		c.Flags.ApplicationName,
		c.Flags.Tags,
		c.Flags.FrequencyHz,
		c.Flags.Blocklist,
	} {
		err := cmd.RegisterFlagCompletionFunc(name, noFileComp)
		if err != nil {
			return fmt.Errorf("registering %s completion: %w", name, err)
		}
	}

	return nil
}

// Validate reports whether c can build an [Agent].
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Endpoint) == "" {
		errs = append(errs, errors.New("server address is required"))
	}

	if strings.TrimSpace(c.ApplicationName) == "" {
		errs = append(errs, errors.New("application name is required"))
	}

	if c.FrequencyHz < 0 {
		errs = append(errs, fmt.Errorf("sample rate must not be negative, got %d", c.FrequencyHz))
	}

	err := errors.Join(errs...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// SeriesName returns the canonical series name for c.
func (c *Config) SeriesName() string {
	return tags.Merge(c.ApplicationName, c.Tags)
}

// LoadFile reads a YAML config file into c.
//
// When flags is not nil, values whose flag was set explicitly on the command
// line take precedence over the file. Unknown keys are rejected.
func (c *Config) LoadFile(path string, flags *pflag.FlagSet) error {
	data, err := os.ReadFile(path) //nolint:gosec // Config path from CLI flag is expected.
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadConfig, err)
	}

	var file Config

	err = yaml.UnmarshalWithOptions(data, &file, yaml.DisallowUnknownField())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReadConfig, path, err)
	}

	changed := func(name string) bool {
		return flags != nil && flags.Changed(name)
	}

	if !changed(c.Flags.Endpoint) && file.Endpoint != "" {
		c.Endpoint = file.Endpoint
	}

	if !changed(c.Flags.ApplicationName) && file.ApplicationName != "" {
		c.ApplicationName = file.ApplicationName
	}

	if !changed(c.Flags.FrequencyHz) && file.FrequencyHz != 0 {
		c.FrequencyHz = file.FrequencyHz
	}

	if !changed(c.Flags.Blocklist) && file.Blocklist != nil {
		c.Blocklist = file.Blocklist
	}

	// Command line tags are layered over the file's.
	if len(file.Tags) > 0 {
		merged := maps.Clone(file.Tags)
		if changed(c.Flags.Tags) {
			maps.Copy(merged, c.Tags)
		}

		c.Tags = merged
	}

	return nil
}

// Schema returns the JSON Schema describing the config file format.
func Schema() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[Config](nil)
	if err != nil {
		return nil, fmt.Errorf("generating config schema: %w", err)
	}

	s.Title = "pyroagent configuration"

	return s, nil
}

// clone returns a deep copy of c.
func (c *Config) clone() Config {
	out := *c
	out.Tags = maps.Clone(c.Tags)
	out.Blocklist = slices.Clone(c.Blocklist)

	return out
}

// tagsValue adapts a tag map to [pflag.Value]. Repeated flags accumulate.
type tagsValue map[string]string

func (v *tagsValue) String() string {
	if v == nil || len(*v) == 0 {
		return ""
	}

	// The series-name rendering without an application name is exactly
	// the flag syntax in braces.
	s := tags.Merge("", *v)

	return strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
}

func (v *tagsValue) Set(s string) error {
	parsed, err := tags.Parse(s)
	if err != nil {
		return err //nolint:wrapcheck // Reported by pflag with the flag name.
	}

	if *v == nil {
		*v = map[string]string{}
	}

	maps.Copy(*v, parsed)

	return nil
}

func (v *tagsValue) Type() string {
	return "tags"
}
