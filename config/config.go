// Package config parses the command line flags and the optional config file
// of the import and apply commands.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config is the content of a config file. Values only apply to flags that
// are not set on the command line.
type Config struct {
	CacheDir       string `yaml:"cachedir"`
	OutputDir      string `yaml:"outputdir"`
	Connection     string `yaml:"connection"`
	Schema         string `yaml:"schema"`
	BufferCapacity int    `yaml:"buffer_capacity"`
	CheckOrder     *bool  `yaml:"check_order"`
	Metadata       *bool  `yaml:"metadata"`
}

const (
	defaultCacheDir       = "/tmp/osmpatch"
	defaultSchema         = "public"
	DefaultBufferCapacity = 1000
)

// Base options are shared by all commands.
type Base struct {
	CacheDir    string
	Connection  string
	Schema      string
	ConfigFile  string
	Httpprofile string
	Quiet       bool
}

type Import struct {
	Base
	Read      string
	Overwrite bool
	Metadata  bool
}

type Apply struct {
	Base
	OutputDir      string
	BufferCapacity int
	CheckOrder     bool
	ShowStats      bool
}

func addBaseFlags(opts *Base, flags *flag.FlagSet) {
	flags.StringVar(&opts.CacheDir, "cachedir", defaultCacheDir, "base element store")
	flags.StringVar(&opts.Connection, "connection", "", "PostgreSQL connection parameters")
	flags.StringVar(&opts.Schema, "schema", defaultSchema, "PostgreSQL schema")
	flags.StringVar(&opts.ConfigFile, "config", "", "config (yaml)")
	flags.StringVar(&opts.Httpprofile, "httpprofile", "", "bind address for profile server")
	flags.BoolVar(&opts.Quiet, "quiet", false, "only log warnings and errors")
}

func readConfig(fname string) (*Config, error) {
	conf := &Config{}
	if fname == "" {
		return conf, nil
	}
	b, err := os.ReadFile(fname)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	if err := yaml.UnmarshalStrict(b, conf); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", fname)
	}
	return conf, nil
}

// setFlags returns the names of all flags set on the command line.
func setFlags(flags *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func (o *Base) updateFromConfig(conf *Config, set map[string]bool) {
	if conf.CacheDir != "" && !set["cachedir"] {
		o.CacheDir = conf.CacheDir
	}
	if conf.Connection != "" && !set["connection"] {
		o.Connection = conf.Connection
	}
	if conf.Schema != "" && !set["schema"] {
		o.Schema = conf.Schema
	}
}

func (o *Base) check() []error {
	errs := []error{}
	if o.CacheDir == "" {
		errs = append(errs, errors.New("missing cachedir"))
	}
	if o.Connection != "" && o.Schema == "" {
		errs = append(errs, errors.New("missing schema"))
	}
	return errs
}

// ParseImport parses the arguments of the import command.
func ParseImport(args []string) (Import, error) {
	opts := Import{}
	flags := flag.NewFlagSet("import", flag.ContinueOnError)
	addBaseFlags(&opts.Base, flags)
	flags.StringVar(&opts.Read, "read", "", "PBF file to import")
	flags.BoolVar(&opts.Overwrite, "overwritecache", false, "remove existing store before import")
	flags.BoolVar(&opts.Metadata, "metadata", true, "import version, timestamp, user and changeset")
	flags.Usage = usage(flags, "import [args]")

	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	conf, err := readConfig(opts.ConfigFile)
	if err != nil {
		return opts, err
	}
	set := setFlags(flags)
	opts.updateFromConfig(conf, set)
	if conf.Metadata != nil && !set["metadata"] {
		opts.Metadata = *conf.Metadata
	}

	errs := opts.check()
	if opts.Read == "" {
		errs = append(errs, errors.New("missing -read"))
	}
	if flags.NArg() > 0 {
		errs = append(errs, errors.Errorf("unexpected arguments %v", flags.Args()))
	}
	return opts, joinErrors(errs)
}

// ParseApply parses the arguments of the apply command. It returns the
// remaining arguments, the change files.
func ParseApply(args []string) (Apply, []string, error) {
	opts := Apply{}
	flags := flag.NewFlagSet("apply", flag.ContinueOnError)
	addBaseFlags(&opts.Base, flags)
	flags.StringVar(&opts.OutputDir, "outputdir", "", "write merged elements to a new store")
	flags.IntVar(&opts.BufferCapacity, "buffer", DefaultBufferCapacity, "number of elements buffered for each input")
	flags.BoolVar(&opts.CheckOrder, "check-order", true, "verify that inputs are sorted")
	flags.BoolVar(&opts.ShowStats, "stats", false, "log progress of the merge")
	flags.Usage = usage(flags, "apply [args] [.osc(.gz), ...]")

	if err := flags.Parse(args); err != nil {
		return opts, nil, err
	}
	conf, err := readConfig(opts.ConfigFile)
	if err != nil {
		return opts, nil, err
	}
	set := setFlags(flags)
	opts.updateFromConfig(conf, set)
	if conf.OutputDir != "" && !set["outputdir"] {
		opts.OutputDir = conf.OutputDir
	}
	if conf.BufferCapacity != 0 && !set["buffer"] {
		opts.BufferCapacity = conf.BufferCapacity
	}
	if conf.CheckOrder != nil && !set["check-order"] {
		opts.CheckOrder = *conf.CheckOrder
	}

	files := flags.Args()
	errs := opts.check()
	if len(files) == 0 {
		errs = append(errs, errors.New("missing change files"))
	}
	return opts, files, joinErrors(errs)
}

func (o *Apply) check() []error {
	errs := o.Base.check()
	if o.OutputDir == "" && o.Connection == "" {
		errs = append(errs, errors.New("missing -outputdir or -connection"))
	}
	if o.OutputDir != "" && o.Connection != "" {
		errs = append(errs, errors.New("-outputdir and -connection are exclusive"))
	}
	if o.OutputDir != "" && o.OutputDir == o.CacheDir {
		errs = append(errs, errors.New("-outputdir needs to differ from -cachedir"))
	}
	if o.BufferCapacity <= 0 {
		errs = append(errs, errors.Errorf("buffer capacity needs to be > 0, got %d", o.BufferCapacity))
	}
	return errs
}

func usage(flags *flag.FlagSet, cmd string) func() {
	return func() {
		fmt.Fprintf(flags.Output(), "Usage: %s %s\n\n", os.Args[0], cmd)
		flags.PrintDefaults()
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return errors.New("errors in config/options:\n\t" + strings.Join(msgs, "\n\t"))
}
