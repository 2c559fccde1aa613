// Command cminor compiles a textual IR unit to x86-64 assembly.
//
//	cminor -o out.s input.ir
package main

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cminor/cminor/internal/backend"
	"github.com/cminor/cminor/internal/ir"
)

// config carries the defaults an optional cminor.toml provides; flags given
// on the command line win.
type config struct {
	LogLevel string `toml:"log_level"`
	Output   string `toml:"output"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

func addFlags(fs *pflag.FlagSet, output, logLevel, configPath *string) {
	fs.StringVarP(output, "output", "o", "", "output file (default: input with .s)")
	fs.StringVar(logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(configPath, "config", "", "optional cminor.toml with defaults")
}

func main() {
	var output, logLevel, configPath string

	root := &cobra.Command{
		Use:           "cminor [flags] file.ir",
		Short:         "compile a textual IR unit to x86-64 assembly",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if logLevel == "" {
				logLevel = cfg.LogLevel
			}
			if logLevel != "" {
				level, err := logrus.ParseLevel(logLevel)
				if err != nil {
					return errors.Wrap(err, "parsing log level")
				}
				logrus.SetLevel(level)
			}
			if output == "" {
				output = cfg.Output
			}
			return compile(args[0], output)
		},
	}
	addFlags(root.Flags(), &output, &logLevel, &configPath)

	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func compile(input, output string) error {
	f, err := os.Open(input)
	if err != nil {
		return errors.Wrapf(err, "opening %s", input)
	}
	defer f.Close()

	globals, err := ir.Parse(f)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", input)
	}

	unit := backend.Compile(globals)

	if output == "" {
		output = strings.TrimSuffix(input, ".ir") + ".s"
	}
	if err := os.WriteFile(output, []byte(backend.EmitText(unit)), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", output)
	}
	logrus.WithFields(logrus.Fields{"input": input, "output": output}).Info("compiled")
	return nil
}
