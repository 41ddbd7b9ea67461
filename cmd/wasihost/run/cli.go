package run

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pgavlin/wasihost/wasi"
)

// [to=]from(,flags)
type preopens struct {
	values  []wasi.Preopen
	strings []string
}

var _ pflag.Value = (*preopens)(nil)

var preopenRE = regexp.MustCompile(`^([^=]+=)?([^,]+)(,[^,]+)*$`)

func parsePreopen(s string) (wasi.Preopen, error) {
	match := preopenRE.FindStringSubmatch(s)
	if len(match) == 0 {
		return wasi.Preopen{}, fmt.Errorf("malformed preopen '%v': preopens must be of the form (to=)from(,flags)", s)
	}

	to, from := strings.TrimSuffix(match[1], "="), match[2]
	if to == "" {
		to = from
	}
	preopen := wasi.Preopen{
		FSPath:  from,
		Path:    to,
		Rights:  wasi.AllRights,
		Inherit: wasi.AllRights,
	}

	flags := strings.Split(s[len(match[1])+len(match[2]):], ",")
	for _, f := range flags {
		if f == "" {
			continue
		}

		r := &preopen.Rights
		if strings.HasPrefix(f, "inherit:") {
			r, f = &preopen.Inherit, f[len("inherit:"):]
		}

		op := byte('+')
		if f != "" && (f[0] == '=' || f[0] == '-') {
			op, f = f[0], f[1:]
		}

		right, ok := wasi.LookupRight(f)
		if !ok {
			return wasi.Preopen{}, fmt.Errorf("unknown preopen flag '%v'", f)
		}
		switch op {
		case '=':
			*r = right
		case '-':
			*r &^= right
		default:
			*r |= right
		}
	}

	if preopen.Rights == 0 {
		return wasi.Preopen{}, fmt.Errorf("preopen '%v' has no rights", s)
	}
	return preopen, nil
}

func (p *preopens) String() string {
	return strings.Join(p.strings, ";")
}

func (p *preopens) Set(s string) error {
	preopen, err := parsePreopen(s)
	if err != nil {
		return err
	}
	p.values, p.strings = append(p.values, preopen), append(p.strings, s)
	return nil
}

func (p *preopens) Type() string {
	return "mount"
}

func dirPreopens(dirs []string) []wasi.Preopen {
	values := make([]wasi.Preopen, len(dirs))
	for i, d := range dirs {
		values[i] = wasi.Preopen{FSPath: d, Path: d}
	}
	return values
}

func newLogger(level string) (*zap.Logger, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(l)
	config.OutputPaths = []string{"stderr"}
	config.DisableStacktrace = true
	return config.Build()
}

func environment(inherit bool, vars []string) (map[string]string, error) {
	env := map[string]string{}
	if inherit {
		for _, v := range os.Environ() {
			kvp := strings.SplitN(v, "=", 2)
			env[kvp[0]] = kvp[1]
		}
	}
	for _, v := range vars {
		kvp := strings.SplitN(v, "=", 2)
		if len(kvp) != 2 || kvp[0] == "" {
			return nil, fmt.Errorf("malformed environment variable '%v': expected NAME=value", v)
		}
		env[kvp[0]] = kvp[1]
	}
	return env, nil
}

func writeStats(path string, rows []wasi.SyscallStats) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	csvWriter := csv.NewWriter(f)
	defer csvWriter.Flush()

	encoder := csvutil.NewEncoder(csvWriter)
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func Command() *cobra.Command {
	var preopen preopens
	var dirs []string
	var env []string
	var inheritEnv bool
	var statsPath string
	var logLevel string
	var permissive bool

	command := &cobra.Command{
		Use:   "run [path to module] [args...]",
		Short: "Run WebAssembly commands",
		Long:  "Run WebAssembly commands inside a WASI-compliant environment.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("expected at least one argument")
			}

			log, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			defer log.Sync()
			wasi.SetLogger(log)

			bin, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			environ, err := environment(inheritEnv, env)
			if err != nil {
				return err
			}

			ext := filepath.Ext(args[0])
			name := args[0][:len(args[0])-len(ext)]

			ctx := context.Background()
			r := wazero.NewRuntime(ctx)
			defer r.Close(ctx)

			compiled, err := r.CompileModule(ctx, bin)
			if err != nil {
				return err
			}

			w, err := wasi.New(&wasi.Options{
				Env:             environ,
				Args:            append([]string{name}, args[1:]...),
				Preopen:         append(preopen.values, dirPreopens(dirs)...),
				Logger:          log,
				PermissivePaths: permissive,
			})
			if err != nil {
				return err
			}
			defer w.Close()

			runErr := w.Run(ctx, r, compiled)
			if statsPath != "" {
				if err := writeStats(statsPath, w.Stats().Syscalls()); err != nil {
					log.Warn("writing stats", zap.Error(err))
				}
			}
			if n := w.Stats().BusyWaits(); n != 0 {
				log.Debug("busy waits", zap.Uint64("count", n))
			}
			return runErr
		},
	}

	command.Flags().SetInterspersed(false)
	command.Flags().VarP(&preopen, "mount", "m", "list of directories to mount in the form (to=)from(,flags)")
	command.Flags().StringArrayVar(&dirs, "dir", nil, "mount a directory under its own name with full rights")
	command.Flags().StringArrayVarP(&env, "env", "e", nil, "set an environment variable in the form NAME=value")
	command.Flags().BoolVar(&inheritEnv, "inherit-env", false, "pass the host's environment to the module")
	command.Flags().StringVar(&statsPath, "stats", "", "write per-syscall statistics to the specified CSV file")
	command.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	command.Flags().BoolVar(&permissive, "permissive-paths", false, "allow guest paths to escape their preopened directory")

	return command
}
