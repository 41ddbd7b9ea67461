package imports

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/pgavlin/wasihost/wasi"
)

type row struct {
	Module    string `csv:"module"`
	Name      string `csv:"name"`
	Params    string `csv:"params"`
	Results   string `csv:"results"`
	Supported bool   `csv:"supported"`
}

func valueTypes(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, " ")
}

func listImports(w io.Writer, compiled wazero.CompiledModule) error {
	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	encoder := csvutil.NewEncoder(csvWriter)
	for _, f := range compiled.ImportedFunctions() {
		module, name, _ := f.Import()

		supported := false
		if module == wasi.SnapshotPreview1 || module == wasi.Unstable {
			_, supported = wasi.LookupSyscall(name)
		}

		err := encoder.Encode(row{
			Module:    module,
			Name:      name,
			Params:    valueTypes(f.ParamTypes()),
			Results:   valueTypes(f.ResultTypes()),
			Supported: supported,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "imports [path to module]",
		Short: "List a module's imports",
		Long:  "List the functions a WebAssembly module imports and whether the WASI host provides them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			bin, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			r := wazero.NewRuntime(ctx)
			defer r.Close(ctx)

			compiled, err := r.CompileModule(ctx, bin)
			if err != nil {
				return err
			}

			if ns, err := wasi.DetectNamespace(compiled); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "namespace: %v\n", ns)
			}

			return listImports(os.Stdout, compiled)
		},
	}
}
