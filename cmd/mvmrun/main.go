package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mvm-go/mvm/runtime"
	"github.com/mvm-go/mvm/value"
)

func main() {
	var (
		imageFile = flag.String("image", "", "Path to bytecode image file")
		exportID  = flag.Uint("export", 1, "Export ID to call")
		argsStr   = flag.String("args", "", "Comma-separated call arguments (numbers, true/false/null/undefined, or 'quoted strings')")
		list      = flag.Bool("list", false, "List export IDs and exit")
		snapshot  = flag.String("snapshot", "", "Write a post-call snapshot image to this path")
	)
	flag.Parse()

	if *imageFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: mvmrun -image <file.mvm> [-export id] [-args a,b,...]")
		fmt.Fprintln(os.Stderr, "       mvmrun -image <file.mvm> -list")
		os.Exit(1)
	}

	if err := run(*imageFile, uint16(*exportID), *argsStr, *list, *snapshot); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(imageFile string, exportID uint16, argsStr string, listOnly bool, snapshotPath string) error {
	data, err := os.ReadFile(imageFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	rt, err := runtime.Restore(data)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	defer rt.Close()

	img := rt.Image()
	fmt.Printf("Image: %s (%d bytes, bytecode version %d)\n",
		imageFile, img.Header.BytecodeSize, img.Header.BytecodeVersion)

	exports, err := img.ExportTable()
	if err != nil {
		return fmt.Errorf("export table: %w", err)
	}
	if listOnly {
		sort.Slice(exports, func(i, j int) bool { return exports[i].ExportID < exports[j].ExportID })
		fmt.Println("\nExports:")
		for _, e := range exports {
			kind, kerr := rt.TypeOf(value.Value(e.Value))
			if kerr != nil {
				return kerr
			}
			fmt.Printf("  %d: %s\n", e.ExportID, kind)
		}
		return nil
	}

	callable, err := rt.ResolveExport(exportID)
	if err != nil {
		return fmt.Errorf("resolve export %d: %w", exportID, err)
	}

	args, err := parseArgs(rt, argsStr)
	if err != nil {
		return err
	}

	result, err := rt.Call(callable, args...)
	if err != nil {
		return fmt.Errorf("call export %d: %w", exportID, err)
	}

	kind, err := rt.TypeOf(result)
	if err != nil {
		return err
	}
	rendered, err := rt.ToString(result)
	if err != nil {
		return err
	}
	fmt.Printf("Result (%s): %s\n", kind, rendered)

	if snapshotPath != "" {
		snap, err := rt.CreateSnapshot()
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		if err := os.WriteFile(snapshotPath, snap, 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		fmt.Printf("Snapshot: %s (%d bytes)\n", snapshotPath, len(snap))
	}
	return nil
}

// parseArgs converts the -args flag into VM values: integers and floats
// become numbers, the literal words true/false/null/undefined become their
// singletons, and anything wrapped in single quotes becomes a string.
func parseArgs(rt *runtime.Runtime, argsStr string) ([]value.Value, error) {
	if argsStr == "" {
		return nil, nil
	}
	var out []value.Value
	for _, raw := range strings.Split(argsStr, ",") {
		raw = strings.TrimSpace(raw)
		switch raw {
		case "true":
			out = append(out, runtime.NewBoolean(true))
			continue
		case "false":
			out = append(out, runtime.NewBoolean(false))
			continue
		case "null":
			out = append(out, value.Null)
			continue
		case "undefined":
			out = append(out, runtime.NewUndefined())
			continue
		}
		if strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") && len(raw) >= 2 {
			v, err := rt.NewString(raw[1 : len(raw)-1])
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			continue
		}
		if n, err := strconv.ParseInt(raw, 10, 32); err == nil {
			v, verr := rt.NewInt32(int32(n))
			if verr != nil {
				return nil, verr
			}
			out = append(out, v)
			continue
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			v, verr := rt.NewNumber(f)
			if verr != nil {
				return nil, verr
			}
			out = append(out, v)
			continue
		}
		return nil, fmt.Errorf("cannot parse argument %q", raw)
	}
	return out, nil
}
