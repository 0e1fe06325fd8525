package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/image"
	"github.com/mvm-go/mvm/runtime"
	"github.com/mvm-go/mvm/value"
	"github.com/mvm-go/mvm/vm"
)

// session owns the debugged runtime and implements every command the two
// front ends (bubbletea TUI and plain terminal) share.
type session struct {
	rt        *runtime.Runtime
	imagePath string
	hits      []uint32
}

func newSession(imagePath string, data []byte) (*session, error) {
	rt, err := runtime.Restore(data)
	if err != nil {
		return nil, err
	}
	s := &session{rt: rt, imagePath: imagePath}
	s.rt.SetBreakpointCallback(func(pc uint32) {
		s.hits = append(s.hits, pc)
	})
	return s, nil
}

func (s *session) close() { s.rt.Close() }

func (s *session) summary() string {
	img := s.rt.Image()
	var b strings.Builder
	fmt.Fprintf(&b, "image    %s\n", s.imagePath)
	fmt.Fprintf(&b, "size     %d bytes (bytecode version %d, engine %s)\n",
		img.Header.BytecodeSize, img.Header.BytecodeVersion, image.EngineVersion)
	for sec := image.Section(0); sec < image.SectionCount; sec++ {
		fmt.Fprintf(&b, "section  %-16s %4d bytes at 0x%04x\n",
			sectionName(sec), len(img.Sections[sec]), img.Header.SectionOffsets[sec])
	}
	return b.String()
}

func sectionName(s image.Section) string {
	switch s {
	case image.SectionImportTable:
		return "IMPORT_TABLE"
	case image.SectionExportTable:
		return "EXPORT_TABLE"
	case image.SectionShortCallTable:
		return "SHORT_CALL_TABLE"
	case image.SectionBuiltins:
		return "BUILTINS"
	case image.SectionStringTable:
		return "STRING_TABLE"
	case image.SectionROM:
		return "ROM"
	case image.SectionGlobals:
		return "GLOBALS"
	case image.SectionHeap:
		return "HEAP"
	default:
		return "UNKNOWN"
	}
}

// disassemble renders each exported function's instruction listing. The
// listing stops at the function's first RETURN/RETURN_ERROR, which covers
// straight-line and backward-branching code; a forward branch past the
// return shows as far as the return only.
func (s *session) disassemble() (string, error) {
	img := s.rt.Image()
	exports, err := img.ExportTable()
	if err != nil {
		return "", err
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].ExportID < exports[j].ExportID })

	var b strings.Builder
	for _, e := range exports {
		v := value.Value(e.Value)
		if !value.IsBytecodeMappedPtr(v) {
			fmt.Fprintf(&b, "export %d: %04x (not a function)\n", e.ExportID, e.Value)
			continue
		}
		wrapper := uint32(value.AsBytecodeMappedPtr(v))
		if int(wrapper)+2 > len(img.Raw) {
			continue
		}
		codeOffset := uint32(img.Raw[wrapper]) | uint32(img.Raw[wrapper+1])<<8
		fmt.Fprintf(&b, "export %d: function at 0x%04x, max stack %d\n",
			e.ExportID, codeOffset, img.Raw[codeOffset])

		pc := codeOffset + 1
		for n := 0; n < 512 && int(pc) < len(img.Raw); n++ {
			op := vm.Op(img.Raw[pc])
			width := vm.OperandWidth(op)
			fmt.Fprintf(&b, "  %04x  %-18s", pc, op)
			for i := 1; i <= width && int(pc)+i < len(img.Raw); i++ {
				fmt.Fprintf(&b, " %02x", img.Raw[pc+uint32(i)])
			}
			b.WriteByte('\n')
			pc += uint32(1 + width)
			if op == vm.OpReturn || op == vm.OpReturnError {
				break
			}
		}
	}
	return b.String(), nil
}

// heapDump walks every bucket's allocations in offset order.
func (s *session) heapDump() string {
	var b strings.Builder
	h := s.rt.VM().Heap()
	fmt.Fprintf(&b, "heap: %d bytes in %d bucket(s)\n", h.UsedSize(), h.BucketCount())
	for bk := h.First(); bk != nil; bk = bk.Next() {
		fmt.Fprintf(&b, "bucket at offset 0x%04x, %d/%d bytes used\n",
			bk.OffsetStart(), bk.Used(), bk.Capacity())
		data := bk.Data()
		local := 0
		for local+2 <= len(data) {
			header := uint16(data[local]) | uint16(data[local+1])<<8
			tc, size := heap.UnpackHeader(header)
			fmt.Fprintf(&b, "  0x%04x  %-20s %4d bytes\n",
				bk.OffsetStart()+uint32(local)+2, tc, size)
			stride := int(size) + 3
			stride -= stride % 2
			if stride < 4 {
				stride = 4
			}
			local += stride
		}
	}
	return b.String()
}

func (s *session) globalsDump() string {
	var b strings.Builder
	globals := s.rt.VM().Globals()
	for i, g := range globals {
		kind, err := s.rt.TypeOf(g)
		kindStr := "?"
		if err == nil {
			kindStr = kind.String()
		}
		fmt.Fprintf(&b, "global[%d] = 0x%04x (%s)\n", i, uint16(g), kindStr)
	}
	if len(globals) == 0 {
		b.WriteString("no globals\n")
	}
	return b.String()
}

// exec runs one debugger command line and returns its output.
func (s *session) exec(line string) (out string, quit bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "", false
	}
	switch fields[0] {
	case "help", "h":
		return helpText, false
	case "info", "i":
		return s.summary(), false
	case "dis":
		text, err := s.disassemble()
		if err != nil {
			return "error: " + err.Error() + "\n", false
		}
		return text, false
	case "heap":
		return s.heapDump(), false
	case "globals", "g":
		return s.globalsDump(), false
	case "gc":
		if err := s.rt.RunGC(true); err != nil {
			return "error: " + err.Error() + "\n", false
		}
		return fmt.Sprintf("collected; heap now %d bytes\n", s.rt.VM().Heap().UsedSize()), false
	case "b", "break":
		if len(fields) < 2 {
			return "usage: b <pc>\n", false
		}
		pc, err := parsePC(fields[1])
		if err != nil {
			return "error: " + err.Error() + "\n", false
		}
		s.rt.SetBreakpoint(pc)
		return fmt.Sprintf("breakpoint armed at 0x%04x\n", pc), false
	case "rb":
		if len(fields) < 2 {
			return "usage: rb <pc>\n", false
		}
		pc, err := parsePC(fields[1])
		if err != nil {
			return "error: " + err.Error() + "\n", false
		}
		s.rt.RemoveBreakpoint(pc)
		return fmt.Sprintf("breakpoint removed at 0x%04x\n", pc), false
	case "call", "c":
		if len(fields) < 2 {
			return "usage: call <exportID> [intArgs...]\n", false
		}
		return s.execCall(fields[1], fields[2:]), false
	case "quit", "q", "exit":
		return "", true
	default:
		return "unknown command (try 'help')\n", false
	}
}

func (s *session) execCall(exportField string, argFields []string) string {
	id, err := strconv.ParseUint(exportField, 10, 16)
	if err != nil {
		return "error: bad export id\n"
	}
	callable, err := s.rt.ResolveExport(uint16(id))
	if err != nil {
		return "error: " + err.Error() + "\n"
	}
	var args []value.Value
	for _, a := range argFields {
		n, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			return fmt.Sprintf("error: argument %q is not an integer\n", a)
		}
		v, err := s.rt.NewInt32(int32(n))
		if err != nil {
			return "error: " + err.Error() + "\n"
		}
		args = append(args, v)
	}

	s.hits = nil
	result, err := s.rt.Call(callable, args...)

	var b strings.Builder
	for _, pc := range s.hits {
		fmt.Fprintf(&b, "breakpoint hit at 0x%04x\n", pc)
	}
	if err != nil {
		fmt.Fprintf(&b, "error: %v\n", err)
		return b.String()
	}
	kind, kerr := s.rt.TypeOf(result)
	rendered, rerr := s.rt.ToString(result)
	if kerr != nil || rerr != nil {
		fmt.Fprintf(&b, "result: 0x%04x\n", uint16(result))
		return b.String()
	}
	fmt.Fprintf(&b, "result (%s): %s\n", kind, rendered)
	return b.String()
}

func parsePC(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		// Fall back to decimal for convenience.
		n, err = strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("bad offset %q", s)
		}
	}
	return uint32(n), nil
}

const helpText = `commands:
  info            image and section summary
  dis             disassemble exported functions
  heap            dump heap allocations
  globals         dump global slots
  gc              run a squeezing collection
  b <pc>          arm a breakpoint (hex offset)
  rb <pc>         remove a breakpoint
  call <id> [...] call an export with integer arguments
  quit            leave the debugger
`
