// Command beebasm is the external, informative CLI driving the
// assembly engine, disc packaging and BASIC codec (spec §6). The CLI
// itself carries no assembly semantics — it gathers source, runs
// Engine.Assemble, and turns the queued SAVE directives (and an
// optional --disc) into files on disk.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/beevik/prefixtree/v2"
	"github.com/spf13/cobra"

	"github.com/beebasm-go/beebasm/asm"
	"github.com/beebasm-go/beebasm/config"
	"github.com/beebasm-go/beebasm/disc"
	"github.com/beebasm-go/beebasm/memory"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "beebasm:", err)
		os.Exit(1)
	}
}

// flagNames lists the long flags that expandAbbreviations lets callers
// spell as any unique prefix (e.g. "--verb" for "--verbose"), the way
// host/settings.go resolves abbreviated debugger setting names via a
// prefixtree. This is purely
// a CLI convenience layer: cobra still sees the fully-expanded flag.
var flagNames = []string{
	"input", "output", "disc", "title", "boot", "do", "verbose", "cpu", "opt",
}

func expandAbbreviations(args []string) ([]string, error) {
	tree := prefixtree.New[string]()
	for _, name := range flagNames {
		if err := tree.Add(name, name); err != nil {
			return nil, fmt.Errorf("cli: building flag prefix tree: %w", err)
		}
	}

	out := make([]string, len(args))
	for i, a := range args {
		if !strings.HasPrefix(a, "--") || strings.HasPrefix(a, "---") {
			out[i] = a
			continue
		}
		body := a[2:]
		name, value, hasValue := body, "", false
		if eq := strings.IndexByte(body, '='); eq >= 0 {
			name, value, hasValue = body[:eq], body[eq+1:], true
		}
		if contains(flagNames, name) {
			out[i] = a
			continue
		}
		full, err := tree.FindValue(strings.ToLower(name))
		if err != nil {
			out[i] = a // not a recognised abbreviation; let cobra report it
			continue
		}
		if hasValue {
			out[i] = "--" + full + "=" + value
		} else {
			out[i] = "--" + full
		}
	}
	return out, nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var (
		inputs     []string
		output     string
		discPath   string
		title      = cfg.Assemble.Title
		bootFile   = cfg.Assemble.Boot
		doSpec     string
		verbose    = cfg.Assemble.Verbose
		cpuLevel   = cfg.Assemble.CPU
		optLevel   = cfg.Assemble.OPT
		defineArgs []string
	)

	root := &cobra.Command{
		Use:          "beebasm",
		Short:        "Cross-assembler for 6502/65C02 BBC BASIC source",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return assembleAndPackage(assembleOptions{
				inputs:   inputs,
				output:   output,
				discPath: discPath,
				title:    title,
				bootFile: bootFile,
				doSpec:   doSpec,
				verbose:  verbose,
				cpuLevel: cpuLevel,
				optLevel: optLevel,
				defines:  defineArgs,
			})
		},
	}

	root.Flags().StringArrayVarP(&inputs, "input", "i", nil, "source file to assemble (repeatable)")
	root.Flags().StringVarP(&output, "output", "o", "", "raw object output path (first SAVE region if no disc image)")
	root.Flags().StringVar(&discPath, "disc", "", "disc image output path")
	root.Flags().StringVar(&title, "title", title, "disc catalogue title")
	root.Flags().StringVar(&bootFile, "boot", bootFile, "boot file name (forces *OPT 3 / !Boot)")
	root.Flags().StringVar(&doSpec, "do", "", "load,exec addresses for whole-image object output")
	root.Flags().BoolVarP(&verbose, "verbose", "v", verbose, "narrate pass activity")
	root.Flags().IntVar(&cpuLevel, "cpu", cpuLevel, "default CPU level (0 = NMOS 6502, 1 = 65C02)")
	root.Flags().IntVar(&optLevel, "opt", optLevel, "default OPT level")
	root.Flags().StringArrayVarP(&defineArgs, "define", "D", nil, "name=value, predefined before assembly (repeatable)")

	expanded, err := expandAbbreviations(args)
	if err != nil {
		return err
	}
	root.SetArgs(expanded)
	return root.Execute()
}

type assembleOptions struct {
	inputs   []string
	output   string
	discPath string
	title    string
	bootFile string
	doSpec   string
	verbose  bool
	cpuLevel int
	optLevel int
	defines  []string
}

func assembleAndPackage(opt assembleOptions) error {
	if len(opt.inputs) == 0 {
		return fmt.Errorf("at least one --input is required")
	}

	var src []string
	for _, path := range opt.inputs {
		lines, err := readLines(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		src = append(src, lines...)
	}

	e := asm.NewEngine(os.Stdout, opt.verbose)
	e.Mem.SetCPU(opt.cpuLevel)
	e.Mem.SetOPT(opt.optLevel)
	e.Include = func(name string) (io.ReadCloser, error) {
		return os.Open(name) // #nosec G304 -- operator-supplied INCBIN path
	}

	for _, d := range opt.defines {
		if err := e.Syms.AddCommandLineSymbol(d); err != nil {
			return fmt.Errorf("-D %s: %w", d, err)
		}
	}

	if err := e.Assemble(src); err != nil {
		return err
	}

	if opt.discPath != "" {
		return writeDisc(e, opt)
	}
	if opt.output != "" {
		return writeObject(e, opt)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied source path
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func writeDisc(e *asm.Engine, opt assembleOptions) error {
	img, err := disc.New(opt.title, opt.optLevel, opt.bootFile)
	if err != nil {
		return fmt.Errorf("disc: %w", err)
	}
	for _, sd := range e.Saves {
		name := sd.Name
		data := e.Mem.M[sd.Start:sd.End]
		load := sd.Start
		exec := sd.Start
		if sd.HasExec {
			exec = sd.Exec
		}
		if err := img.AddFile(name, data, load, exec); err != nil {
			return fmt.Errorf("disc: %s: %w", name, err)
		}
	}
	f, err := os.Create(opt.discPath) // #nosec G304 -- operator-supplied output path
	if err != nil {
		return err
	}
	defer f.Close()
	return img.Save(f)
}

func writeObject(e *asm.Engine, opt assembleOptions) error {
	start, end, err := objectRange(e, opt.doSpec)
	if err != nil {
		return err
	}
	f, err := os.Create(opt.output) // #nosec G304 -- operator-supplied output path
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(e.Mem.M[start:end])
	return err
}

// objectRange resolves the [start,end) byte range to write for
// --output when no --disc is given. With an explicit SAVE directive
// in the source, the first one wins; --do load,exec (spec §6) instead
// spans every byte the assembly actually touched (memory.Used),
// overriding only where the caller's load address says to start
// reading from.
func objectRange(e *asm.Engine, doSpec string) (int, int, error) {
	if len(e.Saves) > 0 {
		sd := e.Saves[0]
		return sd.Start, sd.End, nil
	}
	if doSpec == "" {
		return 0, 0, fmt.Errorf("--output given with no SAVE directive and no --do range")
	}
	load, _, err := parseDoSpec(doSpec)
	if err != nil {
		return 0, 0, err
	}
	end := load
	for a := 0x10000 - 1; a >= load; a-- {
		if e.Mem.F[a]&byte(memory.Used) != 0 {
			end = a + 1
			break
		}
	}
	return load, end, nil
}

func parseDoSpec(spec string) (load, exec int, err error) {
	parts := strings.SplitN(spec, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("--do expects \"load,exec\", got %q", spec)
	}
	load, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("--do load address: %w", err)
	}
	exec, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("--do exec address: %w", err)
	}
	return load, exec, nil
}
