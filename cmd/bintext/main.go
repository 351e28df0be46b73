// Package main provides a command-line tool for converting game asset files
// to and from editable text.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/EchoTools/bintext/pkg/compress"
	"github.com/EchoTools/bintext/pkg/convert"
	"github.com/EchoTools/bintext/pkg/format"
	"github.com/EchoTools/bintext/pkg/names"
)

var (
	mode        string
	inputPath   string
	outputPath  string
	editedPath  string
	kindName    string
	compression string
	namesPath   string
	bigEndian   bool
	rawHashes   bool
	force       bool
	verbose     bool
)

func init() {
	flag.StringVar(&mode, "mode", "", "Operation mode: open, save, diff, compress")
	flag.StringVar(&inputPath, "input", "", "Input file")
	flag.StringVar(&outputPath, "output", "", "Output file (default stdout for open and diff)")
	flag.StringVar(&editedPath, "edited", "", "Edited text file for diff mode")
	flag.StringVar(&kindName, "kind", "", "Format for save mode: aamp, byml, msbt")
	flag.StringVar(&compression, "compress", "none", "Output compression: none, yaz0, zstd")
	flag.StringVar(&namesPath, "names", "", "File with extra parameter names, one per line")
	flag.BoolVar(&bigEndian, "big-endian", false, "Save in big endian (Wii U) layout")
	flag.BoolVar(&rawHashes, "raw-hashes", false, "Show unresolved parameter names as hashes")
	flag.BoolVar(&force, "force", false, "Overwrite an existing output file")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := validateFlags(); err != nil {
		flag.Usage()
		return err
	}

	log := newLogger(os.Stderr, verbose)
	wrapper, err := compress.ParseKind(compression)
	if err != nil {
		return err
	}

	table := names.Default()
	if namesPath != "" {
		n, err := loadNames(table, namesPath)
		if err != nil {
			return err
		}
		log.Debug("loaded names", "path", namesPath, "count", n)
	}

	conv := convert.New(
		convert.WithLogger(log),
		convert.WithNameTable(table),
		convert.WithReadableNames(!rawHashes),
		convert.WithCompression(wrapper),
	)

	switch mode {
	case "open":
		return runOpen(conv)
	case "save":
		return runSave(conv, log)
	case "diff":
		return runDiff(conv)
	case "compress":
		return runCompress(wrapper, log)
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

func validateFlags() error {
	if mode == "" {
		return fmt.Errorf("mode is required")
	}
	if inputPath == "" {
		return fmt.Errorf("input file is required")
	}

	switch mode {
	case "open":
	case "save":
		if kindName == "" {
			return fmt.Errorf("save mode requires -kind")
		}
		if outputPath == "" {
			return fmt.Errorf("save mode requires -output")
		}
	case "diff":
		if editedPath == "" {
			return fmt.Errorf("diff mode requires -edited")
		}
	case "compress":
		if outputPath == "" {
			return fmt.Errorf("compress mode requires -output")
		}
	default:
		return fmt.Errorf("mode must be 'open', 'save', 'diff' or 'compress'")
	}

	if outputPath != "" && !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("output file %s exists (use -force to override)", outputPath)
		}
	}

	return nil
}

func loadNames(table *names.Table, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open names: %w", err)
	}
	defer f.Close()

	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		table.Add(name)
		count++
	}
	if err := sc.Err(); err != nil {
		return count, fmt.Errorf("read names: %w", err)
	}
	return count, nil
}

func writeOutput(data []byte) error {
	if outputPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func runOpen(conv *convert.Converter) error {
	doc, err := conv.OpenFile(inputPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Opened %s: %s, %s (%s), compression %s\n",
		inputPath, doc.Kind(), doc.Order(), doc.Order().Platform(), doc.Compression())
	return writeOutput(doc.Text())
}

func runSave(conv *convert.Converter, log *slog.Logger) error {
	kind, err := format.ParseKind(kindName)
	if err != nil {
		return err
	}
	text, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	order := format.OrderFromBig(bigEndian)
	if err := conv.SaveFile(outputPath, text, kind, order); err != nil {
		return err
	}
	log.Info("saved", "kind", kind, "order", order, "output", outputPath)
	return nil
}

func runDiff(conv *convert.Converter) error {
	doc, err := conv.OpenFile(inputPath)
	if err != nil {
		return err
	}
	edited, err := os.ReadFile(editedPath)
	if err != nil {
		return fmt.Errorf("read edited: %w", err)
	}

	diffs := doc.Diff(edited)
	if !convert.Changed(diffs) {
		fmt.Fprintln(os.Stderr, "No changes")
		return nil
	}

	var out bytes.Buffer
	if outputPath != "" {
		color.NoColor = true
	}
	printDiff(&out, diffs)
	return writeOutput(out.Bytes())
}

// printDiff writes line diffs with +/- prefixes, colored when the terminal
// supports it.
func printDiff(w io.Writer, diffs []diffpatch.Diff) {
	added := color.New(color.FgGreen).SprintFunc()
	removed := color.New(color.FgRed).SprintFunc()

	for _, d := range diffs {
		lines := strings.SplitAfter(d.Text, "\n")
		for _, line := range lines {
			if line == "" {
				continue
			}
			line = strings.TrimSuffix(line, "\n")
			switch d.Type {
			case diffpatch.DiffInsert:
				fmt.Fprintln(w, added("+"+line))
			case diffpatch.DiffDelete:
				fmt.Fprintln(w, removed("-"+line))
			default:
				fmt.Fprintln(w, " "+line)
			}
		}
	}
}

// runCompress re-wraps a file: it strips any existing compression and
// applies the requested one.
func runCompress(wrapper compress.Kind, log *slog.Logger) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	raw, was, err := compress.MaybeDecompress(data)
	if err != nil {
		return err
	}
	out, err := compress.Compress(wrapper, raw)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	log.Info("recompressed", "from", was, "to", wrapper, "size", len(raw), "output", len(out))
	return writeOutput(out)
}
