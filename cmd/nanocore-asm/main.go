// Command nanocore-asm is the NanoCore assembler front-end: it turns
// textual source into the flat little-endian instruction/data stream the
// engine consumes, and can disassemble that stream back into a reference
// textual form. Generalizes cmd/asm (a bare flag.Parse plus log.Fatal)
// into a cobra-based CLI with typed subcommands and RunE error returns.
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nanocore-vm/nanocore/internal/encoder"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log := logrus.New()

	var verbose bool
	root := &cobra.Command{
		Use:   "nanocore-asm",
		Short: "Two-pass assembler for the NanoCore instruction set",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	var assembleOutput string
	assembleCmd := &cobra.Command{
		Use:   "assemble <input>",
		Short: "Assemble a source file into a NanoCore binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssemble(log, args[0], assembleOutput)
		},
	}
	assembleCmd.Flags().StringVarP(&assembleOutput, "output", "o", "", "output file (default: <input-without-ext>.bin)")

	var disasmOutput string
	var disasmBase string
	disasmCmd := &cobra.Command{
		Use:   "disasm <input>",
		Short: "Disassemble a NanoCore binary into reference textual form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisasm(args[0], disasmOutput, disasmBase)
		},
	}
	disasmCmd.Flags().StringVarP(&disasmOutput, "output", "o", "", "output file (default: stdout)")
	disasmCmd.Flags().StringVarP(&disasmBase, "address", "a", "0", "base address of the binary, in hex")

	root.AddCommand(assembleCmd, disasmCmd)
	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// defaultOutputName derives "<input-without-ext>.bin" from the source
// path, a replacement for a bare "a.out"-style default that would
// silently clobber when assembling more than one file in the same
// directory.
func defaultOutputName(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".bin"
}

func runAssemble(log *logrus.Logger, input, output string) error {
	fp, err := os.Open(input)
	if err != nil {
		return errors.Wrapf(err, "opening %s", input)
	}
	defer fp.Close()

	enc := encoder.New()
	enc.Log = log
	bytes, errs := enc.Assemble(fp)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return errors.Errorf("%s: assembly failed with %d error(s)", input, len(errs))
	}

	if output == "" {
		output = defaultOutputName(input)
	}
	if err := os.WriteFile(output, bytes, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", output)
	}
	log.Debugf("wrote %d bytes to %s", len(bytes), output)
	return nil
}

func runDisasm(input, output, baseHex string) error {
	base, err := strconv.ParseUint(strings.TrimPrefix(baseHex, "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid base address %q: %w", baseHex, err)
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	var sb strings.Builder
	for off := 0; off+4 <= len(data); off += 4 {
		word := binary.LittleEndian.Uint32(data[off:])
		fmt.Fprintf(&sb, "%08x: %s\n", base+uint64(off), encoder.Disassemble(word))
	}

	if output == "" {
		fmt.Print(sb.String())
		return nil
	}
	return os.WriteFile(output, []byte(sb.String()), 0o644)
}
