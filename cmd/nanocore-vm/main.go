// Command nanocore-vm loads a flat NanoCore binary and runs it against
// the execution engine, optionally single-stepping or reporting a
// performance-counter profile at the end. Generalizes cmd/vm
// (flag.Parse + a manual Fetch/Execute loop with log.Printf tracing) to
// NanoCore's Run/Step outcome model and its perf counter bank.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/nanocore-vm/nanocore/internal/encoder"
	"github.com/nanocore-vm/nanocore/internal/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultLoadAddr = 0x10000

func main() {
	log := logrus.New()

	var verbose bool
	root := &cobra.Command{
		Use:   "nanocore-vm",
		Short: "Execution engine for NanoCore binaries",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	var debug bool
	var cycles uint64
	var memBytes uint64
	runCmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Run a NanoCore binary to completion or fault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(log, args[0], debug, cycles, memBytes)
		},
	}
	runCmd.Flags().BoolVarP(&debug, "debug", "d", false, "single-step with a disassembly trace")
	runCmd.Flags().Uint64VarP(&cycles, "cycles", "c", 0, "instruction budget (0 = unlimited)")
	runCmd.Flags().Uint64VarP(&memBytes, "mem", "m", 64<<20, "engine memory size in bytes")

	var profileCycles uint64
	profileCmd := &cobra.Command{
		Use:   "profile <program>",
		Short: "Run a NanoCore binary and report performance counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return profileProgram(args[0], profileCycles)
		},
	}
	profileCmd.Flags().Uint64VarP(&profileCycles, "cycles", "c", 0, "instruction budget (0 = unlimited)")

	root.AddCommand(runCmd, profileCmd)
	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func loadEngine(path string, memBytes uint64) (*engine.Engine, error) {
	program, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	e := engine.New(memBytes)
	if !e.LoadProgram(program, defaultLoadAddr) {
		return nil, fmt.Errorf("program of %d bytes does not fit at 0x%x in %d bytes of memory", len(program), defaultLoadAddr, memBytes)
	}
	return e, nil
}

func runProgram(log *logrus.Logger, path string, debug bool, cycles, memBytes uint64) error {
	e, err := loadEngine(path, memBytes)
	if err != nil {
		return err
	}

	if !debug {
		return reportOutcome(e, e.Run(cycles))
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		word, ok := e.ReadMemory(e.PC, 4)
		if ok {
			log.Infof("pc=%#08x %s", e.PC, encoder.Disassemble(leUint32(word)))
		}
		outcome := e.Step()
		if outcome.Kind != engine.Completed {
			return reportOutcome(e, outcome)
		}
		fmt.Fprint(os.Stderr, "(step) ")
		_, _ = reader.ReadString('\n')
	}
}

func profileProgram(path string, cycles uint64) error {
	e, err := loadEngine(path, 64<<20)
	if err != nil {
		return err
	}
	outcome := e.Run(cycles)
	fmt.Printf("outcome: %s\n", outcome.Kind)
	for _, counter := range []engine.PerfCounter{
		engine.InstCount, engine.CycleCount, engine.L1Miss, engine.L2Miss,
		engine.BranchMiss, engine.PipelineStall, engine.MemOps, engine.SimdOps,
	} {
		v, _ := e.GetPerfCounter(counter)
		fmt.Printf("  %-14s %d\n", counter, v)
	}
	return nil
}

func reportOutcome(e *engine.Engine, outcome engine.Outcome) error {
	switch outcome.Kind {
	case engine.Completed:
		fmt.Printf("completed %d step(s)\n", outcome.Steps)
		return nil
	case engine.HaltedOutcome:
		fmt.Println("halted")
		return nil
	case engine.BreakpointHit:
		fmt.Printf("breakpoint at 0x%x\n", outcome.Addr)
		return nil
	case engine.FaultOutcome:
		return fmt.Errorf("fault: %s", outcome.FaultKind)
	default:
		return fmt.Errorf("unknown outcome")
	}
}

func leUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
