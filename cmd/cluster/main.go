// Command cluster launches a small local SWIM cluster for demos and
// manual testing: one "node" child process per --seed pair, each seeded
// with every other member's port pair so the cluster starts fully
// connected without anyone needing to join through a gateway.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
)

var seedFlags []string
var verbose bool
var stressTest bool

var rootCmd = &cobra.Command{
	Use:   "cluster --seed <stream>,<datagram> --seed <stream>,<datagram> ...",
	Short: "launch a small local SWIM cluster",
	Long: `cluster starts one "node" child process per --seed pair, cross-wiring
every child with every other seed's port pair so the cluster comes up
fully connected without a join handshake.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringArrayVar(&seedFlags, "seed", nil, "a member's \"stream,datagram\" port pair (repeatable, at least 2 required)")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "pass --verbose through to every child node")
	rootCmd.Flags().BoolVar(&stressTest, "stress-test", false, "pass --stress-test through to every child node")
}

func run(cmd *cobra.Command, args []string) error {
	if len(seedFlags) < 2 {
		return fmt.Errorf("at least 2 --seed pairs are required to form a cluster")
	}

	nodeBinary, err := exec.LookPath("node")
	if err != nil {
		return fmt.Errorf("cluster: could not find the \"node\" binary on PATH: %w", err)
	}

	procs := make([]*exec.Cmd, 0, len(seedFlags))
	for i, self := range seedFlags {
		peerArgs := make([]string, 0, 2*(len(seedFlags)-1))
		for j, other := range seedFlags {
			if j == i {
				continue
			}
			peerArgs = append(peerArgs, "--seed", other)
		}

		cmdArgs := append([]string{"--ports", self}, peerArgs...)
		if verbose {
			cmdArgs = append(cmdArgs, "--verbose")
		}
		if stressTest {
			cmdArgs = append(cmdArgs, "--stress-test")
		}

		child := exec.Command(nodeBinary, cmdArgs...)
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Start(); err != nil {
			killAll(procs)
			return fmt.Errorf("cluster: starting node for seed %q: %w", self, err)
		}
		procs = append(procs, child)
	}

	fmt.Println("cluster: " + strconv.Itoa(len(procs)) + " nodes started, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("cluster: shutting down")
	killAll(procs)
	return nil
}

// killAll terminates every child process and waits for it to exit,
// concurrently so one slow child doesn't delay the others' teardown.
func killAll(procs []*exec.Cmd) {
	var wg sync.WaitGroup
	for _, p := range procs {
		if p.Process == nil {
			continue
		}
		wg.Add(1)
		go func(p *exec.Cmd) {
			defer wg.Done()
			p.Process.Signal(syscall.SIGTERM)
			p.Wait()
		}(p)
	}
	wg.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
