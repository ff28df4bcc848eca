// Command node runs a single SWIM gossip participant: it binds its
// stream and datagram endpoints, joins the cluster through a gateway or
// a list of seeds, then serves until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcastellin/swim-gossip/internal/logging"
	"github.com/mcastellin/swim-gossip/internal/membership"
	"github.com/mcastellin/swim-gossip/internal/node"
	"github.com/mcastellin/swim-gossip/internal/transport"
	"github.com/mcastellin/swim-gossip/internal/wire"
)

var (
	ports      []int
	joinTarget []int
	verbose    bool
	stressTest bool
	logDir     string
)

var rootCmd = &cobra.Command{
	Use:   "node --ports <stream>,<datagram> (--join <stream>,<datagram> | --seed <stream>,<datagram> ...)",
	Short: "run a single SWIM gossip cluster node",
	Long: `node starts one cluster participant bound to a pair of local ports:
a stream port used only for the join handshake, and a datagram port used
for all steady-state gossip and failure-detection traffic.

Use --join to hand the new node a single gateway to join through, or
repeat --seed to pre-populate its peer table directly (e.g. when
bootstrapping the very first members of a cluster, none of which has
anyone to join).

Each port pair is one comma-separated argument (e.g. --ports 8001,9001);
a pair given as two separate arguments is not accepted.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().IntSliceVar(&ports, "ports", nil, "this node's own \"stream,datagram\" port pair (required)")
	rootCmd.Flags().IntSliceVar(&joinTarget, "join", nil, "gateway's \"stream,datagram\" port pair to join through")
	rootCmd.Flags().StringArrayVar(&seedFlags, "seed", nil, "a peer's \"stream,datagram\" port pair to seed the membership table with (repeatable)")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	rootCmd.Flags().BoolVar(&stressTest, "stress-test", false, "suppress all logging except periodic peer-table snapshots")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "", "directory for this node's append-only log file (disabled if empty)")
}

// seedFlags accumulates the raw "--seed stream,datagram" strings; cobra's
// StringArrayVar keeps each repetition verbatim (unlike StringSliceVar,
// which would also split on embedded commas within a single flag).
var seedFlags []string

func parsePortPair(raw []int, flagName string) (membership.NodeId, error) {
	if len(raw) != 2 {
		return membership.NodeId{}, fmt.Errorf("--%s requires exactly two ports: stream,datagram", flagName)
	}
	return membership.NodeId{StreamPort: uint16(raw[0]), DatagramPort: uint16(raw[1])}, nil
}

func parseSeedFlags(raw []string) ([]membership.NodeId, error) {
	result := make([]membership.NodeId, 0, len(raw))
	for _, s := range raw {
		parts, err := splitPortPair(s)
		if err != nil {
			return nil, fmt.Errorf("--seed %q: %w", s, err)
		}
		result = append(result, parts)
	}
	return result, nil
}

func splitPortPair(s string) (membership.NodeId, error) {
	var stream, datagram int
	n, err := fmt.Sscanf(s, "%d,%d", &stream, &datagram)
	if err != nil || n != 2 {
		return membership.NodeId{}, fmt.Errorf("expected \"stream,datagram\", got %q", s)
	}
	return membership.NodeId{StreamPort: uint16(stream), DatagramPort: uint16(datagram)}, nil
}

func run(cmd *cobra.Command, args []string) error {
	self, err := parsePortPair(ports, "ports")
	if err != nil {
		return err
	}

	joinGiven := len(joinTarget) > 0
	seedGiven := len(seedFlags) > 0
	if joinGiven == seedGiven {
		return fmt.Errorf("exactly one of --join or --seed must be given")
	}

	logOpts := logging.Options{Verbose: verbose, StressTest: stressTest}
	if logDir != "" {
		logOpts.LogFilePath = logDir + string(os.PathSeparator) +
			strconv.Itoa(int(self.StreamPort)) + "_" + strconv.Itoa(int(self.DatagramPort)) + ".log"
	}
	logger, err := logging.New(self.String(), logOpts)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer logger.Sync()

	n := node.New(self, logger)

	if joinGiven {
		gateway, err := parsePortPair(joinTarget, "join")
		if err != nil {
			return err
		}
		reply, err := transport.SendJoin(fmt.Sprintf("127.0.0.1:%d", gateway.StreamPort), wire.NewJoinRequest(self))
		if err != nil {
			// The initial join is fatal on failure per this service's
			// error-handling model: there is no cluster to serve without it.
			logger.Fatal("initial join failed", zap.Stringer("gateway", gateway), zap.Error(err))
		}
		n.Populate(reply.Peers())
		logger.Info("joined cluster", zap.Stringer("gateway", gateway), zap.Int("peers", len(reply.Peers())))
	} else {
		seedPeers, err := parseSeedFlags(seedFlags)
		if err != nil {
			return err
		}
		n.Populate(seedPeers)
		logger.Info("seeded cluster membership", zap.Int("peers", len(seedPeers)))
	}

	runner, err := node.NewRunner(n, logger)
	if err != nil {
		logger.Fatal("failed to bind transport endpoints", zap.Error(err))
	}
	runner.Serve()
	logger.Info("node serving", zap.Stringer("self", self))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	if err := runner.Shutdown(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
