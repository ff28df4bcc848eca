package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStressFilterKeepsOnlyPeersCategory(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	filtered := wrapStressFilter(core, true)
	logger := zap.New(filtered)

	logger.Info("a status line", Category(PeersCategory))
	logger.Debug("a debug line", zap.String("category", "probe"))
	logger.Warn("uncategorized line")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected only the peers-category line to survive, got %d entries", len(entries))
	}
	if entries[0].Message != "a status line" {
		t.Fatalf("unexpected surviving entry: %+v", entries[0])
	}
}

func TestNoStressFilterKeepsEverything(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	filtered := wrapStressFilter(core, false)
	logger := zap.New(filtered)

	logger.Info("a status line", Category(PeersCategory))
	logger.Warn("uncategorized line")

	if logs.Len() != 2 {
		t.Fatalf("expected both lines to survive without the stress filter, got %d", logs.Len())
	}
}
