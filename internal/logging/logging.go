// Package logging sets up the zap logger shared by every node
// component, threaded through the application as a field rather than
// used as a package-global logger.
//
// It supports a per-node append-only log file named
// "<stream>_<datagram>.log" and a stress-test mode that suppresses
// every log line except a dedicated "peers" category used for periodic
// status output.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CategoryKey is the structured field key used to tag specific log
// categories, most notably "peers" for periodic membership snapshots.
const CategoryKey = "category"

// PeersCategory is the category name the stress-test toggle keeps.
const PeersCategory = "peers"

// Category returns the structured field marking a log line's category.
func Category(name string) zap.Field {
	return zap.String(CategoryKey, name)
}

// Options configures logger construction.
type Options struct {
	// Verbose enables debug-level logs; otherwise they are suppressed.
	Verbose bool
	// StressTest suppresses every log line except those tagged with
	// PeersCategory.
	StressTest bool
	// LogFilePath is the append-only per-node log file. Empty disables
	// file logging.
	LogFilePath string
}

// New builds a *zap.Logger per Options, writing to stderr and, if
// configured, to a per-node log file. The returned logger is the single
// instance every node component should be handed; callers must defer
// logger.Sync().
func New(nodeID string, opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	cores := []zapcore.Core{wrapStressFilter(consoleCore, opts.StressTest)}

	if opts.LogFilePath != "" {
		sink, _, err := zap.Open(opts.LogFilePath)
		if err != nil {
			return nil, fmt.Errorf("logging: opening log file %q: %w", opts.LogFilePath, err)
		}
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level)
		cores = append(cores, wrapStressFilter(fileCore, opts.StressTest))
	}

	logger := zap.New(zapcore.NewTee(cores...)).With(zap.String("node", nodeID))
	return logger, nil
}

func wrapStressFilter(core zapcore.Core, stressTest bool) zapcore.Core {
	if !stressTest {
		return core
	}
	return &categoryFilterCore{Core: core, onlyCategory: PeersCategory}
}

// categoryFilterCore drops every log entry that is not tagged with
// onlyCategory. It backs the stress-test toggle: everything except the
// "peers" status category is suppressed.
type categoryFilterCore struct {
	zapcore.Core
	onlyCategory string
}

func (c *categoryFilterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Core.Enabled(ent.Level) {
		return ce
	}
	return ce.AddCore(ent, c)
}

func (c *categoryFilterCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	match := false
	for _, f := range fields {
		if f.Key == CategoryKey && f.String == c.onlyCategory {
			match = true
			break
		}
	}
	if !match {
		return nil
	}
	return c.Core.Write(ent, fields)
}

func (c *categoryFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &categoryFilterCore{Core: c.Core.With(fields), onlyCategory: c.onlyCategory}
}
