package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// Log subsystems.
const (
	SubsysPairwise    = "OLMS"
	SubsysGroup       = "MGLM"
	SubsysDistributor = "KDST"
	SubsysCodec       = "CODC"
	SubsysStore       = "STOR"
	SubsysRelay       = "RLAY"
	SubsysApp         = "SEAL"
)

// LogBackend writes to an optional stdout writer and an optional rotated log
// file, with a level per subsystem.
type LogBackend struct {
	stdOut          io.Writer
	logRotator      *rotator.Rotator
	bknd            *slog.Backend
	defaultLogLevel slog.Level
	logLevels       map[string]slog.Level

	mtx     sync.Mutex
	loggers map[string]slog.Logger
}

// NewLogBackend parses debugLevel, either a single level or a comma
// separated list of subsys=level pairs, and opens logFile when set.
func NewLogBackend(logFile, debugLevel string, stdOut io.Writer) (*LogBackend, error) {
	var logRotator *rotator.Rotator
	if logFile != "" {
		logDir, _ := filepath.Split(logFile)
		if logDir != "" {
			if err := os.MkdirAll(logDir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %v", err)
			}
		}
		var err error
		logRotator, err = rotator.New(logFile, 1024, false, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %v", err)
		}
	}

	b := &LogBackend{
		stdOut:          stdOut,
		logRotator:      logRotator,
		defaultLogLevel: slog.LevelInfo,
		logLevels:       make(map[string]slog.Level),
		loggers:         make(map[string]slog.Logger),
	}
	b.bknd = slog.NewBackend(b)

	if debugLevel == "" {
		return b, nil
	}
	for _, v := range strings.Split(debugLevel, ",") {
		fields := strings.Split(v, "=")
		switch len(fields) {
		case 1:
			level, ok := slog.LevelFromString(fields[0])
			if !ok {
				return nil, fmt.Errorf("unknown log level %q", fields[0])
			}
			b.defaultLogLevel = level
		case 2:
			level, ok := slog.LevelFromString(fields[1])
			if !ok {
				return nil, fmt.Errorf("unknown log level %q for %s", fields[1], fields[0])
			}
			b.logLevels[fields[0]] = level
		default:
			return nil, fmt.Errorf("unable to parse %q as subsys=level "+
				"debuglevel string", v)
		}
	}
	return b, nil
}

func (bknd *LogBackend) Write(b []byte) (int, error) {
	if bknd.stdOut != nil {
		bknd.stdOut.Write(b)
	}
	if bknd.logRotator != nil {
		bknd.logRotator.Write(b)
	}
	return len(b), nil
}

// Logger returns the logger for subsys, creating it on first use.
func (bknd *LogBackend) Logger(subsys string) slog.Logger {
	bknd.mtx.Lock()
	defer bknd.mtx.Unlock()
	if l, ok := bknd.loggers[subsys]; ok {
		return l
	}

	l := bknd.bknd.Logger(subsys)
	bknd.loggers[subsys] = l
	if level, ok := bknd.logLevels[subsys]; ok {
		l.SetLevel(level)
	} else {
		l.SetLevel(bknd.defaultLogLevel)
	}
	return l
}

// Close flushes and closes the log file.
func (bknd *LogBackend) Close() error {
	if bknd.logRotator == nil {
		return nil
	}
	return bknd.logRotator.Close()
}
