package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (artifacts saved, session start)
	LevelLive    = 2 // Live info (mode transitions, shutter, recording)
	LevelVerbose = 3 // Verbose (normalizer stages, zoom mapping)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *zerolog.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (artifacts, session)
// 2 = live info (transitions, shutter, recording)
// 3 = verbose (normalizer stages, zoom mapping)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects log output (e.g. to mirror it into the web status feed).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// rebuild must be called with mu held.
func rebuild() {
	if level <= LevelOff {
		logger = nil
		return
	}
	cw := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    true,
		TimeFormat: "15:04:05.000",
	}
	l := zerolog.New(cw).Level(zerolog.TraceLevel).With().Timestamp().Str("app", "CamGo").Logger()
	logger = &l
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// event returns a zerolog event when minLevel is enabled, nil otherwise.
// zerolog treats methods on a nil *Event as no-ops.
func event(minLevel int, lvl zerolog.Level) *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel || logger == nil {
		return nil
	}
	return logger.WithLevel(lvl)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	event(LevelInfo, zerolog.InfoLevel).Msgf(format, args...)
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	event(LevelInfo, zerolog.InfoLevel).Msg("═══ " + title + " ═══")
}

// Saved prints a persisted artifact (level 1).
func Saved(kind, path string) {
	event(LevelInfo, zerolog.InfoLevel).Str("kind", kind).Str("path", path).Msg("artifact saved")
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	event(LevelLive, zerolog.DebugLevel).Msgf(format, args...)
}

// Transition prints a capture mode change (level 2).
func Transition(from, to, cause string) {
	event(LevelLive, zerolog.DebugLevel).
		Str("from", from).
		Str("to", to).
		Str("cause", cause).
		Msg("mode transition")
}

// Shot prints a shutter trigger (level 2).
func Shot(path string, whileRecording bool) {
	event(LevelLive, zerolog.DebugLevel).
		Str("path", path).
		Bool("while_recording", whileRecording).
		Msg("shutter triggered")
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	event(LevelVerbose, zerolog.DebugLevel).Msgf(format, args...)
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	event(LevelVerbose, zerolog.DebugLevel).Msgf("%s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	event(LevelVerbose, zerolog.DebugLevel).Msg("━━━ " + name + " ━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	event(LevelVerbose, zerolog.DebugLevel).Int("step", num).Msg(description)
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	event(LevelInfo, zerolog.InfoLevel).Interface("value", value).Msg(name)
}

// Elapsed prints how long a named stage took (level 3).
func Elapsed(stage string, start time.Time) {
	event(LevelVerbose, zerolog.DebugLevel).Dur("took", time.Since(start)).Msg(stage)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	event(LevelTrace, zerolog.TraceLevel).Msgf(format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	event(LevelTrace, zerolog.TraceLevel).
		Str("op", operation).
		Int("pin", pin).
		Interface("value", value).
		Msg("gpio")
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	event(LevelInfo, zerolog.ErrorLevel).Err(err).Msg("error")
}

// Fmt returns a formatted string only if debug is enabled
// (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
