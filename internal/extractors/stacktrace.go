package extractors

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/inquestlabs/inquest-engine/internal/models"
)

// framePattern matches JVM-style frames:
//
//	at com.acme.card.Handler.handleEvent(Handler.kt:45)
//
// File name and line number are optional to tolerate "Native Method" and
// "Unknown Source" frames.
var framePattern = regexp.MustCompile(`(?m)^\s*at\s+([\w.$]+)\.([\w$<>]+)\(([^:)]+)?(?::(\d+))?\)`)

// exceptionPattern matches the header line, with or without a message:
//
//	java.lang.NullPointerException: Customer not found
//	java.lang.IllegalStateException
var exceptionPattern = regexp.MustCompile(`(?m)^(?:Caused by:\s+)?([\w.$]+(?:Exception|Error))(?::\s*(.*))?$`)

var causedByPattern = regexp.MustCompile(`(?m)^Caused by:`)

// StackTraceParser turns raw JVM stack-trace text into structured frames.
// It performs no I/O; the set of owned package prefixes is injected at
// construction.
type StackTraceParser struct {
	ownedPrefixes []string
}

// NewStackTraceParser constructs a parser tagging frames under the given
// package prefixes as owned code.
func NewStackTraceParser(ownedPrefixes []string) *StackTraceParser {
	return &StackTraceParser{ownedPrefixes: ownedPrefixes}
}

// Parse extracts the exception header, ordered frames, and owned-frame
// metadata from a raw stack trace. An unrecognizable header leaves the
// exception fields empty without failing.
func (p *StackTraceParser) Parse(raw string) models.ParsedStackTrace {
	var result models.ParsedStackTrace
	if strings.TrimSpace(raw) == "" {
		return result
	}

	if m := exceptionPattern.FindStringSubmatch(raw); m != nil {
		result.ExceptionType = m[1]
		result.ExceptionMessage = strings.TrimSpace(m[2])
		parts := strings.Split(m[1], ".")
		result.ExceptionShort = parts[len(parts)-1]
	}
	result.HasChainedCause = causedByPattern.MatchString(raw)

	paths := map[string]struct{}{}
	for i, m := range framePattern.FindAllStringSubmatch(raw, -1) {
		frame := models.StackFrame{
			Index:      i,
			ClassName:  m[1],
			MethodName: m[2],
			FileName:   m[3],
		}
		switch strings.ToLower(frame.FileName) {
		case "native method", "unknown source":
			frame.FileName = ""
		}
		if m[4] != "" {
			if n, err := strconv.Atoi(m[4]); err == nil {
				frame.LineNumber = n
			}
		}
		frame.IsRootFrame = i == 0
		frame.IsOwnedPackage = p.isOwned(frame.ClassName)
		if frame.IsOwnedPackage {
			frame.FilePath = FrameFilePath(frame)
			paths[frame.FilePath] = struct{}{}
			result.OwnedFrames = append(result.OwnedFrames, frame)
		}
		result.Frames = append(result.Frames, frame)
	}

	result.UniqueFilePaths = make([]string, 0, len(paths))
	for path := range paths {
		result.UniqueFilePaths = append(result.UniqueFilePaths, path)
	}
	sort.Strings(result.UniqueFilePaths)
	return result
}

// ParseMessage scans free-text log messages for embedded frames, for cases
// where stack traces arrive inline rather than in a dedicated field. It is
// the same frame grammar as Parse.
func (p *StackTraceParser) ParseMessage(message string) models.ParsedStackTrace {
	return p.Parse(message)
}

func (p *StackTraceParser) isOwned(className string) bool {
	for _, prefix := range p.ownedPrefixes {
		if strings.HasPrefix(className, prefix) {
			return true
		}
	}
	return false
}

// FrameFilePath maps a frame's class to its expected source path. Inner
// classes collapse onto the outer class's file; the extension follows the
// frame's file name, defaulting to Kotlin.
//
//	com.acme.card.Handler$Companion -> src/main/kotlin/com/acme/card/Handler.kt
func FrameFilePath(frame models.StackFrame) string {
	base := strings.SplitN(frame.ClassName, "$", 2)[0]
	pathPart := strings.ReplaceAll(base, ".", "/")
	if strings.HasSuffix(frame.FileName, ".java") {
		return "src/main/java/" + pathPart + ".java"
	}
	return "src/main/kotlin/" + pathPart + ".kt"
}

// LoggerNameFilePaths maps a fully qualified logger name to the candidate
// source paths to diff, Kotlin first.
func LoggerNameFilePaths(loggerName string) []string {
	if loggerName == "" {
		return nil
	}
	pathPart := strings.ReplaceAll(strings.SplitN(loggerName, "$", 2)[0], ".", "/")
	return []string{
		"src/main/kotlin/" + pathPart + ".kt",
		"src/main/java/" + pathPart + ".java",
	}
}
