// Package logging implements the daemon's logging facilities: a leveled,
// multi-destination logger with atomic multi-line messages, so a request
// dump, a worker trace or an HTTP header block never gets interleaved with
// unrelated log activity.
package logging

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/OpenPrinting/goipp"
)

// Default rotation parameters for file-backed loggers.
const (
	MaxFileSize    = 4 * 1024 * 1024
	MaxBackupFiles = 5
)

// Level enumerates the log facilities a line may belong to.
type Level int

// Log levels. TraceXxx implies Debug implies Info implies Error — see Cc.
const (
	Error Level = 1 << iota
	Info
	Debug
	TraceIPP
	TraceHTTP
	TraceEvent

	TraceAll = TraceIPP | TraceHTTP | TraceEvent
	All      = Error | Info | Debug | TraceAll
)

type mode int

const (
	modeBuffered mode = iota
	modeConsole
	modeColorConsole
	modeFile
)

// Logger is a single logging destination: console, color console or a
// rotating log file. The zero value is not usable; use New.
type Logger struct {
	root    LogMessage
	mode    mode
	lock    sync.Mutex
	path    string
	levels  Level
	out     io.Writer
	outhook func(io.Writer, Level, []byte)
	cc      []ccTarget
}

type ccTarget struct {
	mask Level
	to   *Logger
}

// New creates a new, not yet connected, Logger. Messages written before a
// destination is attached (ToConsole/ToFile) are silently dropped.
func New() *Logger {
	l := &Logger{
		mode:   modeBuffered,
		levels: All,
		outhook: func(w io.Writer, _ Level, line []byte) {
			w.Write(line)
		},
	}
	l.root.logger = l
	return l
}

// SetLevels sets the mask of levels this logger actually emits.
func (l *Logger) SetLevels(levels Level) { l.levels = levels }

// ToConsole redirects the logger to stdout.
func (l *Logger) ToConsole() *Logger {
	l.mode = modeConsole
	l.out = os.Stdout
	return l
}

// ToColorConsole redirects the logger to stdout, using ANSI colors when
// stdout is a terminal.
func (l *Logger) ToColorConsole() *Logger {
	if isTerminal(os.Stdout) {
		l.outhook = colorConsoleWrite
	}
	return l.ToConsole()
}

// ToFile redirects the logger to a rotating file at path.
func (l *Logger) ToFile(path string) *Logger {
	l.path = path
	l.mode = modeFile
	l.out = nil
	return l
}

// ToNowhere discards everything written to this logger.
func (l *Logger) ToNowhere() *Logger {
	l.mode = modeConsole
	l.out = io.Discard
	return l
}

// Cc arranges for lines matching mask to also be copied to another logger.
func (l *Logger) Cc(to *Logger, mask Level) {
	if mask&TraceAll != 0 {
		mask |= Debug
	}
	if mask&Debug != 0 {
		mask |= Info
	}
	if mask&Info != 0 {
		mask |= Error
	}
	l.cc = append(l.cc, ccTarget{mask, to})
}

// Close closes the logger's underlying file, if any.
func (l *Logger) Close() {
	if l.mode == modeFile && l.out != nil {
		if f, ok := l.out.(*os.File); ok {
			f.Close()
		}
	}
}

func (l *Logger) fmtTime(buf *lineBuf) {
	if l.mode == modeFile {
		now := time.Now().UTC()
		fmt.Fprintf(buf, "%s ", now.Format("2006-01-02T15:04:05.000Z"))
	}
}

func (l *Logger) rotate() {
	file, ok := l.out.(*os.File)
	if !ok {
		return
	}

	stat, err := file.Stat()
	if err != nil || stat.Size() <= MaxFileSize {
		return
	}

	prev := ""
	for i := MaxBackupFiles; i >= 0; i-- {
		next := l.path
		if i > 0 {
			next += fmt.Sprintf(".%d.gz", i-1)
		}

		switch i {
		case MaxBackupFiles:
			os.Remove(next)
		case 0:
			if err := l.gzipInto(next, prev); err == nil {
				file.Truncate(0)
				file.Seek(0, io.SeekStart)
			}
		default:
			os.Rename(next, prev)
		}

		prev = next
	}
}

func (l *Logger) gzipInto(ipath, opath string) error {
	ifile, err := os.Open(ipath)
	if err != nil {
		return err
	}
	defer ifile.Close()

	ofile, err := os.OpenFile(opath, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return err
	}

	w := gzip.NewWriter(ofile)
	_, err = io.Copy(w, ifile)
	err2 := w.Close()
	err3 := ofile.Close()

	switch {
	case err == nil && err2 != nil:
		err = err2
	case err == nil && err3 != nil:
		err = err3
	}

	if err != nil {
		os.Remove(opath)
	}

	return err
}

// Begin starts a new top-level atomic log message.
func (l *Logger) Begin() *LogMessage { return l.root.Begin() }

// Error logs a single-line error-level message.
func (l *Logger) Error(prefix byte, format string, args ...interface{}) {
	l.root.Begin().Error(prefix, format, args...).Commit()
}

// Info logs a single-line info-level message.
func (l *Logger) Info(prefix byte, format string, args ...interface{}) {
	l.root.Begin().Info(prefix, format, args...).Commit()
}

// Debug logs a single-line debug-level message.
func (l *Logger) Debug(prefix byte, format string, args ...interface{}) {
	l.root.Begin().Debug(prefix, format, args...).Commit()
}

// Exit logs an error-level message and terminates the process.
func (l *Logger) Exit(prefix byte, format string, args ...interface{}) {
	if l.mode == modeBuffered {
		l.ToConsole()
	}
	l.root.Begin().Exit(prefix, format, args...)
}

// Check calls Exit if err is not nil.
func (l *Logger) Check(err error) {
	if err != nil {
		l.Exit(0, "%s", err)
	}
}

// LogMessage is a (possibly multi-line) message that appears in the log
// atomically — never interleaved with another message's lines.
type LogMessage struct {
	logger *Logger
	parent *LogMessage
	lines  []*lineBuf
}

var messagePool = sync.Pool{New: func() interface{} { return &LogMessage{} }}

// Begin returns a nested message; writes to the child are appended to the
// parent, and only the outermost Commit/Flush actually emits anything.
func (msg *LogMessage) Begin() *LogMessage {
	m := messagePool.Get().(*LogMessage)
	m.logger = msg.logger
	m.parent = msg
	return m
}

// Add appends a formatted line at the given level, with an optional
// one-character gutter prefix (0 for none).
func (msg *LogMessage) Add(level Level, prefix byte, format string, args ...interface{}) *LogMessage {
	buf := lineBufAlloc(level, prefix)
	fmt.Fprintf(buf, format, args...)
	msg.lines = append(msg.lines, buf)
	if msg.parent == nil {
		msg.Flush()
	}
	return msg
}

// Nl appends a blank line.
func (msg *LogMessage) Nl(level Level) *LogMessage { return msg.Add(level, 0, "") }

func (msg *LogMessage) addBytes(level Level, prefix byte, line []byte) *LogMessage {
	buf := lineBufAlloc(level, prefix)
	buf.Write(line)
	msg.lines = append(msg.lines, buf)
	if msg.parent == nil {
		msg.Flush()
	}
	return msg
}

// Error appends an Error-level line.
func (msg *LogMessage) Error(prefix byte, format string, args ...interface{}) *LogMessage {
	return msg.Add(Error, prefix, format, args...)
}

// Info appends an Info-level line.
func (msg *LogMessage) Info(prefix byte, format string, args ...interface{}) *LogMessage {
	return msg.Add(Info, prefix, format, args...)
}

// Debug appends a Debug-level line.
func (msg *LogMessage) Debug(prefix byte, format string, args ...interface{}) *LogMessage {
	return msg.Add(Debug, prefix, format, args...)
}

// Exit appends an Error-level line, flushes the whole message chain and
// terminates the process with status 1.
func (msg *LogMessage) Exit(prefix byte, format string, args ...interface{}) {
	msg.Error(prefix, format, args...)
	for msg.parent != nil {
		msg.Flush()
		msg = msg.parent
	}
	os.Exit(1)
}

// Check calls Exit if err is not nil.
func (msg *LogMessage) Check(err error) {
	if err != nil {
		msg.Exit(0, "%s", err)
	}
}

// HexDump appends a classic hex+ASCII dump of data, 16 bytes per line.
func (msg *LogMessage) HexDump(level Level, data []byte) *LogMessage {
	hex := &bytes.Buffer{}
	chr := &bytes.Buffer{}
	off := 0

	for len(data) > 0 {
		hex.Reset()
		chr.Reset()

		sz := len(data)
		if sz > 16 {
			sz = 16
		}

		i := 0
		for ; i < sz; i++ {
			c := data[i]
			fmt.Fprintf(hex, "%2.2x", c)
			if i%4 == 3 {
				hex.WriteByte(':')
			} else {
				hex.WriteByte(' ')
			}
			if 0x20 <= c && c < 0x80 {
				chr.WriteByte(c)
			} else {
				chr.WriteByte('.')
			}
		}
		for ; i < 16; i++ {
			hex.WriteString("   ")
		}

		msg.Add(level, ' ', "%4.4x: %s %s", off, hex, chr)

		off += sz
		data = data[sz:]
	}

	return msg
}

// HTTPHeader dumps an HTTP header block into the message.
func (msg *LogMessage) HTTPHeader(level Level, prefix byte, session uint64, hdr http.Header) *LogMessage {
	keys := make([]string, 0, len(hdr))
	for k := range hdr {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		msg.Add(level, prefix, "HTTP[%d] %s: %s", session, k, hdr.Get(k))
	}
	return msg.Nl(level)
}

// IPPRequest pretty-prints an IPP request into the message.
func (msg *LogMessage) IPPRequest(level Level, prefix byte, m *goipp.Message) *LogMessage {
	m.Print(msg.LineWriter(level, prefix), true)
	return msg
}

// IPPResponse pretty-prints an IPP response into the message.
func (msg *LogMessage) IPPResponse(level Level, prefix byte, m *goipp.Message) *LogMessage {
	m.Print(msg.LineWriter(level, prefix), false)
	return msg
}

// LineWriter returns an io.Writer that appends each written line to msg.
func (msg *LogMessage) LineWriter(level Level, prefix byte) *LineWriter {
	return &LineWriter{Callback: func(line []byte) { msg.addBytes(level, prefix, line) }}
}

// Commit flushes the message and releases it back to the pool.
func (msg *LogMessage) Commit() {
	msg.Flush()
	msg.free()
}

// Reject discards the message without logging it.
func (msg *LogMessage) Reject() { msg.free() }

// Flush writes buffered lines to the logger (or to the parent message).
func (msg *LogMessage) Flush() {
	if len(msg.lines) == 0 {
		return
	}

	if msg.parent != nil {
		msg.parent.lines = append(msg.parent.lines, msg.lines...)
		msg.lines = msg.lines[:0]
		return
	}

	l := msg.logger
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.out == nil && l.mode == modeFile {
		os.MkdirAll(filepath.Dir(l.path), 0755)
		l.out, _ = os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	}
	if l.out == nil {
		msg.lines = msg.lines[:0]
		return
	}

	if l.mode == modeFile {
		l.rotate()
	}

	var cclist []struct {
		mask Level
		msg  *LogMessage
	}
	for _, cc := range l.cc {
		cclist = append(cclist, struct {
			mask Level
			msg  *LogMessage
		}{cc.mask, cc.to.Begin()})
	}

	buf := lineBufAlloc(0, 0)
	defer buf.free()
	l.fmtTime(buf)
	timeLen := buf.Len()

	for _, ln := range msg.lines {
		if l.levels&ln.level == 0 && ln.level != 0 {
			continue
		}

		buf.Truncate(timeLen)
		ln.trim()
		if !ln.empty() {
			buf.Write(ln.Bytes())
		}
		buf.WriteByte('\n')

		l.outhook(l.out, ln.level, buf.Bytes())

		for _, cc := range cclist {
			if cc.mask&ln.level != 0 || ln.level == 0 {
				cc.msg.addBytes(ln.level, 0, ln.Bytes())
			}
		}

		ln.free()
	}

	for _, cc := range cclist {
		cc.msg.Commit()
	}

	msg.lines = msg.lines[:0]
}

func (msg *LogMessage) free() {
	for _, l := range msg.lines {
		l.free()
	}
	if len(msg.lines) < 16 {
		msg.lines = msg.lines[:0]
	} else {
		msg.lines = nil
	}
	msg.logger = nil
	msg.parent = nil
	messagePool.Put(msg)
}

// lineBuf is a single pooled log line buffer.
type lineBuf struct {
	bytes.Buffer
	level Level
}

var lineBufPool = sync.Pool{New: func() interface{} { return &lineBuf{} }}

func lineBufAlloc(level Level, prefix byte) *lineBuf {
	buf := lineBufPool.Get().(*lineBuf)
	buf.level = level
	if prefix != 0 {
		buf.WriteByte(prefix)
		buf.WriteByte(' ')
	}
	return buf
}

func (b *lineBuf) free() {
	if b.Cap() <= 256 {
		b.Reset()
		lineBufPool.Put(b)
	}
}

func (b *lineBuf) trim() {
	data := b.Bytes()
	i := len(data)
	for i > 0 {
		switch data[i-1] {
		case '\t', '\n', '\v', '\f', '\r', ' ':
			i--
			continue
		}
		break
	}
	b.Truncate(i)
}

func (b *lineBuf) empty() bool { return b.Len() == 0 }

func colorConsoleWrite(out io.Writer, level Level, line []byte) {
	var beg, end string
	switch {
	case level&Error != 0:
		beg, end = "\033[31;1m", "\033[0m"
	case level&Info != 0:
		beg, end = "\033[32;1m", "\033[0m"
	case level&Debug != 0:
		beg, end = "\033[37;1m", "\033[0m"
	case level&TraceAll != 0:
		beg, end = "\033[37m", "\033[0m"
	}
	out.Write([]byte(beg))
	out.Write(line)
	out.Write([]byte(end))
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
