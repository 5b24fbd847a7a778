// Package config loads infraprintd's .ini-format configuration file and
// per-printer definitions through a small hand-rolled streaming reader —
// the same parsing idiom the teacher repo uses for ipp-usb.conf — rather
// than a reflection-based INI-to-struct mapper.
package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/infraprint/infraprintd/internal/logging"
)

// IniFile is an opened .ini file positioned for streaming reads.
type IniFile struct {
	file        *os.File
	line        int
	reader      *bufio.Reader
	buf         strings.Builder
	rec         IniRecord
	withRecType bool
}

// IniRecord is a single parsed .ini line: either a "[section]" header or a
// "key = value" pair.
type IniRecord struct {
	Section    string
	Key, Value string
	File       string
	Line       int
	Type       IniRecordType
}

// IniRecordType distinguishes section headers from key/value pairs.
type IniRecordType int

// Record types.
const (
	IniRecordSection IniRecordType = iota
	IniRecordKeyVal
)

// IniError reports a parse failure with file/line context.
type IniError struct {
	File    string
	Line    int
	Message string
}

// Error implements the error interface.
func (e *IniError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// OpenIniFile opens path for streaming read. Next returns only
// IniRecordKeyVal records; section headers update IniRecord.Section
// silently.
func OpenIniFile(path string) (*IniFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &IniFile{
		file:   f,
		line:   1,
		reader: bufio.NewReader(f),
		rec:    IniRecord{File: path},
	}, nil
}

// Close closes the underlying file.
func (ini *IniFile) Close() error { return ini.file.Close() }

// Next returns the next record, or io.EOF when the file is exhausted.
func (ini *IniFile) Next() (*IniRecord, error) {
	for {
		c, err := ini.getcNonSpace()
		for err == nil && ini.iscomment(c) {
			ini.getcNl()
			c, err = ini.getcNonSpace()
		}
		if err != nil {
			return nil, err
		}

		ini.rec.Line = ini.line
		var token string

		switch c {
		case '[':
			c, token, err = ini.token(']', false)
			if err == nil && c == ']' {
				ini.rec.Section = token
			}
			ini.getcNl()
			ini.rec.Type = IniRecordSection
			if ini.withRecType {
				return &ini.rec, nil
			}

		case '=':
			ini.getcNl()
			return nil, ini.errorf("unexpected '=' character")

		default:
			ini.ungetc(c)
			c, token, err = ini.token('=', false)
			if err == nil && c == '=' {
				ini.rec.Key = token
				c, token, err = ini.token(-1, true)
				if err == nil {
					ini.rec.Value = token
					ini.rec.Type = IniRecordKeyVal
					return &ini.rec, nil
				}
			} else if err == nil {
				return nil, ini.errorf("expected '=' character")
			}
		}
	}
}

func (ini *IniFile) token(delimiter rune, linecont bool) (byte, string, error) {
	type state int
	const (
		stSkipSpace state = iota
		stBody
		stString
		stStringBslash
		stStringHex
		stStringOctal
		stComment
	)

	var buf strings.Builder
	var accumulator, count, trailingSpace int
	var c byte
	var err error
	st := stSkipSpace

	for {
		c, err = ini.getc()
		if err != nil || c == '\n' {
			break
		}

		if (st == stBody || st == stSkipSpace) && rune(c) == delimiter {
			break
		}

		switch st {
		case stSkipSpace:
			if ini.isspace(c) {
				break
			}
			st = stBody
			fallthrough

		case stBody:
			if c == '"' {
				st = stString
			} else if ini.iscomment(c) {
				st = stComment
			} else if c == '\\' && linecont {
				c2, _ := ini.getc()
				if c2 == '\n' {
					s := buf.String()
					buf.Reset()
					buf.WriteString(s[:len(s)-trailingSpace])
					trailingSpace = 0
					st = stSkipSpace
				} else {
					ini.ungetc(c2)
				}
			} else {
				buf.WriteByte(c)
			}

			if st == stBody {
				if ini.isspace(c) {
					trailingSpace++
				} else {
					trailingSpace = 0
				}
			} else {
				s := buf.String()
				if trailingSpace > 0 && len(s) >= trailingSpace {
					buf.Reset()
					buf.WriteString(s[:len(s)-trailingSpace])
				}
				trailingSpace = 0
			}

		case stString:
			if c == '\\' {
				st = stStringBslash
			} else if c == '"' {
				st = stBody
			} else {
				buf.WriteByte(c)
			}

		case stStringBslash:
			if c == 'x' || c == 'X' {
				st = stStringHex
				accumulator, count = 0, 0
			} else if ini.isoctal(c) {
				st = stStringOctal
				accumulator = ini.hex2int(c)
				count = 1
			} else {
				switch c {
				case 'a':
					c = '\a'
				case 'b':
					c = '\b'
				case 'e':
					c = '\x1b'
				case 'f':
					c = '\f'
				case 'n':
					c = '\n'
				case 'r':
					c = '\r'
				case 't':
					c = '\t'
				case 'v':
					c = '\v'
				}
				buf.WriteByte(c)
				st = stString
			}

		case stStringHex:
			if ini.isxdigit(c) {
				if count != 2 {
					accumulator = accumulator*16 + ini.hex2int(c)
					count++
				}
			} else {
				st = stString
				ini.ungetc(c)
			}
			if st != stStringHex {
				buf.WriteByte(byte(accumulator))
			}

		case stStringOctal:
			if ini.isoctal(c) {
				accumulator = accumulator*8 + ini.hex2int(c)
				count++
				if count == 3 {
					st = stString
				}
			} else {
				st = stString
				ini.ungetc(c)
			}
			if st != stStringOctal {
				buf.WriteByte(byte(accumulator))
			}

		case stComment:
		}
	}

	s := buf.String()
	if trailingSpace > 0 && len(s) >= trailingSpace {
		s = s[:len(s)-trailingSpace]
	}

	if st != stSkipSpace && st != stBody && st != stComment {
		return 0, "", ini.errorf("unterminated string")
	}

	return c, s, nil
}

func (ini *IniFile) getc() (byte, error) {
	c, err := ini.reader.ReadByte()
	if c == '\n' {
		ini.line++
	}
	return c, err
}

func (ini *IniFile) getcNonSpace() (byte, error) {
	for {
		c, err := ini.getc()
		if err != nil || !ini.isspace(c) {
			return c, err
		}
	}
}

func (ini *IniFile) getcNl() (byte, error) {
	for {
		c, err := ini.getc()
		if err != nil || c == '\n' {
			return c, err
		}
	}
}

func (ini *IniFile) ungetc(c byte) {
	if c == '\n' {
		ini.line--
	}
	ini.reader.UnreadByte()
}

func (ini *IniFile) isspace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

func (ini *IniFile) iscomment(c byte) bool { return c == ';' || c == '#' }

func (ini *IniFile) isoctal(c byte) bool { return '0' <= c && c <= '7' }

func (ini *IniFile) isxdigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func (ini *IniFile) hex2int(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10
	}
	return 0
}

func (ini *IniFile) errorf(format string, args ...interface{}) *IniError {
	return &IniError{File: ini.rec.File, Line: ini.rec.Line, Message: fmt.Sprintf(format, args...)}
}

// errBadValue creates a "bad value" error tied to the record's key.
func (rec *IniRecord) errBadValue(format string, args ...interface{}) error {
	return fmt.Errorf(rec.Key+": "+format, args...)
}

// LoadIPPort parses an IP port number in 1..65535.
func (rec *IniRecord) LoadIPPort(out *int) error {
	port, err := strconv.Atoi(rec.Value)
	if err == nil && (port < 1 || port > 65535) {
		err = rec.errBadValue("must be in range 1...65535")
	}
	if err != nil {
		return err
	}
	*out = port
	return nil
}

// LoadBool parses "false"/"true".
func (rec *IniRecord) LoadBool(out *bool) error {
	return rec.LoadNamedBool(out, "false", "true")
}

// LoadNamedBool parses a binary choice with custom keyword spellings.
func (rec *IniRecord) LoadNamedBool(out *bool, vFalse, vTrue string) error {
	switch rec.Value {
	case vFalse:
		*out = false
		return nil
	case vTrue:
		*out = true
		return nil
	default:
		return rec.errBadValue("must be %s or %s", vFalse, vTrue)
	}
}

// LoadLogLevel parses a comma-separated list of log level keywords.
func (rec *IniRecord) LoadLogLevel(out *logging.Level) error {
	var mask logging.Level

	for _, s := range strings.Split(rec.Value, ",") {
		s = strings.TrimSpace(s)
		switch s {
		case "":
		case "error":
			mask |= logging.Error
		case "info":
			mask |= logging.Info | logging.Error
		case "debug":
			mask |= logging.Debug | logging.Info | logging.Error
		case "trace-ipp":
			mask |= logging.TraceIPP | logging.Debug | logging.Info | logging.Error
		case "trace-http":
			mask |= logging.TraceHTTP | logging.Debug | logging.Info | logging.Error
		case "trace-event":
			mask |= logging.TraceEvent | logging.Debug | logging.Info | logging.Error
		case "all", "trace-all":
			mask |= logging.All
		default:
			return rec.errBadValue("invalid log level %q", s)
		}
	}

	*out = mask
	return nil
}

// LoadDuration parses a millisecond count into a time.Duration.
func (rec *IniRecord) LoadDuration(out *time.Duration) error {
	var ms uint
	err := rec.LoadUint(&ms)
	if err == nil {
		*out = time.Millisecond * time.Duration(ms)
	}
	return err
}

// LoadSize parses a byte count, accepting K/M suffixes.
func (rec *IniRecord) LoadSize(out *int64) error {
	var units uint64 = 1

	if l := len(rec.Value); l > 0 {
		switch rec.Value[l-1] {
		case 'k', 'K':
			units = 1024
		case 'm', 'M':
			units = 1024 * 1024
		}
		if units != 1 {
			rec.Value = rec.Value[:l-1]
		}
	}

	sz, err := strconv.ParseUint(rec.Value, 10, 64)
	if err != nil {
		return rec.errBadValue("%q: invalid size", rec.Value)
	}
	if sz > uint64(math.MaxInt64/units) {
		return rec.errBadValue("size too large")
	}

	*out = int64(sz * units)
	return nil
}

// LoadUint parses an unsigned integer.
func (rec *IniRecord) LoadUint(out *uint) error {
	num, err := strconv.ParseUint(rec.Value, 10, 0)
	if err != nil {
		return rec.errBadValue("%q: invalid number", rec.Value)
	}
	*out = uint(num)
	return nil
}

// LoadUintRange parses an unsigned integer constrained to [min, max].
func (rec *IniRecord) LoadUintRange(out *uint, min, max uint) error {
	var val uint
	if err := rec.LoadUint(&val); err != nil {
		return err
	}
	if val < min || val > max {
		return rec.errBadValue("must be in range %d...%d", min, max)
	}
	*out = val
	return nil
}

// LoadString assigns the raw value verbatim.
func (rec *IniRecord) LoadString(out *string) error {
	*out = rec.Value
	return nil
}

// LoadStringList splits a comma-separated value into a trimmed slice.
func (rec *IniRecord) LoadStringList(out *[]string) error {
	parts := strings.Split(rec.Value, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			list = append(list, p)
		}
	}
	*out = list
	return nil
}
