package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/infraprint/infraprintd/internal/logging"
)

// FileName of the global config is ConfDir/FileName (a copy next to the
// executable is read as well); printer definitions come from that same
// file's [printer "name"] sections.

// Configuration is the daemon-wide configuration, loaded from
// infraprintd.conf. Grounded on the teacher's conf.go Configuration struct,
// with network/DNS-SD/logging fields kept and USB-specific fields dropped
// in favor of spool/auth/printer fields the spec calls for.
type Configuration struct {
	HTTPMinPort  int  // First port tried when binding the daemon's shared listener
	HTTPMaxPort  int  // Last port tried
	LoopbackOnly bool // Bind only to loopback addresses
	IPV6Enable   bool // Advertise/bind IPv6 in addition to IPv4

	DNSSdEnable  bool   // Advertise printers via DNS-SD
	DNSSdDomain  string // DNS-SD domain, usually "local"

	SpoolDir string // Root of the per-printer spool tree
	KeepJobs bool   // Retain spool files after job deletion

	LogMain       logging.Level // Main log facility mask
	LogConsole    logging.Level // Console mirror mask
	ColorConsole  bool
	LogMaxSize    int64
	LogMaxBackups uint

	// AuthAdminGroup/AuthOperatorGroup/AuthProxyGroup name the OS groups
	// (or "*" for anyone, "@name" equivalently) whose members may perform
	// admin-, operator- and proxy-gated IPP operations respectively. See
	// internal/access.
	AuthAdminGroup    string
	AuthOperatorGroup string
	AuthProxyGroup    string

	// PrivateAttributes lists attribute names redacted from responses for
	// readers who are not the object's owner and not in AuthOperatorGroup.
	PrivateAttributes []string

	Printers map[string]*PrinterConfig
}

// PrinterConfig is one [printer "name"] section: the static definition of
// an Infrastructure Printer instance the daemon creates at startup.
type PrinterConfig struct {
	Name        string
	ServiceType string // "print" or "print3d", see spec.md §6 resource paths
	Command     string // local job-processing command, or "" for proxy/simulated
	ProxyGroup  bool   // jobs are handed off to a proxy rather than run locally
	MaxJobs     uint   // active-jobs quota, 0 = unlimited

	// IconFile and StringsFile, if set, name a local file installed as a
	// Resource and advertised via printer-icons/printer-strings-uri, per
	// spec.md §3's Resource object.
	IconFile    string
	StringsFile string
}

// Default returns the built-in defaults, matching the teacher's Conf
// initializer in shape.
func Default() *Configuration {
	return &Configuration{
		HTTPMinPort:       60000,
		HTTPMaxPort:       65535,
		LoopbackOnly:      true,
		IPV6Enable:        true,
		DNSSdEnable:       true,
		DNSSdDomain:       "local",
		SpoolDir:          SpoolDir,
		KeepJobs:          false,
		LogMain:           logging.Debug,
		LogConsole:        logging.Debug,
		ColorConsole:      true,
		LogMaxSize:        4 * 1024 * 1024,
		LogMaxBackups:     5,
		AuthAdminGroup:    "*",
		AuthOperatorGroup: "*",
		AuthProxyGroup:    "*",
		PrivateAttributes: []string{"job-originating-user-name", "job-password", "job-password-encryption"},
		Printers:          map[string]*PrinterConfig{},
	}
}

// Load reads the configuration file, trying ConfDir/FileName and then a
// copy next to the executable, exactly as the teacher's ConfLoad does.
func Load() (*Configuration, error) {
	conf := Default()

	exepath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("config: %s", err)
	}
	exepath = filepath.Dir(exepath)

	files := []string{
		filepath.Join(ConfDir, FileName),
		filepath.Join(exepath, FileName),
	}

	for _, file := range files {
		if err := loadFile(conf, file); err != nil {
			return nil, fmt.Errorf("config: %s", err)
		}
	}

	if conf.HTTPMinPort >= conf.HTTPMaxPort {
		return nil, errors.New("config: http-min-port must be less than http-max-port")
	}

	return conf, nil
}

func loadFile(conf *Configuration, path string) error {
	ini, err := OpenIniFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer ini.Close()

	var printer *PrinterConfig

	for {
		rec, err := ini.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		section, arg := splitSection(rec.Section)

		switch section {
		case "network":
			printer = nil
			switch rec.Key {
			case "http-min-port":
				err = rec.LoadIPPort(&conf.HTTPMinPort)
			case "http-max-port":
				err = rec.LoadIPPort(&conf.HTTPMaxPort)
			case "interface":
				err = rec.LoadNamedBool(&conf.LoopbackOnly, "all", "loopback")
			case "ipv6":
				err = rec.LoadNamedBool(&conf.IPV6Enable, "disable", "enable")
			}

		case "dns-sd":
			printer = nil
			switch rec.Key {
			case "enable":
				err = rec.LoadNamedBool(&conf.DNSSdEnable, "disable", "enable")
			case "domain":
				err = rec.LoadString(&conf.DNSSdDomain)
			}

		case "spool":
			printer = nil
			switch rec.Key {
			case "directory":
				err = rec.LoadString(&conf.SpoolDir)
			case "keep-jobs":
				err = rec.LoadNamedBool(&conf.KeepJobs, "disable", "enable")
			}

		case "logging":
			printer = nil
			switch rec.Key {
			case "main-log":
				err = rec.LoadLogLevel(&conf.LogMain)
			case "console-log":
				err = rec.LoadLogLevel(&conf.LogConsole)
			case "console-color":
				err = rec.LoadNamedBool(&conf.ColorConsole, "disable", "enable")
			case "max-file-size":
				err = rec.LoadSize(&conf.LogMaxSize)
			case "max-backup-files":
				err = rec.LoadUint(&conf.LogMaxBackups)
			}

		case "auth":
			printer = nil
			switch rec.Key {
			case "admin-group":
				err = rec.LoadString(&conf.AuthAdminGroup)
			case "operator-group":
				err = rec.LoadString(&conf.AuthOperatorGroup)
			case "proxy-group":
				err = rec.LoadString(&conf.AuthProxyGroup)
			case "private-attributes":
				err = rec.LoadStringList(&conf.PrivateAttributes)
			}

		case "printer":
			if printer == nil || printer.Name != arg {
				printer = &PrinterConfig{Name: arg, ServiceType: "print"}
				conf.Printers[arg] = printer
			}

			switch rec.Key {
			case "service-type":
				err = rec.LoadString(&printer.ServiceType)
			case "command":
				err = rec.LoadString(&printer.Command)
			case "proxy":
				err = rec.LoadNamedBool(&printer.ProxyGroup, "disable", "enable")
			case "max-jobs":
				err = rec.LoadUint(&printer.MaxJobs)
			case "icon-file":
				err = rec.LoadString(&printer.IconFile)
			case "strings-file":
				err = rec.LoadString(&printer.StringsFile)
			}
		}

		if err != nil {
			return fmt.Errorf("%s:%d: %s: %w", path, rec.Line, rec.Key, err)
		}
	}
}

// splitSection splits a joined "kind arg" section header (as produced by
// the parser for `[kind "arg"]`) into its two parts.
func splitSection(section string) (kind, arg string) {
	if i := strings.IndexByte(section, ' '); i >= 0 {
		return section[:i], section[i+1:]
	}
	return section, ""
}
