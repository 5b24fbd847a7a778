// Command infraprintd is the Infrastructure Printer daemon: it loads
// infraprintd.conf, builds one Printer per configured [printer "name"]
// section, serves IPP-over-HTTP for all of them from a single listener,
// advertises them over DNS-SD, and drives their jobs to completion, per
// spec.md's Infrastructure Printer + Proxy model. Grounded on the
// teacher's main.go for the overall startup/shutdown shape, generalized
// from "discover and serve USB devices" into "load configured printers
// and serve them".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/config"
	"github.com/infraprint/infraprintd/internal/dispatch"
	"github.com/infraprint/infraprintd/internal/dnssd"
	"github.com/infraprint/infraprintd/internal/events"
	"github.com/infraprint/infraprintd/internal/httpd"
	"github.com/infraprint/infraprintd/internal/idgen"
	"github.com/infraprint/infraprintd/internal/jobproc"
	"github.com/infraprint/infraprintd/internal/logging"
	"github.com/infraprint/infraprintd/internal/singleton"
	"github.com/infraprint/infraprintd/internal/store"
)

// schedulerInterval is how often the main loop drives CheckJobs against
// every printer and sweeps expired subscription leases. jobproc.CheckJobs
// is safe to call repeatedly, so a short poll is just a bound on latency
// between a job becoming runnable and a worker picking it up.
const schedulerInterval = 250 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "infraprintd:", err)
		os.Exit(1)
	}
}

func run() error {
	conf, err := config.Load()
	if err != nil {
		return err
	}

	logging.Main.SetLevels(conf.LogMain)
	logging.Main.ToFile(config.LogDir + "/infraprintd.log")
	logging.Console.SetLevels(conf.LogConsole)
	if conf.ColorConsole {
		logging.Main.Cc(logging.ColorConsole, conf.LogConsole)
	} else {
		logging.Main.Cc(logging.Console, conf.LogConsole)
	}

	lock, err := singleton.Acquire(config.LockDir, config.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	s := store.New()
	eng := events.NewEngine(s)
	chk := access.NewChecker(access.Groups{
		Admin:    conf.AuthAdminGroup,
		Operator: conf.AuthOperatorGroup,
		Proxy:    conf.AuthProxyGroup,
	})
	d := dispatch.NewDispatcher(s, eng, chk, hostname)

	ln, port, err := httpd.Listen(conf.HTTPMinPort, conf.HTTPMaxPort, conf.LoopbackOnly, conf.IPV6Enable)
	if err != nil {
		return err
	}
	logging.Main.Info(' ', "listening on port %d", port)

	if err := loadPrinters(s, conf, hostname, port); err != nil {
		return err
	}

	proc := jobproc.New(s, eng)
	proc.KeepJobs = conf.KeepJobs
	proc.Log = logging.Main

	requireAuth := conf.AuthAdminGroup != "*" || conf.AuthOperatorGroup != "*" || conf.AuthProxyGroup != "*"
	srv := httpd.NewServer(d, requireAuth)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var publishers []*dnssd.Publisher
	if conf.DNSSdEnable {
		publishers = publishPrinters(s, port, conf.LoopbackOnly, conf.IPV6Enable)
		defer func() {
			for _, p := range publishers {
				p.Unpublish()
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpd.Serve(ctx, ln, srv) }()

	runScheduler(ctx, s, eng, proc)

	select {
	case err := <-serveErr:
		if err != nil {
			logging.Main.Error('!', "httpd: %s", err)
		}
	default:
	}

	logging.Main.Info(' ', "shutting down")
	return nil
}

// loadPrinters constructs one store.Printer per [printer "name"] section
// in conf, per spec.md §6's resource-path rule that a printer's kind
// (2D/3D) determines which base path it's served under. port is needed to
// build absolute URIs for any icon/strings Resource the printer declares.
func loadPrinters(s *store.Store, conf *config.Configuration, hostname string, port int) error {
	for name, pc := range conf.Printers {
		base := "/ipp/print/"
		if pc.ServiceType == "print3d" {
			base = "/ipp/print3d/"
		}
		path := base + name

		if _, exists := s.Printers.ByPath(path); exists {
			return fmt.Errorf("duplicate printer %q", name)
		}

		id := s.Printers.AllocateID()
		uri := "ipp://" + hostname + path
		p := store.NewPrinter(id, name, path, uri, idgen.New())
		p.Command = pc.Command
		p.ProxyGroup = pc.ProxyGroup
		p.MaxJobs = pc.MaxJobs
		p.SpoolDir = conf.SpoolDir + "/" + name
		if err := os.MkdirAll(p.SpoolDir, 0755); err != nil {
			return fmt.Errorf("printer %q: %w", name, err)
		}

		if pc.IconFile != "" {
			p.Resources = append(p.Resources, loadResource(s, name, pc.IconFile, "image/png", hostname, port))
		}
		if pc.StringsFile != "" {
			p.Resources = append(p.Resources, loadResource(s, name, pc.StringsFile, "text/strings", hostname, port))
		}

		s.Printers.Add(p)
	}
	return nil
}

// loadResource installs filename as a Resource already available on disk
// at startup (icon, strings file, ...), registers it in the Store's
// ResourceRegistry, and returns it so the caller can attach it to its
// owning printer. Grounded on resource.c's serverAddResourceFile, which
// likewise assembles a resource-data-uri from the listener's host/port.
func loadResource(s *store.Store, printerName, filename, format, hostname string, port int) *store.Resource {
	id := s.Resources.AllocateID()
	slug := printerName + filepath.Ext(filename)
	path := config.ResourceBase + "/" + strconv.Itoa(id) + "-" + slug
	res := store.NewResource(id, idgen.New(), path, format)
	res.InstallFile(filename)
	res.URI = "http://" + hostname + ":" + strconv.Itoa(port) + path
	s.Resources.Add(res)
	return res
}

// publishPrinters advertises every configured printer over DNS-SD on
// port, returning the Publishers so the caller can unpublish them on
// shutdown. A printer that fails to publish is logged and skipped rather
// than aborting startup of the rest.
func publishPrinters(s *store.Store, port int, loopbackOnly, ipv6Enable bool) []*dnssd.Publisher {
	var out []*dnssd.Publisher
	for _, p := range s.Printers.All() {
		p.RLock()
		name, uuid, path := p.Name, p.UUID, p.Path
		p.RUnlock()

		is3D := len(path) >= len("/ipp/print3d/") && path[:len("/ipp/print3d/")] == "/ipp/print3d/"
		svcs := dnssd.PrinterServices(port, name, uuid, is3D)
		pub := dnssd.NewPublisher(svcs)
		if err := pub.Publish(name, loopbackOnly, ipv6Enable); err != nil {
			logging.Main.Error('!', "dnssd: publish %q: %s", name, err)
			continue
		}
		out = append(out, pub)
	}
	return out
}

// runScheduler drives CheckJobs against every printer and sweeps expired
// subscription leases until ctx is canceled.
func runScheduler(ctx context.Context, s *store.Store, eng *events.Engine, proc *jobproc.Processor) {
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range s.Printers.All() {
				proc.CheckJobs(p)
			}
			eng.SweepExpiredLeases(time.Now())
		}
	}
}
