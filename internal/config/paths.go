package config

// Well-known filesystem locations. Grounded on the teacher's paths.go,
// renamed for this daemon.
const (
	// ConfDir is where the configuration file and printer definitions live.
	ConfDir = "/etc/infraprintd"

	// FileName is the name of the main configuration file, under ConfDir
	// or next to the executable.
	FileName = "infraprintd.conf"

	// StateDir holds runtime state: the lock file and the spool tree.
	StateDir = "/var/lib/infraprintd"

	// LockDir holds the daemon's singleton lock file.
	LockDir = StateDir + "/lock"

	// LockFile prevents two daemon instances from running concurrently.
	LockFile = LockDir + "/infraprintd.lock"

	// SpoolDir is the default root under which per-printer spool
	// directories (<spool>/<printer>/<job-id>-<name>.<ext>) are created.
	SpoolDir = StateDir + "/spool"

	// LogDir holds the main rotating log file.
	LogDir = StateDir + "/log"

	// ResourceBase is the HTTP resource path prefix under which installed
	// Resource files (icons, strings files, ...) are served, per spec.md
	// §6's `/<resource-base>/<id>-<slug>.<ext>` resource path.
	ResourceBase = "/ipp/resource"
)
