package logging

// Main, Console and ColorConsole are the three standard logger instances
// shared across the daemon and the proxy agent. Main is the primary log
// (console until a log file is configured); Console always targets stdout.
var (
	Main         = New().ToConsole()
	Console      = New().ToConsole()
	ColorConsole = New().ToColorConsole()
)
