// Package logging provides structured logging for vpsctl.
//
// It wraps Go's log/slog JSON handler with persistent context attributes so
// that every entry emitted while handling a session carries its session id
// and backend kind:
//
//	logger, err := logging.NewLogger("/var/log/vpsctl", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithBackend("container").WithSession(id)
//	log.Info("session created", "port", port)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"session created","backend":"container","session_id":"3f9a1c2e","port":22871}
//
// The minimum level is held in a slog.LevelVar shared by a logger and all of
// its children, so SetLevel takes effect immediately everywhere. The
// supervise command uses this to apply logging.level changes from a watched
// config file.
//
// Credentials are never passed to the logger; credential.Credentials
// implements slog.LogValuer and redacts passwords if it is logged by mistake.
//
// For tests use [NopLogger].
package logging
