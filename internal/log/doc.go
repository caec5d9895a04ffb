// Package log provides secure logging functionality with automatic sanitization
// of sensitive information, built on top of the standard slog package.
//
// The image preparation command talks to the snap store and may be run with
// store credentials in its environment. The SecureHandler masks those values
// wherever they show up in log attributes:
//   - attribute keys naming credentials (password, token, macaroon, ...)
//   - environment pairs such as UBUNTU_STORE_AUTH=... inside strings or
//     string slices (for example a logged command environment)
//   - values that look like macaroons, bearer tokens or private keys
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	slog.SetDefault(logger)
//	logger.Debug("running command", "env", cmd.Env) // credentials are masked
package log
