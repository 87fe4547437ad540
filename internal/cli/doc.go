// Package cli holds the building blocks of the mcpstudio command line: common
// flags, output rendering, progress spinners, key=value parameter parsing and
// the mapping of API errors to messages and exit codes.
//
// # Output
//
// Every command that lists or shows resources goes through a Printer. The
// output format is selected with --output/-o:
//
//   - table: kubectl-style plain columns, coloured deployment states
//   - wide: table with additional columns (ids, timestamps, errors)
//   - json: the API objects as returned by the server
//   - yaml: the same objects encoded as YAML
//
// # Errors
//
// Errors returned by the studio API arrive as *api.ErrorDescriptor. FormatError
// renders them with a hint for the common cases (server not running, a
// credential that needs re-authorization) and ExitCode maps them to the process
// exit status: 2 when the user has to authorize an integration, 1 otherwise.
package cli
