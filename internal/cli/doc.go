// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package cli assembles storykeep's command tree.

NewRootCommand registers the global flags and every subcommand:

	storykeep
	├── write        Replace a document atomically
	├── update       Locked read-modify-write with a jq expression
	├── show         Print a document, optionally through a jq query
	├── lock
	│   ├── status   Show who holds a document's lock
	│   ├── release  Remove a stale (or, with --force, live) lock
	│   └── prune    Remove stale locks below a directory
	├── config       show, path, validate
	├── completion   Shell completion scripts
	├── version      Show version
	└── help         Show help (--json for machine-readable output)

# Global Flags

	--verbose, -v    Debug logging on stderr
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to config file
	--trace          Print OpenTelemetry spans to stderr

# Exit Codes

	0   success
	1   operation failed
	2   invalid input or configuration
	3   document not found
	75  lock contention; retry later

Use Execute from main so failures map to these codes:

	cli.SetVersion(version, commit, date)
	cli.Execute(cli.NewRootCommand())
*/
package cli
