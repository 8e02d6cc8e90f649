// Package lua runs Lua plugin entry code on gopher-lua.
//
// # Inspection
//
// Inspect walks the parsed chunk without executing it and records:
//   - top-level PLUGIN_* string constants
//   - top-level function declarations, global or local
//   - require("x") targets, and attribute access on library tables
//     such as os or io
//   - the last name component of every call
//
// The sandbox compares that record against security.Policy before any
// code runs.
//
// # Programs
//
// Compile turns source into an immutable Program. Each Run creates a new
// state with only the base, table, string and math libraries, removes
// every global the policy does not allow, then installs:
//   - print and log, which write one line to the run's output
//   - require, which serves only sanctioned modules
//   - fs, the file capability scoped to the run's temporary directory
//
// The chunk runs first; execute(ctx) is then called and its return value
// converted back to Go:
//
//	prog, err := lua.Compile("entry.lua", src, nil)
//	if err != nil {
//	    return err
//	}
//	result, err := prog.Run(ctx, env)
//
// Run observes ctx: when it is cancelled the VM stops at the next
// instruction and Run returns ctx.Err().
//
// # Bridge
//
// Bridge converts values in both directions. Sequences map to []any,
// other tables to map[string]any, and integral numbers to int64.
package lua
