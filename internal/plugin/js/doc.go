// Package js compiles and runs JavaScript plugin entry code on goja.
//
// Every Run builds a fresh runtime, removes the globals the security
// policy does not allow and disables the Function constructors reachable
// through prototypes. The run's context interrupts the VM when it is done.
//
// Entry code defines execute(ctx) as a global function, as
// exports.execute, or as module.exports. An async execute is awaited as
// long as it settles without outside events.
//
// Sanctioned modules are served by require:
//
//	const re = require("re");
//	function execute(ctx) {
//	    return re.replace("\\s+", ctx.input.text, " ");
//	}
//
// Inspect walks the syntax tree without running anything and also reads
// metadata comment markers such as "// @name Word Counter".
package js
