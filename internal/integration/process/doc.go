// Package process supervises the child processes started by package
// installers.
//
// # Supervisor
//
// The Supervisor tracks every child it starts under a uuid and captures
// its combined output:
//
//	supervisor := process.NewSupervisor(process.WithLogger(logger))
//	defer supervisor.Shutdown(5 * time.Second)
//
//	res, err := supervisor.Run(ctx, "npm install", exec.Command("npm", "install", "left-pad"))
//	if err != nil {
//	    var exitErr *process.ExitError
//	    if errors.As(err, &exitErr) {
//	        fmt.Println(exitErr.Output)
//	    }
//	}
//
// # Cancellation
//
// When the context passed to Run is done, the whole process tree is
// killed, children first, so package managers that fork helpers do not
// leave orphans behind.
//
// # Thread Safety
//
// Both Supervisor and Process are safe for concurrent use.
package process
