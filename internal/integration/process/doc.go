// Package process supervises the child processes spawned by the task host.
//
// Each process runs in its own process group so that terminating a
// PlatformIO invocation also stops the tools it spawned (uploaders, the
// serial monitor). The Supervisor tracks processes until they exit and
// reports exits through a callback:
//
//	sup := process.NewSupervisor(process.WithProcessExitCallback(onExit))
//	defer sup.Shutdown(5 * time.Second)
//
//	proc, err := sup.Start("Upload (uno)", exec.Command("pio", "run", "-t", "upload"))
//	<-proc.Done()
//	fmt.Println(proc.ExitCode())
//
// Both Supervisor and Process are safe for concurrent use.
package process
