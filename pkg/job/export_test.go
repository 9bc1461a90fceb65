package job

// ArmedTimers returns the number of execution timers not yet released.
func ArmedTimers() int64 { return armedTimers.Load() }
