package shutdown

// Registered returns the number of stored handlers.
func Registered(c *Coordinator) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}
