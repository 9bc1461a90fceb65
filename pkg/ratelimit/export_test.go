package ratelimit

func (s *MemoryStore) Sweep() { s.sweep() }
