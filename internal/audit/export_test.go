package audit

// Tamper overwrites an entry in place.
func (l *MemoryLog) Tamper(index int, fn func(e *Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.entries[index])
}
