package workflow

const StatusLines = 4

// StatusLog keeps the most recent status lines, oldest first. Pushing onto
// a full log evicts the oldest line.
type StatusLog struct {
	lines [StatusLines]string
	n     int
}

func (l *StatusLog) Push(line string) {
	if l.n < StatusLines {
		l.lines[l.n] = line
		l.n++
		return
	}
	copy(l.lines[:], l.lines[1:])
	l.lines[StatusLines-1] = line
}

// Append finishes the newest line with suffix, or pushes suffix when the
// log is empty.
func (l *StatusLog) Append(suffix string) {
	if l.n == 0 {
		l.Push(suffix)
		return
	}
	l.lines[l.n-1] += " " + suffix
}

// Lines returns a copy in emission order; unused slots are empty.
func (l *StatusLog) Lines() [StatusLines]string {
	return l.lines
}

func (l *StatusLog) Len() int { return l.n }

func (l *StatusLog) Reset() { *l = StatusLog{} }
