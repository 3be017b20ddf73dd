package core

import "fmt"

// Message is the common shape of every diagnostic a backend produces, whether
// it is an informational notice or the error that failed a batch.
type Message struct {
	Server    string
	Catalog   string
	Procedure string
	// Line is the 1-based line within the executed batch, 0 when unknown.
	Line     int
	Number   int
	State    int
	Severity Severity
	Text     string
}

// String renders the message the way backend tools print it.
func (m Message) String() string {
	if m.Number == 0 {
		return m.Text
	}
	return fmt.Sprintf("Msg %d, Level %d, State %d: %s", m.Number, m.Severity, m.State, m.Text)
}

// Location is a coordinate in the original (pre-preprocessor) source.
type Location struct {
	File string
	Line int
}

// String renders the location as file(line).
func (l Location) String() string {
	return fmt.Sprintf("%s(%d)", l.File, l.Line)
}
