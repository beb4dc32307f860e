package ingest

import "time"

// WindowWidth is the width of an upload window. The agent's upload interval
// must equal it.
const WindowWidth = 10 * time.Second

// Window is the [From, Until) range, in unix seconds, an upload is
// attributed to.
type Window struct {
	From  int64
	Until int64
}

// NewWindow returns the [Window] containing t. From is t floored to a
// multiple of [WindowWidth] and Until is one width later.
func NewWindow(t time.Time) Window {
	from := t.Truncate(WindowWidth)

	return Window{
		From:  from.Unix(),
		Until: from.Add(WindowWidth).Unix(),
	}
}
