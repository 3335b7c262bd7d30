package main

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/mahaj/campus-chat/pkg/model"
)

// printer writes new conversation entries to a terminal as snapshots arrive.
type printer struct {
	mu  sync.Mutex
	out io.Writer
	me  int64
	now func() time.Time

	seen    map[string]bool
	pending map[string]bool // client ids already shown as sending
}

func newPrinter(out io.Writer, me int64) *printer {
	return &printer{
		out:     out,
		me:      me,
		now:     time.Now,
		seen:    make(map[string]bool),
		pending: make(map[string]bool),
	}
}

// Render prints the entries of snapshot that have not been shown yet. An empty
// snapshot means the conversation was closed.
func (p *printer) Render(snapshot []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(snapshot) == 0 {
		p.seen = make(map[string]bool)
		p.pending = make(map[string]bool)
		return
	}
	now := p.now()
	for _, m := range snapshot {
		key := m.Key()
		if p.seen[key] {
			continue
		}
		p.seen[key] = true

		if m.Pending {
			p.pending[m.ClientID] = true
			fmt.Fprintf(p.out, "\r[sending] %s: %s\n> ", p.name(m), m.Content)
			continue
		}
		if m.ClientID != "" && p.pending[m.ClientID] {
			delete(p.pending, m.ClientID)
			fmt.Fprintf(p.out, "\r[%s] delivered\n> ", model.FormatRelative(m.Date, now))
			continue
		}
		fmt.Fprintf(p.out, "\r[%s] %s: %s\n> ", model.FormatRelative(m.Date, now), p.name(m), m.Content)
	}
}

func (p *printer) name(m model.Message) string {
	switch {
	case m.FromUserID == p.me:
		return "you"
	case m.FromUserName != "":
		return m.FromUserName
	default:
		return "user " + strconv.FormatInt(m.FromUserID, 10)
	}
}

func (p *printer) Line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\r"+format+"\n> ", args...)
}
