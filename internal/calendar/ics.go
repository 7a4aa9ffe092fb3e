package calendar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studyline/internal/config"
	"studyline/internal/planner"
)

// icsTime is the floating local-time form used for DTSTART and DTEND.
const icsTime = "20060102T150405"

// ICSOptions control how events are rendered.
type ICSOptions struct {
	ProdID      string
	Description string
	Status      string
	StartHour   int
	// Anchor is the date events are offset from. Zero means now.
	Anchor time.Time
}

func (o ICSOptions) withDefaults() ICSOptions {
	if o.ProdID == "" {
		o.ProdID = "-//Planner App//EN"
	}
	if o.Description == "" {
		o.Description = "Scheduled Assignment"
	}
	if o.Status == "" {
		o.Status = "CONFIRMED"
	}
	if o.Anchor.IsZero() {
		o.Anchor = time.Now()
	}
	return o
}

// ICSWriter streams a VCALENDAR document. The header is written on creation,
// one VEVENT per emitted event, and the footer on Close. The first write
// error sticks: later events are dropped and Close reports it.
type ICSWriter struct {
	buf    *bufio.Writer
	closer io.Closer
	opts   ICSOptions
	events int
	err    error
}

// NewICSWriter starts a calendar on w.
func NewICSWriter(w io.Writer, opts ICSOptions) *ICSWriter {
	iw := &ICSWriter{buf: bufio.NewWriter(w), opts: opts.withDefaults()}
	if c, ok := w.(io.Closer); ok {
		iw.closer = c
	}
	iw.printf("BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:%s\n", iw.opts.ProdID)
	return iw
}

// CreateICS truncates or creates the file at path, making parent directories
// as needed.
func CreateICS(path string, opts ICSOptions) (*ICSWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create ics: %w", err)
	}
	return NewICSWriter(f, opts), nil
}

func (w *ICSWriter) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.buf, format, args...)
}

var textEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)

// Emit writes one VEVENT.
func (w *ICSWriter) Emit(ev planner.ScheduleEvent) {
	start, end := Slot(w.opts.Anchor, w.opts.StartHour, ev)
	w.printf("BEGIN:VEVENT\nSUMMARY:%s\nDTSTART:%s\nDTEND:%s\nDESCRIPTION:%s\nSTATUS:%s\nEND:VEVENT\n",
		textEscaper.Replace(ev.TaskName), start.Format(icsTime), end.Format(icsTime),
		textEscaper.Replace(w.opts.Description), w.opts.Status)
	if w.err == nil {
		w.events++
	}
}

// Events is the number of VEVENTs written so far.
func (w *ICSWriter) Events() int { return w.events }

// Err reports the first write error, if any.
func (w *ICSWriter) Err() error { return w.err }

// Close writes the footer, flushes and closes the underlying writer when it
// is closable.
func (w *ICSWriter) Close() error {
	w.printf("END:VCALENDAR\n")
	if w.err == nil {
		w.err = w.buf.Flush()
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil && w.err == nil {
			w.err = err
		}
		w.closer = nil
	}
	return w.err
}

// OptionsFor builds rendering options from a profile config, anchoring the
// schedule on now in the configured timezone.
func OptionsFor(cfg *config.Config, now time.Time) (ICSOptions, error) {
	loc, err := cfg.Location()
	if err != nil {
		return ICSOptions{}, err
	}
	return ICSOptions{
		ProdID:      cfg.Calendar.ProdID,
		Description: cfg.Calendar.Description,
		Status:      cfg.Calendar.Status,
		StartHour:   cfg.Schedule.StartHour,
		Anchor:      now.In(loc),
	}, nil
}
