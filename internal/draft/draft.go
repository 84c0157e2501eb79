// Package draft holds reminders that are still being assembled through the
// wizard conversation.
package draft

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/remindclaw/internal/period"
)

var (
	ErrAlreadyInProcess = errors.New("a reminder is already being created")
	ErrNothingToDo      = errors.New("no field is waiting for input")
	ErrDraftNotFound    = errors.New("reminder draft not found")
	ErrIncomplete       = errors.New("reminder draft is incomplete")
	ErrEmptyName        = errors.New("reminder name is empty")
)

// Field identifies the draft field the wizard is collecting.
type Field int

const (
	FieldNone Field = iota
	FieldName
	FieldDate
	FieldTime
	FieldPeriod
)

func (f Field) String() string {
	switch f {
	case FieldName:
		return "name"
	case FieldDate:
		return "date"
	case FieldTime:
		return "time"
	case FieldPeriod:
		return "period"
	default:
		return "none"
	}
}

const displayLayout = "02.01.2006 15:04:05"

type Draft struct {
	ChatID      int64
	WaitingFor  Field
	Name        string
	FirstFireAt *time.Time
	Recurrence  *period.Duration
	CreatedAt   time.Time
}

// Await marks f as the field the next text message fills.
func (d *Draft) Await(f Field) {
	d.WaitingFor = f
}

// Fill applies raw user text to the awaited field. Dates are chosen with the
// calendar picker, so text while waiting for a date is not accepted.
func (d *Draft) Fill(text string, now time.Time) error {
	switch d.WaitingFor {
	case FieldName:
		name := strings.TrimSpace(text)
		if name == "" {
			return ErrEmptyName
		}
		d.Name = name
	case FieldPeriod:
		rec, err := period.Parse(text)
		if err != nil {
			return err
		}
		d.Recurrence = rec
	case FieldTime:
		h, m, s, err := period.ParseTime(text)
		if err != nil {
			return err
		}
		base := now
		if d.FirstFireAt != nil {
			base = *d.FirstFireAt
		}
		at := time.Date(base.Year(), base.Month(), base.Day(), h, m, s, 0, base.Location())
		d.FirstFireAt = &at
	default:
		return ErrNothingToDo
	}
	d.WaitingFor = FieldNone
	return nil
}

// SetDate stores a picked calendar date, keeping a clock time chosen earlier.
func (d *Draft) SetDate(date time.Time) {
	at := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	if d.FirstFireAt != nil {
		h, m, s := d.FirstFireAt.Clock()
		at = time.Date(date.Year(), date.Month(), date.Day(), h, m, s, 0, date.Location())
	}
	d.FirstFireAt = &at
	d.WaitingFor = FieldNone
}

// Validate reports the first required field that is still missing.
func (d Draft) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: %s", ErrIncomplete, FieldName)
	}
	if d.FirstFireAt == nil {
		return fmt.Errorf("%w: %s", ErrIncomplete, FieldDate)
	}
	return nil
}

// MissingField returns the field reported by a Validate error, or FieldNone.
func (d Draft) MissingField() Field {
	switch {
	case d.Name == "":
		return FieldName
	case d.FirstFireAt == nil:
		return FieldDate
	}
	return FieldNone
}

func (d Draft) String() string {
	var sb strings.Builder
	sb.WriteString("name: ")
	if d.Name != "" {
		sb.WriteString(d.Name)
	} else {
		sb.WriteString("<unnamed>")
	}
	sb.WriteString("\nreminder date: ")
	if d.FirstFireAt != nil {
		sb.WriteString(d.FirstFireAt.Format(displayLayout))
	} else {
		sb.WriteString("<no date>")
	}
	sb.WriteString("\nperiod: ")
	if d.Recurrence != nil {
		sb.WriteString(d.Recurrence.String())
	} else {
		sb.WriteString("no period")
	}
	return sb.String()
}
