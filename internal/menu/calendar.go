package menu

import (
	"fmt"
	"strconv"
	"time"

	"github.com/stellarlinkco/remindclaw/internal/channel"
)

var weekdayLabels = [...]string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"}

func calendarText(now time.Time) string {
	return fmt.Sprintf("Choose the first remind date:\nToday is %s.", now.Format("2 Jan 2006"))
}

// calendarKeyboard renders a Monday-first month grid with paging arrows.
func calendarKeyboard(year int, month time.Month) channel.Keyboard {
	ignore := calendarToken{cmd: calIgnore, year: year, month: month}.String()
	blank := channel.Button{Text: " ", Token: ignore}

	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	kb := channel.Keyboard{
		channel.Row(channel.Button{Text: first.Format("Jan 2006"), Token: ignore}),
	}

	header := make([]channel.Button, 0, len(weekdayLabels))
	for _, label := range weekdayLabels {
		header = append(header, channel.Button{Text: label, Token: ignore})
	}
	kb = append(kb, header)

	offset := (int(first.Weekday()) + 6) % 7
	days := first.AddDate(0, 1, -1).Day()
	week := make([]channel.Button, 0, 7)
	for i := 0; i < offset; i++ {
		week = append(week, blank)
	}
	for day := 1; day <= days; day++ {
		week = append(week, channel.Button{
			Text:  strconv.Itoa(day),
			Token: calendarToken{cmd: calDay, year: year, month: month, day: day}.String(),
		})
		if len(week) == 7 {
			kb = append(kb, week)
			week = make([]channel.Button, 0, 7)
		}
	}
	if len(week) > 0 {
		for len(week) < 7 {
			week = append(week, blank)
		}
		kb = append(kb, week)
	}

	kb = append(kb, channel.Row(
		channel.Button{Text: "<", Token: calendarToken{cmd: calPrevMonth, year: year, month: month}.String()},
		blank,
		channel.Button{Text: ">", Token: calendarToken{cmd: calNextMonth, year: year, month: month}.String()},
	))
	return kb
}

// shiftMonth returns the year and month delta months away.
func shiftMonth(year int, month time.Month, delta int) (int, time.Month) {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return t.Year(), t.Month()
}

// pickedDate converts a DAY token to a date in loc. Tokens naming a day the
// month does not have are rejected.
func pickedDate(c calendarToken, loc *time.Location) (time.Time, bool) {
	t := time.Date(c.year, c.month, c.day, 0, 0, 0, 0, loc)
	if c.day < 1 || t.Month() != c.month || t.Year() != c.year {
		return time.Time{}, false
	}
	return t, true
}
