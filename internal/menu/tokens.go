package menu

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Wizard and menu button tokens.
const (
	TokenMainMenu    = "main_menu"
	TokenAddReminder = "add_reminder"
	TokenAddName     = "add_reminder_name"
	TokenAddDate     = "add_reminder_date"
	TokenAddTime     = "add_reminder_time"
	TokenAddPeriod   = "add_period"
	TokenSave        = "save_reminder"
	TokenCancel      = "cancel_reminder"
)

// Action is a control pressed on a reminder notification.
type Action string

const (
	ActionSnooze15 Action = "SNOOZE15"
	ActionSnooze60 Action = "SNOOZE60"
	ActionDone     Action = "DONE"
	ActionSkip     Action = "SKIP"
	ActionRemove   Action = "REMOVE"
)

// SnoozeDelay returns how long a snooze action postpones the reminder.
func (a Action) SnoozeDelay() (time.Duration, bool) {
	switch a {
	case ActionSnooze15:
		return 15 * time.Minute, true
	case ActionSnooze60:
		return time.Hour, true
	}
	return 0, false
}

var actionPattern = regexp.MustCompile(`^reminder_(\d+)_action_(SNOOZE15|SNOOZE60|DONE|SKIP|REMOVE)$`)

func ActionToken(id int64, a Action) string {
	return fmt.Sprintf("reminder_%d_action_%s", id, a)
}

func ParseActionToken(token string) (int64, Action, bool) {
	m := actionPattern.FindStringSubmatch(token)
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, Action(m[2]), true
}

type calendarCmd string

const (
	calIgnore    calendarCmd = "IGNORE"
	calDay       calendarCmd = "DAY"
	calPrevMonth calendarCmd = "PREV-MONTH"
	calNextMonth calendarCmd = "NEXT-MONTH"
)

var calendarPattern = regexp.MustCompile(`^(IGNORE|DAY|PREV-MONTH|NEXT-MONTH);(\d{4});(\d{1,2});(\d{1,2})$`)

type calendarToken struct {
	cmd   calendarCmd
	year  int
	month time.Month
	day   int
}

func (c calendarToken) String() string {
	return fmt.Sprintf("%s;%d;%d;%d", c.cmd, c.year, int(c.month), c.day)
}

func parseCalendarToken(token string) (calendarToken, bool) {
	m := calendarPattern.FindStringSubmatch(token)
	if m == nil {
		return calendarToken{}, false
	}
	year, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	day, _ := strconv.Atoi(m[4])
	if month < 1 || month > 12 {
		return calendarToken{}, false
	}
	return calendarToken{cmd: calendarCmd(m[1]), year: year, month: time.Month(month), day: day}, true
}
