package menu

import (
	"fmt"

	"github.com/stellarlinkco/remindclaw/internal/channel"
	"github.com/stellarlinkco/remindclaw/internal/reminder"
)

const (
	mainMenuTitle = "Main menu:"
	addMenuTitle  = "Add a reminder:"
)

func mainMenuKeyboard() channel.Keyboard {
	return channel.Keyboard{
		channel.Row(
			channel.Button{Text: "Add reminder", Token: TokenAddReminder},
			channel.Button{Text: "Close", Token: TokenCancel},
		),
	}
}

func addMenuKeyboard() channel.Keyboard {
	return channel.Keyboard{
		channel.Row(channel.Button{Text: "Choose name", Token: TokenAddName}),
		channel.Row(channel.Button{Text: "Choose first remind date", Token: TokenAddDate}),
		channel.Row(channel.Button{Text: "Choose first remind time", Token: TokenAddTime}),
		channel.Row(channel.Button{Text: "Choose period", Token: TokenAddPeriod}),
		channel.Row(channel.Button{Text: "Save", Token: TokenSave}),
		channel.Row(channel.Button{Text: "Cancel", Token: TokenCancel}),
	}
}

// ReminderControls is the keyboard attached to a reminder notification.
func ReminderControls(id int64) channel.Keyboard {
	return channel.Keyboard{
		channel.Row(
			channel.Button{Text: "15min later", Token: ActionToken(id, ActionSnooze15)},
			channel.Button{Text: "1h later", Token: ActionToken(id, ActionSnooze60)},
		),
		channel.Row(
			channel.Button{Text: "Done", Token: ActionToken(id, ActionDone)},
			channel.Button{Text: "Skip", Token: ActionToken(id, ActionSkip)},
			channel.Button{Text: "!Remove!", Token: ActionToken(id, ActionRemove)},
		),
	}
}

// NotificationText is the body of a reminder notification.
func NotificationText(r *reminder.Reminder) string {
	return fmt.Sprintf("Reminder: %d\n%s", r.ID, r.Text)
}
