/*
Package tui is the terminal front end of the chat client.

A bubbletea model shows the result area, a chat input and an amount input
with a currency selector. Actions run on background commands and report
back through Display, which the model drains in order.

Keys:

	enter    send chat text, or buy when the amount input is focused
	tab      switch between chat and amount
	ctrl+b   buy the selected currency
	ctrl+x   sell the selected currency
	up/down  change currency
	esc      quit

Slash commands typed into the chat input: /buy, /sell, /currency, /rates,
/history, /help and /quit.
*/
package tui
