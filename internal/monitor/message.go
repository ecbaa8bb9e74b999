package monitor

import "fmt"

// FormatMessage renders the notification text for one item.
func FormatMessage(channelName, title, url string) string {
	return fmt.Sprintf("%s :: %s\n\n%s", channelName, title, url)
}
