package enums

// NotificationType categorizes stored notifications.
type NotificationType string

const (
	NotificationTypeOrderUpdate NotificationType = "order_update"
)

// NotificationStatus is the read state of a stored notification.
type NotificationStatus string

const (
	NotificationStatusUnread NotificationStatus = "unread"
	NotificationStatusRead   NotificationStatus = "read"
)
