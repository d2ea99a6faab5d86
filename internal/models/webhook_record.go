package models

// WebhookRecord is the durable copy of a store-pushed notification, written
// before any processing so the store can be acked 200 even when downstream
// handling fails. Failed records are retried by the reconciler rather than
// by relying on store redelivery.
type WebhookRecord struct {
	BaseModel

	Platform         string `json:"platform" gorm:"size:20;not null;index"`
	NotificationUUID string `json:"notification_uuid" gorm:"size:64;index"`
	NotificationType string `json:"notification_type" gorm:"size:64"`
	RawBody          string `json:"-" gorm:"type:text"`

	Processed    bool   `json:"processed" gorm:"index"`
	ProcessError string `json:"process_error" gorm:"type:text"`
}

// TableName keeps the table name explicit; "webhook_records" reads better
// than gorm's default pluralization of the struct path.
func (WebhookRecord) TableName() string {
	return "webhook_records"
}
