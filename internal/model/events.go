package model

import "time"

// AdminEvent is the payload delivered to the admin service.
type AdminEvent struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"orderId"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationEvent is the payload delivered to the notification service.
type NotificationEvent struct {
	UserID    string              `json:"userId"`
	Type      string              `json:"type"`
	Message   string              `json:"message"`
	Payload   NotificationPayload `json:"payload"`
	Timestamp time.Time           `json:"timestamp"`
}

type NotificationPayload struct {
	PaymentID string        `json:"paymentId"`
	OrderID   string        `json:"orderId"`
	Status    PaymentStatus `json:"status"`
}
