package entity

import "time"

const (
	NotifyPaymentReceived = "payment_received"
	NotifyEntryMoved      = "entry_moved"
)

// Notification is a send request placed in the outbox; rendering and
// delivery happen outside the engine.
type Notification struct {
	Id      string            `json:"id" bson:"_id"`
	Kind    string            `json:"kind" bson:"kind"`
	PotId   string            `json:"pot_id" bson:"pot_id"`
	EntryId string            `json:"entry_id" bson:"entry_id"`
	To      string            `json:"to" bson:"to"`
	Data    map[string]string `json:"data,omitempty" bson:"data,omitempty"`
	Status  string            `json:"status" bson:"status"`
	Created time.Time         `json:"created" bson:"created"`
}
