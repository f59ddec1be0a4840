package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message is one chat message inside a trip group. System messages are
// generated by the group engine when membership or suggestions change.
type Message struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TripGroupID primitive.ObjectID `json:"trip_group_id" bson:"trip_group_id"`
	SenderRef   *TripRef           `json:"sender_ref" bson:"sender_ref"`
	Text        string             `json:"text" bson:"text"`
	System      bool               `json:"system" bson:"system"`
	SentAt      time.Time          `json:"sent_at" bson:"sent_at"`
}
