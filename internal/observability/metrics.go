package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridepool", Name: "trip_events_total", Help: "Trip change events processed, by kind and outcome"},
		[]string{"kind", "outcome"},
	)
	EdgePromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "edge_promotions_total", Help: "Candidate edges promoted from potential to matched"})
	EdgeDemotionsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "edge_demotions_total", Help: "Candidate edges demoted from matched to potential"})
	ReservationsTotal   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridepool", Name: "reservations_total", Help: "Reservation transitions, by action"},
		[]string{"action"},
	)
	GroupsCreatedTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "groups_created_total", Help: "Trip groups created"})
	GroupsDeletedTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "groups_deleted_total", Help: "Trip groups deleted"})
	TicketRefundsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "ticket_refunds_total", Help: "Tickets refunded on group dissolution"})
	NotificationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridepool", Name: "notifications_emitted_total", Help: "Group event notifications dispatched, by kind"},
		[]string{"kind"},
	)
	SkippedNeighborsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepool", Name: "skipped_neighbors_total", Help: "Neighbor edges skipped on recoverable errors"})
)
