package mongodb

import (
	"context"
	"fmt"
	"time"

	"ridepool/internal/models"
	"ridepool/internal/repositories/interfaces"
	"ridepool/internal/utils"
	"ridepool/pkg/cache"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type tripRepository struct {
	collection *mongo.Collection
	cache      *cache.RedisCache
}

func NewTripRepository(db *mongo.Database, cache *cache.RedisCache) interfaces.TripRepository {
	return &tripRepository{
		collection: db.Collection(utils.CollectionTrips),
		cache:      cache,
	}
}

func refFilter(ref models.TripRef) bson.M {
	return bson.M{"_id": ref.TripID, "user_id": ref.UserID}
}

func (r *tripRepository) Get(ctx context.Context, ref models.TripRef) (*models.Trip, error) {
	var trip models.Trip
	err := r.collection.FindOne(ctx, refFilter(ref)).Decode(&trip)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("trip %s: %w", ref, utils.ErrTripNotFound)
		}
		return nil, fmt.Errorf("failed to get trip %s: %w", ref, err)
	}

	return &trip, nil
}

func (r *tripRepository) Create(ctx context.Context, trip *models.Trip) error {
	if trip.ID.IsZero() {
		trip.ID = primitive.NewObjectID()
	}
	trip.CreatedAt = time.Now()
	trip.UpdatedAt = trip.CreatedAt

	_, err := r.collection.InsertOne(ctx, trip)
	if err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}

	return nil
}

func (r *tripRepository) Update(ctx context.Context, ref models.TripRef, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set[k] = v
	}

	res, err := r.collection.UpdateOne(ctx, refFilter(ref), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update trip %s: %w", ref, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("trip %s: %w", ref, utils.ErrTripNotFound)
	}

	r.InvalidateCache(ctx, ref)
	return nil
}

func (r *tripRepository) Delete(ctx context.Context, ref models.TripRef) error {
	_, err := r.collection.DeleteOne(ctx, refFilter(ref))
	if err != nil {
		return fmt.Errorf("failed to delete trip %s: %w", ref, err)
	}

	r.InvalidateCache(ctx, ref)
	return nil
}

// Matched edge operations

func (r *tripRepository) AddMatchedTrip(ctx context.Context, ref models.TripRef, edge models.MatchedTrip) error {
	update := bson.M{
		"$push": bson.M{"matched_trips": edge},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	res, err := r.collection.UpdateOne(ctx, refFilter(ref), update)
	if err != nil {
		return fmt.Errorf("failed to add matched trip on %s: %w", ref, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("trip %s: %w", ref, utils.ErrTripNotFound)
	}

	r.InvalidateCache(ctx, ref)
	return nil
}

func (r *tripRepository) UpdateMatchedTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef, fields map[string]interface{}) error {
	return r.updateEdge(ctx, ref, neighbor, "matched_trips", fields)
}

func (r *tripRepository) RemoveMatchedTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef) (bool, error) {
	return r.removeEdge(ctx, ref, neighbor, "matched_trips")
}

// Potential edge operations

func (r *tripRepository) AddPotentialTrip(ctx context.Context, ref models.TripRef, edge models.PotentialTrip) error {
	update := bson.M{
		"$push": bson.M{"potential_trips": edge},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	res, err := r.collection.UpdateOne(ctx, refFilter(ref), update)
	if err != nil {
		return fmt.Errorf("failed to add potential trip on %s: %w", ref, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("trip %s: %w", ref, utils.ErrTripNotFound)
	}

	r.InvalidateCache(ctx, ref)
	return nil
}

func (r *tripRepository) UpdatePotentialTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef, fields map[string]interface{}) error {
	return r.updateEdge(ctx, ref, neighbor, "potential_trips", fields)
}

func (r *tripRepository) RemovePotentialTrip(ctx context.Context, ref models.TripRef, neighbor models.TripRef) (bool, error) {
	return r.removeEdge(ctx, ref, neighbor, "potential_trips")
}

// updateEdge applies dotted field updates to the single array element keyed by
// the neighbor ref, via an arrayFilters positional update. Keying by the
// neighbor's ref instead of the whole element means drifted cached fields
// never defeat the match.
func (r *tripRepository) updateEdge(ctx context.Context, ref, neighbor models.TripRef, field string, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set[field+".$[elem]."+k] = v
	}

	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{
			"elem.trip_ref.trip_id": neighbor.TripID,
			"elem.trip_ref.user_id": neighbor.UserID,
		}},
	})

	res, err := r.collection.UpdateOne(ctx, refFilter(ref), bson.M{"$set": set}, opts)
	if err != nil {
		return fmt.Errorf("failed to update %s edge %s->%s: %w", field, ref, neighbor, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("trip %s: %w", ref, utils.ErrTripNotFound)
	}

	r.InvalidateCache(ctx, ref)
	return nil
}

// removeEdge pulls the element keyed by the neighbor ref. The boolean reports
// whether an element was actually removed; false signals a stale element the
// caller logs and skips.
func (r *tripRepository) removeEdge(ctx context.Context, ref, neighbor models.TripRef, field string) (bool, error) {
	update := bson.M{
		"$pull": bson.M{field: bson.M{
			"trip_ref.trip_id": neighbor.TripID,
			"trip_ref.user_id": neighbor.UserID,
		}},
		"$set": bson.M{"updated_at": time.Now()},
	}

	res, err := r.collection.UpdateOne(ctx, refFilter(ref), update)
	if err != nil {
		return false, fmt.Errorf("failed to remove %s edge %s->%s: %w", field, ref, neighbor, err)
	}
	if res.MatchedCount == 0 {
		return false, fmt.Errorf("trip %s: %w", ref, utils.ErrTripNotFound)
	}

	r.InvalidateCache(ctx, ref)
	return res.ModifiedCount > 0, nil
}

// Status and reservation

func (r *tripRepository) SetStatus(ctx context.Context, ref models.TripRef, status models.TripStatus) error {
	return r.Update(ctx, ref, map[string]interface{}{"status": status})
}

func (r *tripRepository) SetReservation(ctx context.Context, ref models.TripRef, reserved bool, by *models.TripRef) error {
	return r.Update(ctx, ref, map[string]interface{}{
		"reserved":           reserved,
		"reserving_trip_ref": by,
	})
}

func (r *tripRepository) ClearGroupAssignment(ctx context.Context, ref models.TripRef) error {
	return r.Update(ctx, ref, map[string]interface{}{
		"trip_group_ref":   nil,
		"time_of_payment":  nil,
		"total_seat_count": 0,
	})
}

// Read-side caching. Transactions never read through here: snapshot
// consistency comes from the store, the cache only serves list views.

func (r *tripRepository) GetCached(ctx context.Context, ref models.TripRef) (*models.Trip, error) {
	if r.cache != nil {
		var trip models.Trip
		if err := r.cache.Get(ctx, tripCacheKey(ref), &trip); err == nil {
			return &trip, nil
		}
	}

	trip, err := r.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, tripCacheKey(ref), trip, utils.TripCacheTTL)
	}
	return trip, nil
}

func (r *tripRepository) InvalidateCache(ctx context.Context, ref models.TripRef) {
	if r.cache != nil {
		_ = r.cache.Delete(ctx, tripCacheKey(ref))
	}
}

func tripCacheKey(ref models.TripRef) string {
	return "trip:" + ref.String()
}
