package mongodb

import (
	"context"
	"fmt"
	"time"

	"ridepool/internal/models"
	"ridepool/internal/repositories/interfaces"
	"ridepool/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type tripGroupRepository struct {
	collection *mongo.Collection
}

func NewTripGroupRepository(db *mongo.Database) interfaces.TripGroupRepository {
	return &tripGroupRepository{
		collection: db.Collection(utils.CollectionTripGroups),
	}
}

func (r *tripGroupRepository) Create(ctx context.Context, group *models.TripGroup) error {
	if group.ID.IsZero() {
		group.ID = primitive.NewObjectID()
	}
	group.CreatedAt = time.Now()
	group.UpdatedAt = group.CreatedAt

	_, err := r.collection.InsertOne(ctx, group)
	if err != nil {
		return fmt.Errorf("failed to create trip group: %w", err)
	}

	return nil
}

func (r *tripGroupRepository) Get(ctx context.Context, id primitive.ObjectID) (*models.TripGroup, error) {
	var group models.TripGroup
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&group)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("trip group %s: %w", id.Hex(), utils.ErrGroupNotFound)
		}
		return nil, fmt.Errorf("failed to get trip group %s: %w", id.Hex(), err)
	}

	return &group, nil
}

func (r *tripGroupRepository) Update(ctx context.Context, id primitive.ObjectID, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set[k] = v
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update trip group %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("trip group %s: %w", id.Hex(), utils.ErrGroupNotFound)
	}

	return nil
}

func (r *tripGroupRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete trip group %s: %w", id.Hex(), err)
	}

	return nil
}

func (r *tripGroupRepository) AddMember(ctx context.Context, id primitive.ObjectID, member models.TripGroupMember) error {
	return r.pushElement(ctx, id, "trip_group_members", member)
}

func (r *tripGroupRepository) UpdateMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef, fields map[string]interface{}) error {
	return r.updateElement(ctx, id, ref, "trip_group_members", fields)
}

func (r *tripGroupRepository) RemoveMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef) (bool, error) {
	return r.pullElement(ctx, id, ref, "trip_group_members")
}

func (r *tripGroupRepository) AddPotentialMember(ctx context.Context, id primitive.ObjectID, member models.PotentialTripMember) error {
	return r.pushElement(ctx, id, "potential_trip_members", member)
}

func (r *tripGroupRepository) UpdatePotentialMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef, fields map[string]interface{}) error {
	return r.updateElement(ctx, id, ref, "potential_trip_members", fields)
}

func (r *tripGroupRepository) RemovePotentialMember(ctx context.Context, id primitive.ObjectID, ref models.TripRef) (bool, error) {
	return r.pullElement(ctx, id, ref, "potential_trip_members")
}

func (r *tripGroupRepository) IncrementSeatCount(ctx context.Context, id primitive.ObjectID, delta int) error {
	update := bson.M{
		"$inc": bson.M{"total_seat_count": delta},
		"$set": bson.M{"updated_at": time.Now()},
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to adjust seat count on group %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("trip group %s: %w", id.Hex(), utils.ErrGroupNotFound)
	}

	return nil
}

func (r *tripGroupRepository) SetRecentMessage(ctx context.Context, id primitive.ObjectID, msg *models.RecentMessage) error {
	return r.Update(ctx, id, map[string]interface{}{"recent_message": msg})
}

func (r *tripGroupRepository) pushElement(ctx context.Context, id primitive.ObjectID, field string, elem interface{}) error {
	update := bson.M{
		"$push": bson.M{field: elem},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to push %s on group %s: %w", field, id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("trip group %s: %w", id.Hex(), utils.ErrGroupNotFound)
	}

	return nil
}

func (r *tripGroupRepository) updateElement(ctx context.Context, id primitive.ObjectID, ref models.TripRef, field string, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set[field+".$[elem]."+k] = v
	}

	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{
			"elem.trip_ref.trip_id": ref.TripID,
			"elem.trip_ref.user_id": ref.UserID,
		}},
	})

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts)
	if err != nil {
		return fmt.Errorf("failed to update %s on group %s: %w", field, id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("trip group %s: %w", id.Hex(), utils.ErrGroupNotFound)
	}

	return nil
}

// pullElement removes the element keyed by trip ref; false means the element
// was already gone, which callers treat as a stale-element skip.
func (r *tripGroupRepository) pullElement(ctx context.Context, id primitive.ObjectID, ref models.TripRef, field string) (bool, error) {
	update := bson.M{
		"$pull": bson.M{field: bson.M{
			"trip_ref.trip_id": ref.TripID,
			"trip_ref.user_id": ref.UserID,
		}},
		"$set": bson.M{"updated_at": time.Now()},
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return false, fmt.Errorf("failed to pull %s on group %s: %w", field, id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return false, fmt.Errorf("trip group %s: %w", id.Hex(), utils.ErrGroupNotFound)
	}

	return res.ModifiedCount > 0, nil
}
