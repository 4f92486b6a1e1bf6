package repository

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/models"
)

type MongoStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoStore(ctx context.Context, coll *mongo.Collection, timeout time.Duration) (*MongoStore, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &MongoStore{coll: coll, timeout: timeout}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "seen", Value: 1}}},
	})
	return err
}

func (s *MongoStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// lit stops user supplied strings from being read as field paths inside expressions.
func lit(v string) bson.M { return bson.M{"$literal": v} }

func after() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func (s *MongoStore) Insert(ctx context.Context, m *models.Message) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	stamp(m)
	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// stamp assigns store-managed fields before the first write.
func stamp(m *models.Message) {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = primitive.NewObjectID().Hex()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	m.Version = 1
	if m.DeletedFor == nil {
		m.DeletedFor = []models.DeletionMark{}
	}
	if m.Reactions == nil {
		m.Reactions = []models.Reaction{}
	}
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var m models.Message
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, apperr.Internal(err)
	}
	return &m, nil
}

// miss explains why a conditional update matched nothing.
func (s *MongoStore) miss(ctx context.Context, id string, onExists error) (*models.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, onExists
}

func (s *MongoStore) update(ctx context.Context, filter, update any) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var m models.Message
	err := s.coll.FindOneAndUpdate(ctx, filter, update, after()).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, apperr.Internal(err)
	}
	return &m, nil
}

func (s *MongoStore) Edit(ctx context.Context, id string, version int64, text, original string, at time.Time) (*models.Message, error) {
	set := bson.M{"message": text, "edited": true, "editedAt": at, "updatedAt": at}
	if original != "" {
		set["originalMessage"] = original
	}
	filter := bson.M{"_id": id, "version": version, "deleted": bson.M{"$ne": true}}
	m, err := s.update(ctx, filter, bson.M{"$set": set, "$inc": bson.M{"version": 1}})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.miss(ctx, id, apperr.Conflict("message changed, reload and retry"))
	}
	return m, err
}

func (s *MongoStore) Tombstone(ctx context.Context, id string, version int64, at time.Time) (*models.Message, error) {
	filter := bson.M{"_id": id, "version": version}
	update := bson.M{
		"$set": bson.M{
			"deleted":   true,
			"deletedAt": at,
			"message":   models.DeletedPlaceholder,
			"reactions": bson.A{},
			"updatedAt": at,
		},
		"$unset": bson.M{"file": "", "image": "", "originalMessage": ""},
		"$inc":   bson.M{"version": 1},
	}
	m, err := s.update(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.miss(ctx, id, apperr.Conflict("message changed, reload and retry"))
	}
	return m, err
}

func (s *MongoStore) DeleteFor(ctx context.Context, id, userID string, at time.Time) (*models.Message, error) {
	filter := bson.M{"_id": id, "deletedFor.userId": bson.M{"$ne": userID}}
	update := bson.M{
		"$push": bson.M{"deletedFor": models.DeletionMark{UserID: userID, DeletedAt: at}},
		"$set":  bson.M{"updatedAt": at},
	}
	m, err := s.update(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// already hidden for this user
		return s.Get(ctx, id)
	}
	return m, err
}

func (s *MongoStore) SetReaction(ctx context.Context, id string, r models.Reaction) (*models.Message, error) {
	filter := bson.M{"_id": id, "deleted": bson.M{"$ne": true}}
	update := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"reactions": bson.M{"$concatArrays": bson.A{
			bson.M{"$filter": bson.M{
				"input": bson.M{"$ifNull": bson.A{"$reactions", bson.A{}}},
				"cond":  bson.M{"$ne": bson.A{"$$this.userId", lit(r.UserID)}},
			}},
			bson.A{bson.M{"userId": lit(r.UserID), "emoji": lit(r.Emoji), "createdAt": r.CreatedAt}},
		}},
		"updatedAt": r.CreatedAt,
	}}}}
	m, err := s.update(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.miss(ctx, id, apperr.InvalidState("message was deleted"))
	}
	return m, err
}

func (s *MongoStore) RemoveReaction(ctx context.Context, id, userID string) (*models.Message, error) {
	update := bson.M{"$pull": bson.M{"reactions": bson.M{"userId": userID}}}
	m, err := s.update(ctx, bson.M{"_id": id}, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("message not found")
	}
	return m, err
}

func (s *MongoStore) MarkSeen(ctx context.Context, reader, sender string, ids []string, at time.Time) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	filter := bson.M{"receiverId": reader, "senderId": sender, "seen": false}
	if len(ids) > 0 {
		filter["_id"] = bson.M{"$in": ids}
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, apperr.Internal(err)
	}
	if len(rows) == 0 {
		return []string{}, nil
	}
	found := make([]string, len(rows))
	for i, r := range rows {
		found[i] = r.ID
	}

	update := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"seen":        true,
		"seenAt":      at,
		"delivered":   true,
		"deliveredAt": bson.M{"$ifNull": bson.A{"$deliveredAt", at}},
		"updatedAt":   at,
	}}}}
	if _, err := s.coll.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": found}, "seen": false}, update); err != nil {
		return nil, apperr.Internal(err)
	}
	return found, nil
}

func (s *MongoStore) MarkDelivered(ctx context.Context, receiver string, at time.Time) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"receiverId": receiver, "delivered": false},
		bson.M{"$set": bson.M{"delivered": true, "deliveredAt": at, "updatedAt": at}},
	)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return res.ModifiedCount, nil
}

func pairFilter(a, b string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"senderId": a, "receiverId": b},
		bson.M{"senderId": b, "receiverId": a},
	}}
}

func involving(u string) bson.M {
	return bson.M{"$or": bson.A{bson.M{"senderId": u}, bson.M{"receiverId": u}}}
}

func (s *MongoStore) page(ctx context.Context, filter bson.M, skip, limit int) ([]*models.Message, int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	out := make([]*models.Message, 0, limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return out, total, nil
}

func (s *MongoStore) Conversation(ctx context.Context, caller, other string, skip, limit int) ([]*models.Message, int64, error) {
	filter := bson.M{"$and": bson.A{
		pairFilter(caller, other),
		bson.M{"deletedFor.userId": bson.M{"$ne": caller}},
	}}
	return s.page(ctx, filter, skip, limit)
}

func (s *MongoStore) Search(ctx context.Context, caller, other, query string, skip, limit int) ([]*models.Message, int64, error) {
	scope := involving(caller)
	if other != "" {
		scope = pairFilter(caller, other)
	}
	filter := bson.M{"$and": bson.A{
		scope,
		bson.M{
			"deleted":           bson.M{"$ne": true},
			"deletedFor.userId": bson.M{"$ne": caller},
			"message":           primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"},
		},
	}}
	return s.page(ctx, filter, skip, limit)
}

func (s *MongoStore) Recent(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	u := lit(userID)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$and": bson.A{
			involving(userID),
			bson.M{"deletedFor.userId": bson.M{"$ne": userID}},
		}}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":         bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$senderId", u}}, "$receiverId", "$senderId"}},
			"lastMessage": bson.M{"$first": "$$ROOT"},
			"unreadCount": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiverId", u}},
					bson.M{"$eq": bson.A{"$seen", false}},
					bson.M{"$ne": bson.A{"$deleted", true}},
				}},
				1, 0,
			}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "lastMessage.createdAt", Value: -1}, {Key: "lastMessage._id", Value: 1}}}},
		{{Key: "$limit", Value: int64(limit)}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := []models.Conversation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (s *MongoStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	n, err := s.coll.CountDocuments(ctx, bson.M{
		"receiverId":        userID,
		"seen":              false,
		"deleted":           bson.M{"$ne": true},
		"deletedFor.userId": bson.M{"$ne": userID},
	})
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}
