package mongodb

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/usherd/usher/pkg/store"
)

// Collection names. The layout is shared with the systems that move requests
// to their terminal states, so these are not configurable.
const (
	colUsers        = "user"
	colRequests     = "request"
	colKeyDataTypes = "key_data_types"
	colDispatchLogs = "dispatch_logs"
)

// Store implements store.Store on a Mongo database.
type Store struct {
	cfg    Config
	client *mongo.Client
	db     *mongo.Database
	logger log.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to Mongo, verifies the connection and ensures the unique
// indexes the write paths rely on.
func New(ctx context.Context, cfg Config, logger log.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, errors.Wrap(err, "pinging mongo")
	}

	s := &Store{
		cfg:    cfg,
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}

	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, errors.Wrap(err, "ensuring indexes")
	}

	level.Info(logger).Log("msg", "connected to store", "database", cfg.Database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(colUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"username": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = s.db.Collection(colKeyDataTypes).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"name": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	// Counter refresh and the summary endpoint both scan by time range.
	_, err = s.db.Collection(colRequests).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return err
	}

	_, err = s.db.Collection(colDispatchLogs).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.M{"request_created_at": 1},
	})
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	_, err := s.db.Collection(colUsers).InsertOne(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(store.ErrDuplicateKey, "username %q", u.Username)
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var u store.User
	err := s.db.Collection(colUsers).FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(store.ErrNotFound, "user %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(colUsers).Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}

	var users []store.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) ListUserProfiles(ctx context.Context) ([]store.User, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(colUsers).Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"params": 1, "max_daily_requests": 1}))
	if err != nil {
		return nil, err
	}

	var users []store.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) CreateRequest(ctx context.Context, r *store.Request) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	_, err := s.db.Collection(colRequests).InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(store.ErrDuplicateKey, "request %s", r.ID)
	}
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (*store.Request, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var r store.Request
	err := s.db.Collection(colRequests).FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(store.ErrNotFound, "request %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRequests(ctx context.Context, status string) ([]store.Request, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	cursor, err := s.db.Collection(colRequests).Find(ctx, filter, options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, err
	}

	var requests []store.Request
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// AssignRequest commits the assignment with a single compare-and-set on the
// unassigned document. The filter on user == nil is the linearization point:
// concurrent dispatches for the same request see exactly one winner.
func (s *Store) AssignRequest(ctx context.Context, id, userID string, updatedAt time.Time) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	res := s.db.Collection(colRequests).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "user": nil},
		bson.M{"$set": bson.M{"user": userID, "updated_at": updatedAt}},
	)
	err := res.Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}

	// Distinguish a lost race from a missing document.
	count, cerr := s.db.Collection(colRequests).CountDocuments(ctx, bson.M{"_id": id})
	if cerr != nil {
		return cerr
	}
	if count > 0 {
		return errors.Wrapf(store.ErrAlreadyAssigned, "request %s", id)
	}
	return errors.Wrapf(store.ErrNotFound, "request %s", id)
}

func (s *Store) DailyAcceptCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	pipeline := []bson.M{
		{"$match": bson.M{"status": store.StatusAccept, "created_at": bson.M{"$gte": since}}},
		{"$group": bson.M{"_id": "$user", "count": bson.M{"$sum": 1}}},
	}

	cursor, err := s.db.Collection(colRequests).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		UserID *string `bson:"_id"`
		Count  int     `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		if row.UserID == nil {
			continue
		}
		counts[*row.UserID] = row.Count
	}
	return counts, nil
}

func (s *Store) CreateKeyDataType(ctx context.Context, k *store.KeyDataType) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	_, err := s.db.Collection(colKeyDataTypes).InsertOne(ctx, k)
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(store.ErrDuplicateKey, "key data type %q", k.Name)
	}
	return err
}

func (s *Store) ListKeyDataTypes(ctx context.Context) ([]store.KeyDataType, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(colKeyDataTypes).Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"name": 1}))
	if err != nil {
		return nil, err
	}

	var kdts []store.KeyDataType
	if err := cursor.All(ctx, &kdts); err != nil {
		return nil, err
	}
	return kdts, nil
}

func (s *Store) InsertDispatchLog(ctx context.Context, l *store.DispatchLog) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	_, err := s.db.Collection(colDispatchLogs).InsertOne(ctx, l)
	return err
}

func (s *Store) DispatchSummary(ctx context.Context, start, end *time.Time) ([]store.SummaryRow, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(colDispatchLogs).Aggregate(ctx, summaryPipeline(start, end))
	if err != nil {
		return nil, err
	}

	var rows []store.SummaryRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// summaryPipeline groups dispatch logs by the request's creation date,
// ascending, with an optional closed date range.
func summaryPipeline(start, end *time.Time) []bson.M {
	var pipeline []bson.M

	rng := bson.M{}
	if start != nil {
		rng["$gte"] = *start
	}
	if end != nil {
		rng["$lte"] = *end
	}
	if len(rng) > 0 {
		pipeline = append(pipeline, bson.M{"$match": bson.M{"request_created_at": rng}})
	}

	pipeline = append(pipeline,
		bson.M{"$group": bson.M{
			"_id":   bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$request_created_at"}},
			"count": bson.M{"$sum": 1},
		}},
		bson.M{"$sort": bson.M{"_id": 1}},
	)
	return pipeline
}
