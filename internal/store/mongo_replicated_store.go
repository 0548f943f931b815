package store

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/devrev/replicawatch/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// MongoOptions configures the MongoDB adapter
type MongoOptions struct {
	Database   string
	Collection string
	Username   string
	Password   string
	AuthSource string
}

// MongoReplicatedStore connects to individual replica set members with
// directConnection=true so that reads are answered by that member only.
type MongoReplicatedStore struct {
	opts   MongoOptions
	logger *zap.Logger
}

// NewMongoReplicatedStore creates a MongoDB adapter
func NewMongoReplicatedStore(opts MongoOptions, logger *zap.Logger) *MongoReplicatedStore {
	if opts.AuthSource == "" {
		opts.AuthSource = "admin"
	}
	return &MongoReplicatedStore{opts: opts, logger: logger}
}

// URI returns the direct-connection URI used for address
func (s *MongoReplicatedStore) URI(address string) string {
	q := url.Values{}
	q.Set("directConnection", "true")
	return (&url.URL{Scheme: "mongodb", Host: address, Path: "/", RawQuery: q.Encode()}).String()
}

// Connect implements ReplicatedStore
func (s *MongoReplicatedStore) Connect(ctx context.Context, address string) (Connection, error) {
	clientOpts := options.Client().
		ApplyURI(s.URI(address)).
		SetReadPreference(readpref.Nearest())
	if s.opts.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username:   s.opts.Username,
			Password:   s.opts.Password,
			AuthSource: s.opts.AuthSource,
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	// mongo.Connect does not dial; ping so that unreachable members fail here
	if err := client.Ping(ctx, readpref.Nearest()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping %s: %w", address, err)
	}

	s.logger.Debug("Connected to mongo member", zap.String("node", address))

	return &mongoConnection{
		client: client,
		coll:   client.Database(s.opts.Database).Collection(s.opts.Collection),
	}, nil
}

type mongoConnection struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func (c *mongoConnection) InsertOne(ctx context.Context, record model.Record) error {
	_, err := c.coll.InsertOne(ctx, toMongoDocument(record))
	return err
}

func (c *mongoConnection) InsertMany(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = toMongoDocument(r)
	}
	_, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	return err
}

func (c *mongoConnection) FindRecent(ctx context.Context, limit int) ([]model.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: model.FieldTimestamp, Value: -1}}).
		SetLimit(int64(limit))
	return c.find(ctx, bson.D{}, opts)
}

func (c *mongoConnection) FindByField(ctx context.Context, key, value string, limit int) ([]model.Record, error) {
	if key == "id" {
		key = model.FieldID
	}
	return c.find(ctx, bson.D{{Key: key, Value: value}}, options.Find().SetLimit(int64(limit)))
}

func (c *mongoConnection) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]model.Record, error) {
	cursor, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	records := make([]model.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, fromMongoDocument(d))
	}
	return records, nil
}

type isMasterResult struct {
	IsMaster  bool `bson:"ismaster"`
	Secondary bool `bson:"secondary"`
}

func (c *mongoConnection) RoleQuery(ctx context.Context) (model.Role, error) {
	var res isMasterResult
	if err := c.client.Database("admin").RunCommand(ctx, bson.D{{Key: "isMaster", Value: 1}}).Decode(&res); err != nil {
		return model.RoleUnknown, err
	}
	switch {
	case res.IsMaster:
		return model.RolePrimary, nil
	case res.Secondary:
		return model.RoleSecondary, nil
	default:
		return model.RoleUnknown, nil
	}
}

func (c *mongoConnection) ReplicaSetStatus(ctx context.Context) (map[string]interface{}, error) {
	var status bson.M
	if err := c.client.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).Decode(&status); err != nil {
		return nil, err
	}
	return map[string]interface{}(status), nil
}

func (c *mongoConnection) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// toMongoDocument flattens a record so that its fields are top-level keys
// next to _id, ts and host.
func toMongoDocument(r model.Record) bson.D {
	doc := bson.D{
		{Key: model.FieldID, Value: r.ID},
		{Key: model.FieldTimestamp, Value: r.Timestamp},
		{Key: model.FieldHost, Value: r.Host},
	}
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc = append(doc, bson.E{Key: k, Value: r.Fields[k]})
	}
	return doc
}

func fromMongoDocument(d bson.M) model.Record {
	r := model.Record{Fields: make(map[string]string)}
	for k, v := range d {
		switch k {
		case model.FieldID:
			switch id := v.(type) {
			case primitive.ObjectID:
				r.ID = id.Hex()
			default:
				r.ID = fmt.Sprint(id)
			}
		case model.FieldTimestamp:
			switch ts := v.(type) {
			case primitive.DateTime:
				r.Timestamp = ts.Time().UTC()
			case time.Time:
				r.Timestamp = ts.UTC()
			}
		case model.FieldHost:
			r.Host = fmt.Sprint(v)
		default:
			r.Fields[k] = fmt.Sprint(v)
		}
	}
	return r
}
