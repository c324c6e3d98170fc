// Package mongostore is an mqttc.SessionStore backed by MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/augbari/mqttc"
)

// Collection names.
const (
	PendingCollectionName       = "mqttc_pending"
	SubscriptionsCollectionName = "mqttc_subscriptions"
	ReceivedCollectionName      = "mqttc_received_qos2"
)

// DefaultOperationTimeout bounds each store call.
const DefaultOperationTimeout = 5 * time.Second

// ErrClientIDEmpty is returned by New for an empty client ID.
var ErrClientIDEmpty = errors.New("client_id is empty")

type pendingDoc struct {
	ClientID string `bson:"client_id"`
	PacketID uint16 `bson:"packet_id"`

	mqttc.PersistedPublish `bson:",inline"`
}

type subscriptionDoc struct {
	ClientID string `bson:"client_id"`
	Filter   string `bson:"filter"`

	mqttc.SubscriptionInfo `bson:",inline"`
}

type receivedDoc struct {
	ClientID string `bson:"client_id"`
	PacketID uint16 `bson:"packet_id"`
}

// Store implements mqttc.SessionStore on three collections of a MongoDB
// database. Documents are keyed by client ID, so clients can share a
// database.
type Store struct {
	pending       *mongo.Collection
	subscriptions *mongo.Collection
	received      *mongo.Collection
	clientID      string
	timeout       time.Duration
}

var _ mqttc.SessionStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithOperationTimeout sets the timeout applied to each store call.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New returns a store for clientID in db and creates the unique indexes it
// relies on.
func New(ctx context.Context, db *mongo.Database, clientID string, opts ...Option) (*Store, error) {
	if clientID == "" {
		return nil, ErrClientIDEmpty
	}
	s := &Store{
		pending:       db.Collection(PendingCollectionName),
		subscriptions: db.Collection(SubscriptionsCollectionName),
		received:      db.Collection(ReceivedCollectionName),
		clientID:      clientID,
		timeout:       DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	indexes := []struct {
		coll *mongo.Collection
		key  string
	}{
		{s.pending, "packet_id"},
		{s.subscriptions, "filter"},
		{s.received, "packet_id"},
	}
	for _, ix := range indexes {
		_, err := ix.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "client_id", Value: 1}, {Key: ix.key, Value: 1}},
			Options: options.Index().SetUnique(true).SetName(ix.coll.Name() + "_client_unique"),
		})
		if err != nil {
			return nil, fmt.Errorf("creating index on %s: %w", ix.coll.Name(), err)
		}
	}
	return s, nil
}

// Connect connects to uri, verifies the connection and returns a store in
// database. Close disconnects the client.
func Connect(ctx context.Context, uri, database, clientID string, opts ...Option) (*Store, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("mqttc"))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}
	s, err := New(ctx, client.Database(database), clientID, opts...)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return s, client, nil
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) key(field string, value any) bson.D {
	return bson.D{{Key: "client_id", Value: s.clientID}, {Key: field, Value: value}}
}

func (s *Store) replace(coll *mongo.Collection, filter bson.D, doc any) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) deleteOne(coll *mongo.Collection, filter bson.D) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := coll.DeleteOne(ctx, filter)
	return err
}

func (s *Store) deleteAll(coll *mongo.Collection) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := coll.DeleteMany(ctx, bson.D{{Key: "client_id", Value: s.clientID}})
	return err
}

// findAll decodes every document of this client in coll into T.
func findAll[T any](s *Store, coll *mongo.Collection) ([]T, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	cur, err := coll.Find(ctx, bson.D{{Key: "client_id", Value: s.clientID}})
	if err != nil {
		return nil, err
	}
	var docs []T
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// SavePendingPublish implements mqttc.SessionStore.
func (s *Store) SavePendingPublish(packetID uint16, pub *mqttc.PersistedPublish) error {
	doc := pendingDoc{ClientID: s.clientID, PacketID: packetID, PersistedPublish: *pub}
	if err := s.replace(s.pending, s.key("packet_id", packetID), doc); err != nil {
		return fmt.Errorf("saving pending publish %d: %w", packetID, err)
	}
	return nil
}

// DeletePendingPublish implements mqttc.SessionStore.
func (s *Store) DeletePendingPublish(packetID uint16) error {
	if err := s.deleteOne(s.pending, s.key("packet_id", packetID)); err != nil {
		return fmt.Errorf("deleting pending publish %d: %w", packetID, err)
	}
	return nil
}

// LoadPendingPublishes implements mqttc.SessionStore.
func (s *Store) LoadPendingPublishes() (map[uint16]*mqttc.PersistedPublish, error) {
	docs, err := findAll[pendingDoc](s, s.pending)
	if err != nil {
		return nil, fmt.Errorf("loading pending publishes: %w", err)
	}
	result := make(map[uint16]*mqttc.PersistedPublish, len(docs))
	for i := range docs {
		result[docs[i].PacketID] = &docs[i].PersistedPublish
	}
	return result, nil
}

// SaveSubscription implements mqttc.SessionStore.
func (s *Store) SaveSubscription(filter string, sub *mqttc.SubscriptionInfo) error {
	doc := subscriptionDoc{ClientID: s.clientID, Filter: filter, SubscriptionInfo: *sub}
	if err := s.replace(s.subscriptions, s.key("filter", filter), doc); err != nil {
		return fmt.Errorf("saving subscription %q: %w", filter, err)
	}
	return nil
}

// DeleteSubscription implements mqttc.SessionStore.
func (s *Store) DeleteSubscription(filter string) error {
	if err := s.deleteOne(s.subscriptions, s.key("filter", filter)); err != nil {
		return fmt.Errorf("deleting subscription %q: %w", filter, err)
	}
	return nil
}

// LoadSubscriptions implements mqttc.SessionStore.
func (s *Store) LoadSubscriptions() (map[string]*mqttc.SubscriptionInfo, error) {
	docs, err := findAll[subscriptionDoc](s, s.subscriptions)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}
	result := make(map[string]*mqttc.SubscriptionInfo, len(docs))
	for i := range docs {
		result[docs[i].Filter] = &docs[i].SubscriptionInfo
	}
	return result, nil
}

// SaveReceivedQoS2 implements mqttc.SessionStore.
func (s *Store) SaveReceivedQoS2(packetID uint16) error {
	doc := receivedDoc{ClientID: s.clientID, PacketID: packetID}
	if err := s.replace(s.received, s.key("packet_id", packetID), doc); err != nil {
		return fmt.Errorf("saving QoS 2 ID %d: %w", packetID, err)
	}
	return nil
}

// DeleteReceivedQoS2 implements mqttc.SessionStore.
func (s *Store) DeleteReceivedQoS2(packetID uint16) error {
	if err := s.deleteOne(s.received, s.key("packet_id", packetID)); err != nil {
		return fmt.Errorf("deleting QoS 2 ID %d: %w", packetID, err)
	}
	return nil
}

// LoadReceivedQoS2 implements mqttc.SessionStore.
func (s *Store) LoadReceivedQoS2() (map[uint16]struct{}, error) {
	docs, err := findAll[receivedDoc](s, s.received)
	if err != nil {
		return nil, fmt.Errorf("loading QoS 2 IDs: %w", err)
	}
	result := make(map[uint16]struct{}, len(docs))
	for _, d := range docs {
		result[d.PacketID] = struct{}{}
	}
	return result, nil
}

// ClearReceivedQoS2 implements mqttc.SessionStore.
func (s *Store) ClearReceivedQoS2() error {
	if err := s.deleteAll(s.received); err != nil {
		return fmt.Errorf("clearing QoS 2 IDs: %w", err)
	}
	return nil
}

// Clear implements mqttc.SessionStore.
func (s *Store) Clear() error {
	var errs []error
	for _, coll := range []*mongo.Collection{s.pending, s.subscriptions, s.received} {
		if err := s.deleteAll(coll); err != nil {
			errs = append(errs, fmt.Errorf("clearing %s: %w", coll.Name(), err))
		}
	}
	return errors.Join(errs...)
}
