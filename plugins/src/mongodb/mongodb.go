package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Check "pdk/plugin.go" for the built-in plugin functions description
 */

func (p *Plugin) Setup(store *pdk.Store) error {

	// Validate necessary parameters
	if store.Access["addr"] == "" {
		return fmt.Errorf("'access.addr' is not defined")
	} else if store.Access["db"] == "" {
		return fmt.Errorf("'access.db' is not defined")
	}

	// MongoDB server address
	clientOptions := options.Client().ApplyURI("mongodb://" + store.Access["addr"])

	// Set credentials if given
	if store.Access["user"] != "" && store.Access["password"] != "" {
		credential := options.Credential{
			AuthSource: store.Access["db"],
			Username:   store.Access["user"],
			Password:   store.Access["password"],
		}

		clientOptions.SetAuth(credential)
	}

	p.timeout = store.Timeout
	if p.timeout == 0 {
		p.timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// Connect to MongoDB
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return err
	}

	// Check the connection
	err = client.Ping(ctx, nil)
	if err != nil {
		client.Disconnect(context.Background())
		return err
	}

	db := client.Database(store.Access["db"])
	ledger := db.Collection("river_ledger")

	_, err = ledger.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "river", Value: 1}, {Key: "node", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(context.Background())
		return fmt.Errorf("Can't create ledger index: %s", err.Error())
	}

	p.client = client
	p.checkpoints = db.Collection("river_checkpoints")
	p.ledger = ledger

	return nil
}

func (p *Plugin) Load(ctx context.Context, river string) (pdk.Checkpoint, error) {
	doc := &checkpointDoc{}

	err := p.checkpoints.FindOne(ctx, bson.M{"_id": river}).Decode(doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return pdk.Checkpoint{}, nil
	} else if err != nil {
		return pdk.Checkpoint{}, fmt.Errorf("Can't load checkpoint of '%s': %s", river, err.Error())
	}

	return toCheckpoint(doc), nil
}

func (p *Plugin) Ledger(ctx context.Context, river string) (map[string]string, error) {
	cursor, err := p.ledger.Find(ctx, bson.M{"river": river})
	if err != nil {
		return nil, fmt.Errorf("Can't read ledger of '%s': %s", river, err.Error())
	}
	defer cursor.Close(ctx)

	ledger := make(map[string]string)

	// Iterate through the results/cursor
	for cursor.Next(ctx) {
		doc := &ledgerDoc{}

		err := cursor.Decode(doc)
		if err != nil {
			return nil, fmt.Errorf("Can't decode ledger entry: %s", err.Error())
		}

		ledger[doc.Node] = doc.Fingerprint
	}

	return ledger, cursor.Err()
}

/*
 * Without a replica set there are no multi-document transactions,
 * so the ledger is written first and the checkpoint second.
 * A crash in between leaves the ledger ahead of the checkpoint,
 * which only makes the next scan re-emit nothing for already indexed nodes.
 *
 * The checkpoint update filters on the stored sequence:
 * a lower sequence doesn't match, the upsert collides on "_id"
 * and the commit is refused
 */
func (p *Plugin) Commit(ctx context.Context, river string, checkpoint pdk.Checkpoint, records []pdk.ChangeRecord) error {
	stored, err := p.Load(ctx, river)
	if err != nil {
		return err
	}

	if checkpoint.Before(stored) {
		return fmt.Errorf("'%s' is at %d, can't commit %d: %w", river, stored.Sequence, checkpoint.Sequence, pdk.ErrCheckpointRegression)
	}

	if len(records) != 0 {
		models := make([]mongo.WriteModel, 0, len(records))

		for _, r := range records {
			filter := bson.M{"river": river, "node": r.NodeID}

			if r.Kind == pdk.Deleted {
				models = append(models, mongo.NewDeleteOneModel().SetFilter(filter))
			} else {
				models = append(models, mongo.NewReplaceOneModel().
					SetFilter(filter).
					SetReplacement(&ledgerDoc{River: river, Node: r.NodeID, Fingerprint: r.Fingerprint}).
					SetUpsert(true))
			}
		}

		_, err = p.ledger.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
		if err != nil {
			return fmt.Errorf("Can't update ledger of '%s': %s", river, err.Error())
		}
	}

	_, err = p.checkpoints.UpdateOne(ctx,
		bson.M{"_id": river, "sequence": bson.M{"$lte": int64(checkpoint.Sequence)}},
		bson.M{"$set": bson.M{
			"sequence":  int64(checkpoint.Sequence),
			"observed":  checkpoint.Time,
			"updatedAt": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true))

	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("'%s' moved past %d: %w", river, checkpoint.Sequence, pdk.ErrCheckpointRegression)
	} else if err != nil {
		return fmt.Errorf("Can't save checkpoint of '%s': %s", river, err.Error())
	}

	return nil
}

func (p *Plugin) Stop() error {
	if p.client != nil {
		return p.client.Disconnect(context.Background())
	}

	return nil
}

func toCheckpoint(doc *checkpointDoc) pdk.Checkpoint {
	checkpoint := pdk.Checkpoint{Sequence: uint64(doc.Sequence)}

	// BSON dates keep milliseconds only and come back in UTC
	if !doc.Observed.IsZero() && doc.Observed.Unix() > 0 {
		checkpoint.Time = doc.Observed.UTC()
	}

	return checkpoint
}
