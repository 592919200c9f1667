package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

/*
 * Export symbols
 */
var (
	Name    = "mongodb"
	Version = "2.0.0"
)

/*
 * Checkpoint store in MongoDB collections
 */
type Plugin struct {
	client      *mongo.Client
	checkpoints *mongo.Collection
	ledger      *mongo.Collection
	timeout     time.Duration
}

type checkpointDoc struct {
	River     string    `bson:"_id"`
	Sequence  int64     `bson:"sequence"`
	Observed  time.Time `bson:"observed"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type ledgerDoc struct {
	River       string `bson:"river"`
	Node        string `bson:"node"`
	Fingerprint string `bson:"fingerprint"`
}
