// Package mongo implements store.Store on the official MongoDB driver.
// Suitable for deployments that already run MongoDB for operational data.
//
// The caller owns the *mongo.Client lifecycle; the store never
// disconnects it. Pass the database handle through the constructor:
//
//	import (
//	    "go.mongodb.org/mongo-driver/v2/mongo"
//	    "go.mongodb.org/mongo-driver/v2/mongo/options"
//	    mongostore "github.com/bprzybys-nc/manager-sub001/store/mongo"
//	)
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(dsn))
//	store := mongostore.New(client.Database("incidents"))
//	store.Migrate(ctx)
//
// Every guarded write is a single conditional update: incident status
// transitions filter on the allowed source statuses, workflow saves on the
// stored revision, batch claims on the visible flag, and questions rely on
// unique indexes over task_id and correlation_id.
package mongo
