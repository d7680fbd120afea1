// Package containers provides testcontainer management for integration tests.
//
// Helpers start Docker containers through testcontainers-go for the external
// systems zonewatch talks to:
//
//   - MySQL 8.0 for the rule, asset and activity store
//nolint:misspell // Mosquitto is the official Eclipse project name
//   - Eclipse Mosquitto for the position and rule change feeds
//   - Postgres 16 for the LISTEN/NOTIFY change feed
//
// Containers are typically managed using TestMain in integration test packages:
//
//	var broker *containers.MosquittoContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    broker, err = containers.NewMosquittoContainer(context.Background(), nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    code := m.Run()
//	    _ = broker.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Integration tests using this package should use the "integration" build tag:
//
//	//go:build integration
//
//	go test -tags=integration ./...
package containers
