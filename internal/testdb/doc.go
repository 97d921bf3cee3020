// Package testdb opens migrated databases for tests.
//
// NewStore returns a store over a private SQLite file in the test's temp
// directory, so store-backed tests run without any external service. When
// SCRYCAT_TEST_DATABASE_URL or DATABASE_URL is set, PostgresStore connects
// to that server instead and resets the schema first; without either it
// skips the test.
//
//	func TestPublish(t *testing.T) {
//	    st := testdb.NewStore(t)
//	    ...
//	}
package testdb
