// Package services defines the remote data-service contract for the practice backend and implements it over
// HTTP, Postgres, S3, Redis and AMQP.
//
// # Contract
//
// Four capabilities are consumed by the task layer:
//   - [IdentityProvider] : sign-up, password sign-in, sign-out and session resume
//   - [TableStore] : select, insert, update and upsert of JSON rows, with [Query] as the filter builder
//   - [ObjectStore] : blob upload, removal and public URLs
//   - [ChangeFeed] : row-level change notifications delivered to a [ChangeHandler]
//
// # HTTP Backend
//
// [APIService] is the shared transport. It sends the anon key as "apikey" on every request and a bearer token
// that is either the signed-in user's access token or the anon key. [AuthService] binds the user's
// [oauth2.TokenSource] to it after sign-in, so [RESTStore] and [BucketStore] calls run as that user and expired
// tokens are refreshed through the refresh grant.
//
// # Direct Drivers
//
// [PostgresStore] speaks to the database with pgx and moves rows as JSON so it decodes into the same structs as
// the REST store. [S3Store] stores blobs in an S3-compatible bucket; uploads that must not overwrite are sent
// with If-None-Match.
//
// # Change Feeds
//
// [RedisFeed] subscribes to "realtime:public:{table}" channels; [AMQPFeed] binds a private queue to the
// "public.{table}.*" routing key on a topic exchange. Both decode payloads with [DecodeChangeEvent] and drop
// malformed events after logging them.
//
// # Error Handling
//
// Failures wrap sentinels from the shared package:
//   - [shared.ErrNotAuthenticated] : 401/403 or no bound session
//   - [shared.ErrInvalidCredentials] : password grant rejected
//   - [shared.ErrNotFound] : 404/406 or a single-row select that matched zero or many rows
//   - [shared.ErrConflict] : duplicate rows or objects
//   - [shared.ErrServiceUnavailable] : transport failures and 5xx
//   - [shared.ErrAPIRequest] : everything else
package services
