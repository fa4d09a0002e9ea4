// Package repositories implements the SQLite state cache that lets a command resume where the previous one left off.
//
// Key Implementations:
//   - [AuthSessionRepository] : the single signed-in identity and its oauth2 token
//   - [WorkspaceRepository] : the active context (user, package, voucher, session, cursor) as JSON columns
//   - [QuestionRepository] : question slots of the active session with answer and analysis state
//   - [StateCache] : adapter combining the three for the task layer
//
// Every table holds at most one context; saving replaces, clearing deletes. The schema is managed by the goose
// migrations in the shared package.
package repositories
