// Package tasks runs the interview-practice workflows against the remote data service.
//
// # Workflows
//
// [Engine] exposes one method per user action, in the order a practice run normally takes:
//
//  1. [Engine.Register], [Engine.Login], [Engine.Logout] and [Engine.RestoreSession]
//     - Registration validates input before any network call
//     - Security answers are stored as salted argon2id hashes, passwords as hex SHA-256
//  2. [Engine.ListPackages] and [Engine.SelectPackage]
//     - Selecting a package creates the session immediately
//  3. [Engine.ApplyVoucher] and [Engine.ComputeFinalPrice]
//  4. [Engine.CreateSession], [Engine.CurrentQuestion] and [Engine.AdvanceQuestion]
//  5. [Engine.Upload], [Engine.SaveResponse] and [Engine.SaveAnalysis]
//  6. [Engine.SaveUsageData] and [Engine.SaveFeedbackData]
//
// [Engine.StartNotifier] runs beside the workflows and keeps the catalog current from the change feed.
//
// # State
//
// The active context lives in a [Workspace]. Workflows read a copy and install changes with a single swap, so
// change-feed callbacks can refresh the catalog concurrently. Logout replaces the whole value.
//
// # Notices
//
// Failures are returned as errors wrapping the sentinels in the shared package. Successes are sent as [Notice]
// values on an optional channel; sends use select with default and never block.
//
// # Persistence
//
// The optional [Persister] (repositories.StateCache) keeps the auth session, the workspace and the question list
// between processes. Cache failures are logged and never fail a workflow.
package tasks
