// Package models defines the rows exchanged with the practice backend and the local question state.
//
// The package contains two categories of types:
//
// 1. Backend rows: structs whose JSON tags match the backend table columns
//   - [User] : profile row written at registration (password hash, hashed security answers)
//   - [Package] : purchasable question bundle
//   - [Voucher] : percentage discount code
//   - [Session] : paid practice session with denormalized package fields
//   - [Response] : recorded answer, later annotated with an [Analysis]
//   - [Feedback] : app rating submitted after a session
//   - [UsageSummary] : one flattened telemetry snapshot per completed session
//
// 2. Local state: [Question] slots held for the active session, with the answer and analysis
// status needed for telemetry.
//
// Every backend row implements [Record] so callers can address its table without repeating names.
package models
