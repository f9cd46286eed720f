// ABOUTME: Session-scoped model of the remote team-chat workspace
// ABOUTME: Holds users, channels, DM links, timestamps, and per-conversation state

// Package workspace maintains the local model of a team-chat workspace:
// users, channels, direct-message links, and the per-conversation read
// and thread state that the sync layer updates as events arrive.
//
// # Registry
//
// The Registry owns two paired lookup maps per entity kind (id -> object
// and display name -> object). Both maps are always written together under
// one lock so that id-lookup and name-lookup can never disagree.
//
// # Timestamps
//
// Message order keys are Timestamp values: a seconds component plus a
// sub-second sequence component, totally ordered within a conversation.
// The remote service guarantees uniqueness per conversation, so ties
// never occur.
//
// All registry methods are safe for concurrent use.
package workspace
