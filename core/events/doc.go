// Package events defines the protocol events emitted on the event bus.
//
// Available event types:
//   - PlanEvent: a dispense plan was built for a transfer
//   - TipEvent: a pipette picked up or dropped a tip
//   - TransferEvent: a transfer started, completed or failed
package events
