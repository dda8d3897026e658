// Package fleet supervises the toys a spherolink daemon manages.
//
// Each member is a toy.Toy plus a supervisor goroutine. While a member is
// wanted online the supervisor connects it and, when the link drops,
// reconnects with exponential backoff (x1.5, capped). Disconnect takes a
// member offline until Connect is called again.
//
// State changes of every member are fanned out to observers on a single
// goroutine, so observers may call back into the fleet or the toy.
package fleet
