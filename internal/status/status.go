package status

import "errors"

// Admission outcome taxonomy. Handlers map these to HTTP codes; the
// engine reports them as typed values and keeps serving other events.
var (
	// ErrRateLimited is returned when a user exceeds the configured
	// join attempts inside the throttle window. Recoverable.
	ErrRateLimited = errors.New("admission: too many join attempts, try again later")

	// ErrNotEventOwner rejects an owner trying to buy a ticket for
	// their own event.
	ErrNotEventOwner = errors.New("admission: event owner cannot join their own event")

	// ErrEventEnded rejects joins on events that already ended.
	ErrEventEnded = errors.New("admission: event has ended")

	// ErrExpired is returned when a purchase is attempted on an offer
	// whose TTL lapsed. Permanent for that entry; the user must rejoin.
	ErrExpired = errors.New("admission: offer has expired")

	// ErrAlreadyPurchased is returned to the loser of a double-commit
	// race.
	ErrAlreadyPurchased = errors.New("admission: ticket already purchased")

	// ErrAlreadyTerminal is returned when releasing an entry that is
	// already expired, cancelled or purchased.
	ErrAlreadyTerminal = errors.New("admission: entry already finalized")

	// ErrNoActiveOffer is returned when a purchase is attempted on an
	// entry that is not holding an offer.
	ErrNoActiveOffer = errors.New("admission: entry holds no active offer")

	// ErrNotFound covers unknown events and unknown or foreign entries.
	ErrNotFound = errors.New("admission: not found")
)
