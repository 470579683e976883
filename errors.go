package zkgroup

import "errors"

var (
	// ErrMalformedKey reports a member payload that cannot be decoded into
	// the fixed 3-field schema. Such members are skipped during refresh.
	ErrMalformedKey = errors.New("zkgroup: malformed member key")

	// ErrInitialization reports that the group root is still absent after
	// ancestor creation. This points at a store-side problem; the Guardian
	// retries it with backoff rather than failing the process.
	ErrInitialization = errors.New("zkgroup: group root missing after ancestor creation")

	// ErrAlreadyStarted is returned by a second Start on the same Guardian.
	ErrAlreadyStarted = errors.New("zkgroup: guardian already started")
)
