package updater

import "context"

// Hub enumerates and connects to smart-card readers. The reader list is a
// snapshot: it may change between calls and is never locked, so several
// Updaters may share one Hub as long as each drives its own device.
type Hub interface {
	// Readers returns the names of the currently attached readers
	Readers() ([]string, error)

	// Connect opens a connection to the card in the named reader
	Connect(reader string) (Card, error)
}

// Card is an open connection to one token. Transmit sends a complete
// command APDU and returns the complete response, status word included.
type Card interface {
	Transmit(cmd []byte) ([]byte, error)
	Close() error
}

// ReaderWaiter is implemented by hubs that can block until a reader whose
// name starts with prefix appears, for example through reader-change
// notifications. Hubs without it are polled.
type ReaderWaiter interface {
	WaitForReader(ctx context.Context, prefix string) (string, error)
}
