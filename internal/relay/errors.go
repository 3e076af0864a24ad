package relay

import "errors"

var (
	// ErrInvalidCredential means a registration probe failed. No state changed.
	ErrInvalidCredential = errors.New("relay: invalid credential")
	// ErrAlreadyRegistered means the credential is already managed.
	ErrAlreadyRegistered = errors.New("relay: credential already registered")
	// ErrNotOwner means the requester does not own the referenced bot.
	ErrNotOwner = errors.New("relay: requester is not the bot owner")
	// ErrNotAdmin means a revoke targeted a user without a grant.
	ErrNotAdmin = errors.New("relay: user is not an admin of this bot")
	// ErrUnknownMapping marks a reply to an untracked or pruned forward. It is
	// never surfaced to the replier.
	ErrUnknownMapping = errors.New("relay: unknown delivery mapping")
	// ErrDeliveryFailure wraps a failed send to one recipient.
	ErrDeliveryFailure = errors.New("relay: delivery failed")
	// ErrUnsupportedPlatform means no connector serves the requested platform.
	ErrUnsupportedPlatform = errors.New("relay: unsupported platform")
	// ErrSessionStart wraps a failure to open a managed bot's session.
	ErrSessionStart = errors.New("relay: session start failed")
	// ErrHubStreamEnded means the hub bot stopped delivering updates while
	// the daemon was still running.
	ErrHubStreamEnded = errors.New("relay: hub update stream ended")
)
