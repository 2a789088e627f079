package tui

import "time"

// Summary describes the session shown when a command finishes.
type Summary struct {
	Title        string
	Name         string
	Email        string
	UserID       string
	Persistence  string
	TokenPreview string
	TokenType    string
	// ExpiresIn is zero when the access token carries no expiry.
	ExpiresIn time.Duration
}

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{ ServerURL string }

// MsgWarning carries a non-fatal notice, such as a plaintext server URL.
type MsgWarning struct{ Text string }

// MsgWorking signals that a request is in progress.
type MsgWorking struct{ Label string }

// MsgSessionRestored signals that a stored session was found.
type MsgSessionRestored struct{ Name string }

// MsgNoSession signals that no stored session exists.
type MsgNoSession struct{}

// MsgLoginOK signals a successful login or signup.
type MsgLoginOK struct {
	Name        string
	Persistence string
}

// MsgLoggedOut signals that local credentials were removed.
type MsgLoggedOut struct{ RevokeErr error }

// MsgTokenRefreshed signals that the access token was renewed in the background.
type MsgTokenRefreshed struct{ ExpiresIn time.Duration }

// MsgSessionExpired signals that the session ended and the user must sign in again.
type MsgSessionExpired struct{}

// MsgUploadOK signals a completed upload.
type MsgUploadOK struct {
	URL  string
	Size int64
}

// MsgProfileSaved signals that a profile update was stored.
type MsgProfileSaved struct{ Fields []string }

// MsgDone signals successful completion of the command.
type MsgDone struct{ Summary Summary }

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
