package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all output from a CLI command.
type Displayer interface {
	Banner(serverURL string)
	Warning(text string)
	Working(label string)
	SessionRestored(name string)
	NoSession()
	LoginOK(name, persistence string)
	LoggedOut(revokeErr error)
	TokenRefreshed(expiresIn time.Duration)
	SessionExpired()
	UploadOK(url string, size int64)
	ProfileSaved(fields []string)
	Done(s Summary)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stdout is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner(serverURL string) {
	fmt.Fprintf(p.w, "=== Vytara (%s) ===\n", serverURL)
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) Warning(text string) {
	fmt.Fprintf(p.w, "WARNING: %s\n", text)
}

func (p *PlainDisplayer) Working(label string) {
	fmt.Fprintf(p.w, "%s...\n", label)
}

func (p *PlainDisplayer) SessionRestored(name string) {
	if name == "" {
		fmt.Fprintln(p.w, "Found a stored session.")
		return
	}
	fmt.Fprintf(p.w, "Found a stored session for %s.\n", name)
}

func (p *PlainDisplayer) NoSession() {
	fmt.Fprintln(p.w, "Not signed in. Run `vytara login` to sign in.")
}

func (p *PlainDisplayer) LoginOK(name, persistence string) {
	fmt.Fprintf(p.w, "Signed in as %s (%s session).\n", name, persistence)
}

func (p *PlainDisplayer) LoggedOut(revokeErr error) {
	if revokeErr != nil {
		fmt.Fprintf(p.w, "Server logout failed: %v\n", revokeErr)
	}
	fmt.Fprintln(p.w, "Signed out. Local credentials removed.")
}

func (p *PlainDisplayer) TokenRefreshed(expiresIn time.Duration) {
	if expiresIn > 0 {
		fmt.Fprintf(p.w, "Access token refreshed, valid for %s.\n", expiresIn.Round(time.Second))
		return
	}
	fmt.Fprintln(p.w, "Access token refreshed.")
}

func (p *PlainDisplayer) SessionExpired() {
	fmt.Fprintln(p.w, "Your session has expired. Run `vytara login` to sign in again.")
}

func (p *PlainDisplayer) UploadOK(url string, size int64) {
	fmt.Fprintf(p.w, "Uploaded %d bytes: %s\n", size, url)
}

func (p *PlainDisplayer) ProfileSaved(fields []string) {
	fmt.Fprintf(p.w, "Profile updated: %s\n", strings.Join(fields, ", "))
}

func (p *PlainDisplayer) Done(s Summary) {
	if s.Name == "" && s.TokenPreview == "" {
		if s.Title != "" {
			fmt.Fprintf(p.w, "%s.\n", s.Title)
		}
		return
	}
	fmt.Fprintln(p.w, "\n========================================")
	if s.Title != "" {
		fmt.Fprintln(p.w, s.Title)
	}
	if s.Name != "" {
		fmt.Fprintf(p.w, "User: %s\n", s.Name)
	}
	if s.Email != "" {
		fmt.Fprintf(p.w, "Email: %s\n", s.Email)
	}
	if s.UserID != "" {
		fmt.Fprintf(p.w, "User ID: %s\n", s.UserID)
	}
	if s.Persistence != "" {
		fmt.Fprintf(p.w, "Session: %s\n", s.Persistence)
	}
	if s.TokenPreview != "" {
		fmt.Fprintf(p.w, "Access Token: %s...\n", s.TokenPreview)
		fmt.Fprintf(p.w, "Token Type: %s\n", s.TokenType)
	}
	if s.ExpiresIn > 0 {
		fmt.Fprintf(p.w, "Expires In: %s\n", s.ExpiresIn.Round(time.Second))
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner(_ string)                {}
func (NoopDisplayer) Warning(_ string)               {}
func (NoopDisplayer) Working(_ string)               {}
func (NoopDisplayer) SessionRestored(_ string)       {}
func (NoopDisplayer) NoSession()                     {}
func (NoopDisplayer) LoginOK(_, _ string)            {}
func (NoopDisplayer) LoggedOut(_ error)              {}
func (NoopDisplayer) TokenRefreshed(_ time.Duration) {}
func (NoopDisplayer) SessionExpired()                {}
func (NoopDisplayer) UploadOK(_ string, _ int64)     {}
func (NoopDisplayer) ProfileSaved(_ []string)        {}
func (NoopDisplayer) Done(_ Summary)                 {}
func (NoopDisplayer) Fatal(_ error)                  {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(serverURL string) {
	t.p.Send(MsgBanner{ServerURL: serverURL})
}

func (t *ProgramDisplayer) Warning(text string) {
	t.p.Send(MsgWarning{Text: text})
}

func (t *ProgramDisplayer) Working(label string) {
	t.p.Send(MsgWorking{Label: label})
}

func (t *ProgramDisplayer) SessionRestored(name string) {
	t.p.Send(MsgSessionRestored{Name: name})
}

func (t *ProgramDisplayer) NoSession() {
	t.p.Send(MsgNoSession{})
}

func (t *ProgramDisplayer) LoginOK(name, persistence string) {
	t.p.Send(MsgLoginOK{Name: name, Persistence: persistence})
}

func (t *ProgramDisplayer) LoggedOut(revokeErr error) {
	t.p.Send(MsgLoggedOut{RevokeErr: revokeErr})
}

func (t *ProgramDisplayer) TokenRefreshed(expiresIn time.Duration) {
	t.p.Send(MsgTokenRefreshed{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) SessionExpired() {
	t.p.Send(MsgSessionExpired{})
}

func (t *ProgramDisplayer) UploadOK(url string, size int64) {
	t.p.Send(MsgUploadOK{URL: url, Size: size})
}

func (t *ProgramDisplayer) ProfileSaved(fields []string) {
	t.p.Send(MsgProfileSaved{Fields: fields})
}

func (t *ProgramDisplayer) Done(s Summary) {
	t.p.Send(MsgDone{Summary: s})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
