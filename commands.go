package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/SairamVarma07/Vytara-AI-Frontend/apiclient"
	"github.com/SairamVarma07/Vytara-AI-Frontend/session"
	"github.com/SairamVarma07/Vytara-AI-Frontend/tokenstore"
	"github.com/SairamVarma07/Vytara-AI-Frontend/tui"
)

// errNotSignedIn is returned by commands that need a session when there is none.
var errNotSignedIn = errors.New("not signed in")

// tokenPreviewLen is how much of the access token the summary shows.
const tokenPreviewLen = 20

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{name: "login", summary: "sign in with email and password", run: runLogin},
	{name: "signup", summary: "create an account and sign in", run: runSignup},
	{name: "logout", summary: "sign out and remove stored credentials", run: runLogout},
	{name: "whoami", summary: "restore the stored session and show the user", run: runWhoami},
	{name: "profile", summary: "update profile fields: key=value ... [-avatar file]", run: runProfile},
	{name: "upload", summary: "upload a file and print its URL", run: runUpload},
	{name: "get", summary: "GET an API path and print the JSON data", run: runGet},
	{name: "request", summary: "send an API request: -X METHOD path [json]", run: runRequest},
	{name: "oauth-url", summary: "print the Google sign-in URL", run: runOAuthURL},
	{name: "oauth-callback", summary: "complete a sign-in from the redirect URL", run: runOAuthCallback},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// app wires the store, client and session manager for one command.
type app struct {
	cfg     *Config
	log     zerolog.Logger
	d       tui.Displayer
	stdin   io.Reader
	stdout  io.Writer
	store   *tokenstore.Store
	client  *apiclient.Client
	session *session.Manager

	registry *prometheus.Registry
	closers  []func() error
	expired  bool
}

func newApp(
	ctx context.Context,
	cfg *Config,
	d tui.Displayer,
	log zerolog.Logger,
	stdin io.Reader,
	stdout io.Writer,
) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		d:        d,
		stdin:    stdin,
		stdout:   stdout,
		registry: prometheus.NewRegistry(),
	}

	durable, err := a.durableTier(ctx)
	if err != nil {
		return nil, err
	}
	ephemeral := tokenstore.NewFileTier(cfg.SessionFile, cfg.Profile)
	a.store = tokenstore.New(ephemeral, durable, tokenstore.WithKeys(cfg.storeKeys()))

	opts := append(cfg.clientOptions(log), apiclient.WithRegisterer(a.registry))
	a.client, err = apiclient.New(a.store, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.client.OnTokenRefreshed(func(tok *oauth2.Token) {
		d.TokenRefreshed(apiclient.Remaining(tok))
	})
	a.client.OnSessionExpired(func() {
		a.expired = true
		d.SessionExpired()
	})
	a.session = session.NewManager(a.client, session.WithLogger(log))
	return a, nil
}

func (a *app) durableTier(ctx context.Context) (tokenstore.Tier, error) {
	if a.cfg.StoreBackend != backendRedis {
		return tokenstore.NewFileTier(a.cfg.TokenFile, a.cfg.Profile), nil
	}
	rdb, err := tokenstore.NewRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return tokenstore.NewRedisTier(rdb, a.cfg.Profile, a.cfg.RedisTTL), nil
}

// close releases connections and writes the metrics file, if configured.
func (a *app) close() {
	if a.cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, a.registry); err != nil {
			a.log.Warn().Err(err).Str("path", a.cfg.MetricsFile).Msg("failed to write metrics")
		}
	}
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		}
	}
}

// report shows a failed command. Session expiry was already shown by the hook.
func (a *app) report(err error) {
	switch {
	case err == nil, a.expired:
	case errors.Is(err, errNotSignedIn):
		a.d.NoSession()
	default:
		a.log.Debug().Err(err).Msg("command failed")
		a.d.Fatal(errors.New(apiclient.UserMessage(err)))
	}
}

func (a *app) summary(ctx context.Context, title string) tui.Summary {
	s := tui.Summary{Title: title}
	if u := a.session.User(); u != nil {
		s.Name = u.DisplayName()
		s.Email = u.Email
		s.UserID = u.ID.String()
	}
	token, err := a.store.AccessToken(ctx)
	if err != nil || token == "" {
		return s
	}
	s.Persistence = a.store.TokenPersistence(ctx).String()
	s.TokenPreview = token
	if len(s.TokenPreview) > tokenPreviewLen {
		s.TokenPreview = s.TokenPreview[:tokenPreviewLen]
	}
	s.TokenType = "Bearer"
	if exp, ok := apiclient.TokenExpiry(token); ok {
		s.ExpiresIn = max(time.Until(exp), 0)
	}
	return s
}

// requireSession restores the stored session and fails without one.
func (a *app) requireSession(ctx context.Context) error {
	if err := a.session.Initialize(ctx); err != nil {
		return err
	}
	if !a.session.IsAuthenticated() {
		return errNotSignedIn
	}
	return nil
}

func persistence(remember bool) tokenstore.Persistence {
	if remember {
		return tokenstore.Remembered
	}
	return tokenstore.Ephemeral
}

// readPassword returns the first line of r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return apiclient.NewValidationError("%s: %v", fs.Name(), err)
	}
	return nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	passwordStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	remember := fs.Bool("remember", false, "keep the session after this terminal closes")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *passwordStdin {
		var err error
		if *password, err = readPassword(a.stdin); err != nil {
			return err
		}
	}

	a.d.Working("Signing in")
	p := persistence(*remember)
	if err := a.session.LoginWithPassword(ctx, *email, *password, p); err != nil {
		return err
	}
	a.d.LoginOK(a.session.User().DisplayName(), p.String())
	a.d.Done(a.summary(ctx, "Signed in"))
	return nil
}

func runSignup(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("signup")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	passwordStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	name := fs.String("name", "", "full name")
	agree := fs.Bool("agree-terms", false, "accept the terms of service")
	remember := fs.Bool("remember", false, "keep the session after this terminal closes")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if !*agree {
		return apiclient.NewValidationError("You must agree to the terms of service (-agree-terms).")
	}
	if *passwordStdin {
		var err error
		if *password, err = readPassword(a.stdin); err != nil {
			return err
		}
	}

	a.d.Working("Creating account")
	p := persistence(*remember)
	req := apiclient.SignupRequest{
		Email:        *email,
		Password:     *password,
		FullName:     *name,
		AgreeToTerms: *agree,
	}
	if err := a.session.Signup(ctx, req, p); err != nil {
		return err
	}
	a.d.LoginOK(a.session.User().DisplayName(), p.String())
	a.d.Done(a.summary(ctx, "Account created"))
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	a.d.Working("Signing out")
	revokeErr := a.session.RevokeAndLogout(ctx)
	if revokeErr != nil {
		revokeErr = errors.New(apiclient.UserMessage(revokeErr))
	}
	a.d.LoggedOut(revokeErr)
	a.d.Done(tui.Summary{Title: "Signed out"})
	return nil
}

func runWhoami(ctx context.Context, a *app, _ []string) error {
	a.d.Working("Restoring session")
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	a.d.SessionRestored(a.session.User().DisplayName())
	a.d.Done(a.summary(ctx, "Signed in"))
	return nil
}

// numericProfileFields are sent as JSON numbers.
var numericProfileFields = []string{
	"heightCm", "weightKg",
	"dailyCalorieGoal", "proteinGoal", "carbsGoal", "fatsGoal", "waterGoal",
}

// parseProfileArgs turns key=value arguments into a partial profile.
func parseProfileArgs(args []string) (map[string]any, error) {
	partial := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, apiclient.NewValidationError("Expected key=value, got %q.", arg)
		}
		if slices.Contains(numericProfileFields, key) {
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, apiclient.NewValidationError("%s must be a number.", key)
			}
			partial[key] = n
			continue
		}
		partial[key] = value
	}
	return partial, nil
}

func runProfile(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("profile")
	avatar := fs.String("avatar", "", "image file to use as the profile photo")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	partial, err := parseProfileArgs(fs.Args())
	if err != nil {
		return err
	}
	if *avatar == "" && len(partial) == 0 {
		return apiclient.NewValidationError("No profile fields to update.")
	}
	if *avatar != "" {
		if err := apiclient.ValidateAvatar(*avatar); err != nil {
			return err
		}
	}

	a.d.Working("Loading profile")
	if err := a.requireSession(ctx); err != nil {
		return err
	}

	var fields []string
	if *avatar != "" {
		a.d.Working("Uploading photo")
		if _, err := a.session.SetAvatar(ctx, *avatar); err != nil {
			return err
		}
		fields = append(fields, "avatar")
	}
	if len(partial) > 0 {
		a.d.Working("Saving profile")
		if _, err := a.session.SaveProfile(ctx, partial); err != nil {
			return err
		}
		for k := range partial {
			fields = append(fields, k)
		}
	}
	slices.Sort(fields)
	a.d.ProfileSaved(fields)
	a.d.Done(a.summary(ctx, "Profile updated"))
	return nil
}

func runUpload(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("upload")
	asAvatar := fs.Bool("avatar", false, "check the file is a valid profile photo first")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return apiclient.NewValidationError("upload takes exactly one file.")
	}
	if !a.session.HasValidToken(ctx) {
		return errNotSignedIn
	}

	path := fs.Arg(0)
	a.d.Working("Uploading " + path)
	var (
		res *apiclient.UploadResult
		err error
	)
	if *asAvatar {
		res, err = a.client.UploadAvatar(ctx, path)
	} else {
		res, err = a.client.UploadFile(ctx, path)
	}
	if err != nil {
		return err
	}
	link := a.client.AvatarURL(res.URL)
	a.d.UploadOK(link, res.Size)
	fmt.Fprintln(a.stdout, link)
	a.d.Done(tui.Summary{Title: "Upload complete"})
	return nil
}

func runGet(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return apiclient.NewValidationError("get takes exactly one path.")
	}
	return a.send(ctx, apiclient.Request{Method: http.MethodGet, Path: args[0]})
}

func runRequest(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("request")
	method := fs.String("X", http.MethodGet, "HTTP method")
	anonymous := fs.Bool("anonymous", false, "send without the stored access token")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return apiclient.NewValidationError("request takes a path and an optional JSON body.")
	}

	req := apiclient.Request{
		Method:    strings.ToUpper(*method),
		Path:      fs.Arg(0),
		Anonymous: *anonymous,
	}
	if fs.NArg() == 2 {
		body := json.RawMessage(fs.Arg(1))
		if !json.Valid(body) {
			return apiclient.NewValidationError("Request body is not valid JSON.")
		}
		req.Body = body
	}
	return a.send(ctx, req)
}

// send executes req and prints the unwrapped data to stdout.
func (a *app) send(ctx context.Context, req apiclient.Request) error {
	a.d.Working(req.Method + " " + req.Path)
	data, err := a.client.Execute(ctx, req)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			out.Reset()
			out.Write(data)
		}
		fmt.Fprintln(a.stdout, out.String())
	}
	a.d.Done(tui.Summary{Title: req.Method + " " + req.Path})
	return nil
}

func runOAuthURL(_ context.Context, a *app, _ []string) error {
	fmt.Fprintln(a.stdout, a.session.AuthorizeURL())
	a.d.Done(tui.Summary{Title: "Open the URL above to sign in with Google"})
	return nil
}

// callbackQuery accepts a full redirect URL, a "?query" or a bare query.
func callbackQuery(raw string) (url.Values, error) {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		return u.Query(), nil
	}
	q, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return nil, apiclient.NewValidationError("Invalid callback URL: %v", err)
	}
	return q, nil
}

func runOAuthCallback(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return apiclient.NewValidationError("oauth-callback takes the redirect URL.")
	}
	query, err := callbackQuery(args[0])
	if err != nil {
		return err
	}

	a.d.Working("Completing sign-in")
	if err := a.session.HandleOAuthCallback(ctx, query); err != nil {
		return err
	}
	a.d.LoginOK(a.session.User().DisplayName(), tokenstore.Remembered.String())
	a.d.Done(a.summary(ctx, "Signed in with Google"))
	return nil
}
