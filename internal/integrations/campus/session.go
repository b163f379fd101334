package campus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"courtbot/internal/domain"
)

// CodePrompter supplies the out-of-band phone verification code when the MFA
// probe demands one. The scheduler has no automated fallback for this.
type CodePrompter interface {
	PromptCode(ctx context.Context, maskedPhone string) (string, error)
}

// ConsolePrompter blocks on stdin, bounded by the context deadline.
type ConsolePrompter struct{}

func (ConsolePrompter) PromptCode(ctx context.Context, maskedPhone string) (string, error) {
	fmt.Printf("enter the verification code sent to %s: ", maskedPhone)
	lines := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case code := <-lines:
		if code == "" {
			return "", fmt.Errorf("empty verification code")
		}
		return code, nil
	}
}

type Options struct {
	Endpoints     Endpoints
	Prompter      CodePrompter
	PromptTimeout time.Duration
	HTTPTimeout   time.Duration
	DeviceID      string
}

// Client owns one authenticated platform session: encrypted credentials, the
// token pair from password login, and the cookie jar the booking
// sub-application writes its own session into during the hop.
type Client struct {
	ep            Endpoints
	http          *http.Client
	prompter      CodePrompter
	promptTimeout time.Duration

	rawUsername string
	username    string
	password    string
	deviceID    string

	mu           sync.Mutex
	idToken      string
	refreshToken string
}

// NewClient fetches the platform public key and encrypts the credentials.
// No login is attempted yet.
func NewClient(ctx context.Context, username, password string, opts Options) (*Client, error) {
	if opts.Prompter == nil {
		opts.Prompter = ConsolePrompter{}
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = 5 * time.Minute
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	if opts.DeviceID == "" {
		opts.DeviceID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		ep:            opts.Endpoints,
		http:          &http.Client{Jar: jar, Timeout: opts.HTTPTimeout},
		prompter:      opts.Prompter,
		promptTimeout: opts.PromptTimeout,
		rawUsername:   username,
		deviceID:      opts.DeviceID,
	}
	key, err := fetchPublicKey(ctx, c.http, c.ep.PublicKeyURL)
	if err != nil {
		return nil, err
	}
	if c.username, err = encryptCredential(key, username); err != nil {
		return nil, err
	}
	if c.password, err = encryptCredential(key, password); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Username() string { return c.rawUsername }

func (c *Client) DeviceID() string { return c.deviceID }

func (c *Client) tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idToken, c.refreshToken
}

func (c *Client) setTokens(id, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idToken, c.refreshToken = id, refresh
}

// Login drives the authentication chain: MFA probe, optional phone challenge,
// then password login. A failure at any step leaves the stored token pair
// untouched so the caller can retry the whole chain.
func (c *Client) Login(ctx context.Context) error {
	mfaState, needPhone, err := c.detectMFA(ctx)
	if err != nil {
		return err
	}
	if needPhone {
		if err := c.phoneChallenge(ctx, mfaState); err != nil {
			return err
		}
	}
	return c.passwordLogin(ctx, mfaState)
}

func (c *Client) detectMFA(ctx context.Context) (state string, needPhone bool, err error) {
	q := url.Values{}
	q.Set("username", c.username)
	q.Set("password", c.password)
	q.Set("deviceId", c.deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ep.MFADetectURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("mfa detect: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Data struct {
			State string `json:"state"`
			Need  bool   `json:"need"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, &domain.ProtocolError{Op: "mfa detect", Reason: err.Error()}
	}
	return out.Data.State, out.Data.Need, nil
}

func (c *Client) phoneChallenge(ctx context.Context, mfaState string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.ep.PhoneInitURL+"?state="+url.QueryEscape(mfaState), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("phone challenge init: %w", err)
	}
	defer resp.Body.Close()
	var init struct {
		Data struct {
			GID         string `json:"gid"`
			SecurePhone string `json:"securePhone"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&init); err != nil {
		return &domain.ProtocolError{Op: "phone challenge init", Reason: err.Error()}
	}
	if init.Data.GID == "" {
		return &domain.ProtocolError{Op: "phone challenge init", Reason: "missing gid"}
	}

	if err := c.postExpectOK(ctx, c.ep.PhoneSendURL, map[string]string{"gid": init.Data.GID}, "phone code send"); err != nil {
		return err
	}
	log.Printf("campus: verification code sent to %s", init.Data.SecurePhone)

	promptCtx, cancel := context.WithTimeout(ctx, c.promptTimeout)
	defer cancel()
	code, err := c.prompter.PromptCode(promptCtx, init.Data.SecurePhone)
	if err != nil {
		return fmt.Errorf("phone code prompt: %w", err)
	}
	if err := c.postExpectOK(ctx, c.ep.PhoneValidURL, map[string]string{"code": code, "gid": init.Data.GID}, "phone code validate"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMFANotSatisfied, err)
	}
	return nil
}

// postExpectOK posts a small JSON body and requires the platform's code=0
// envelope.
func (c *Client) postExpectOK(ctx context.Context, target string, body map[string]string, op string) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	var out struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &domain.ProtocolError{Op: op, Reason: err.Error()}
	}
	if out.Code != 0 {
		return fmt.Errorf("%s: platform code %d: %s", op, out.Code, out.Message)
	}
	return nil
}

func (c *Client) passwordLogin(ctx context.Context, mfaState string) error {
	q := url.Values{}
	q.Set("username", c.username)
	q.Set("password", c.password)
	q.Set("deviceId", c.deviceID)
	q.Set("appId", c.ep.AppID)
	q.Set("mfaState", mfaState)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ep.LoginURL+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest:
		return domain.ErrMFANotSatisfied
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrBadCredentials
	case resp.StatusCode == http.StatusForbidden:
		return domain.ErrBlocked
	case resp.StatusCode >= 500:
		return domain.ErrUpstream
	default:
		return &domain.HTTPError{StatusCode: resp.StatusCode}
	}

	var out struct {
		Data struct {
			IDToken      string `json:"idToken"`
			RefreshToken string `json:"refreshToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &domain.ProtocolError{Op: "login", Reason: err.Error()}
	}
	if out.Data.IDToken == "" {
		return &domain.ProtocolError{Op: "login", Reason: "missing idToken"}
	}
	c.setTokens(out.Data.IDToken, out.Data.RefreshToken)
	log.Printf("campus: user %s logged in", c.rawUsername)
	return nil
}

// Hop performs the authorize step that lets the booking sub-application set
// its session cookie on the client's jar. It must run once after login and
// again whenever a booking call reports the session as expired.
func (c *Client) Hop(ctx context.Context) error {
	idToken, _ := c.tokens()
	if idToken == "" {
		return domain.ErrNotLoggedIn
	}
	q := url.Values{}
	q.Set("responseType", "code")
	q.Set("scope", "user_info")
	q.Set("appId", c.ep.OAuthAppID)
	q.Set("state", "1234")
	q.Set("redirectUri", c.ep.RedirectURI)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ep.AuthorizeURL+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("x-id-token", idToken)
	req.Header.Set("X-Requested-With", c.ep.AppID)

	// Redirects are followed so the sub-application can set cookies along
	// the chain; the final body is irrelevant.
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hop: %w", err)
	}
	defer resp.Body.Close()
	return nil
}
