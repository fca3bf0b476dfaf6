// Package matrix is a small client for the Matrix client-server API,
// covering what the bot needs: long-poll /sync, joining, inviting, kicking,
// sending text and leaving.
//
// Authentication uses a pre-issued access token. Every error is returned as
// an [*Error] whose Kind distinguishes network failures from protocol
// failures, so callers never need to inspect concrete response types.
//
// Request URLs are built by string concatenation with url.PathEscape on each
// path segment rather than through url.URL, to avoid double-encoding room IDs.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"matrixbot/internal/domain"

	"github.com/google/uuid"
)

// maxResponseSize bounds how much of a response body is read. Initial syncs
// on busy accounts are large, so this is generous.
const maxResponseSize = 64 << 20

// syncGrace is added to the long-poll timeout for the HTTP deadline so the
// homeserver gets to answer an idle poll before the client gives up.
const syncGrace = 30 * time.Second

var _ domain.Messenger = (*Client)(nil)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver (e.g. "https://matrix.example.org").
	HomeserverURL string
	// UserID is the bot's own fully-qualified user ID.
	UserID      string
	AccessToken string
	// HTTPClient is used for all requests. If nil, a client without a global
	// timeout is used; each request is bounded by its context.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an authenticated Matrix client. It also keeps the little room
// state the bot needs to classify rooms (name and canonical alias), fed from
// each sync response.
type Client struct {
	baseURL         string
	userID          string
	accessToken     string
	httpClient      *http.Client
	logger          *slog.Logger
	maxResponseSize int64
	rooms           *roomTracker

	// stateLoaded is set after the first successful sync. Until then a
	// resumed sync asks for full room state so the tracker can classify
	// rooms whose name was set before this process started.
	stateLoaded atomic.Bool
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: HomeserverURL is required")
	}
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if config.UserID == "" {
		return nil, fmt.Errorf("matrix: UserID is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:         strings.TrimRight(config.HomeserverURL, "/"),
		userID:          config.UserID,
		accessToken:     config.AccessToken,
		httpClient:      httpClient,
		logger:          logger,
		maxResponseSize: maxResponseSize,
		rooms:           newRoomTracker(),
	}, nil
}

// UserID returns the bot's own user ID.
func (c *Client) UserID() string { return c.userID }

// Sync performs one long-poll /sync. An empty since requests an initial sync.
// The first sync of a Client that resumes from a cursor also requests full
// state. The returned batch holds the events in delivery order and the next
// cursor.
func (c *Client) Sync(ctx context.Context, since string, timeout time.Duration) (domain.Batch, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
		if !c.stateLoaded.Load() {
			query.Set("full_state", "true")
		}
	}
	query.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))

	ctx, cancel := context.WithTimeout(ctx, timeout+syncGrace)
	defer cancel()

	body, err := c.doRequest(ctx, "sync", http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return domain.Batch{}, err
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return domain.Batch{}, protocolError("sync", fmt.Errorf("parse response: %w", err))
	}
	if response.NextBatch == "" {
		c.logger.Warn("sync response without next_batch", "since", since)
	}
	c.stateLoaded.Store(true)

	return domain.Batch{
		Events: c.rooms.convert(&response, c.userID, c.logger),
		Next:   response.NextBatch,
	}, nil
}

// JoinRoom joins a room by ID.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID)
	if _, err := c.doRequest(ctx, "join", http.MethodPost, path, struct{}{}, nil); err != nil {
		return err
	}
	c.logger.Info("joined room", "room", roomID)
	return nil
}

// InviteMember invites a user to a room.
func (c *Client) InviteMember(ctx context.Context, roomID, userID string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/invite", url.PathEscape(roomID))
	_, err := c.doRequest(ctx, "invite", http.MethodPost, path, InviteRequest{UserID: userID}, nil)
	return err
}

// KickMember removes a user from a room with an optional reason.
func (c *Client) KickMember(ctx context.Context, roomID, userID, reason string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/kick", url.PathEscape(roomID))
	_, err := c.doRequest(ctx, "kick", http.MethodPost, path, KickRequest{UserID: userID, Reason: reason}, nil)
	return err
}

// SendText sends an m.text message. When html is non-empty it is attached
// as the org.matrix.custom.html formatted body.
func (c *Client) SendText(ctx context.Context, roomID, body, html string) error {
	content := MessageContent{MsgType: msgTypeText, Body: body}
	if html != "" {
		content.Format = formatHTML
		content.FormattedBody = html
	}

	// PUT with a fresh transaction ID; the homeserver deduplicates retries
	// of the same transaction.
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(eventTypeMessage),
		url.PathEscape(uuid.NewString()),
	)
	responseBody, err := c.doRequest(ctx, "send", http.MethodPut, path, content, nil)
	if err != nil {
		return err
	}

	var response SendEventResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return protocolError("send", fmt.Errorf("parse response: %w", err))
	}
	c.logger.Debug("sent message", "room", roomID, "event_id", response.EventID)
	return nil
}

// LeaveRoom leaves a room by ID.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/leave", url.PathEscape(roomID))
	if _, err := c.doRequest(ctx, "leave", http.MethodPost, path, struct{}{}, nil); err != nil {
		return err
	}
	c.rooms.forget(roomID)
	c.logger.Info("left room", "room", roomID)
	return nil
}

// WhoAmI returns the user ID that owns the access token.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, "whoami", http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil)
	if err != nil {
		return "", err
	}
	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", protocolError("whoami", fmt.Errorf("parse response: %w", err))
	}
	return response.UserID, nil
}

// ServerVersions queries the unauthenticated versions endpoint; useful to
// check the homeserver is reachable.
func (c *Client) ServerVersions(ctx context.Context) (*ServerVersionsResponse, error) {
	body, err := c.doRequest(ctx, "versions", http.MethodGet, "/_matrix/client/versions", nil, nil)
	if err != nil {
		return nil, err
	}
	var response ServerVersionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, protocolError("versions", fmt.Errorf("parse response: %w", err))
	}
	return &response, nil
}

// doRequest performs an HTTP request to the homeserver and returns the body.
// Transport failures become network errors; non-2xx responses become
// protocol errors carrying the Matrix errcode.
func (c *Client) doRequest(ctx context.Context, op, method, path string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, protocolError(op, fmt.Errorf("encode request body: %w", err))
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, protocolError(op, fmt.Errorf("create request: %w", err))
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, networkError(op, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, networkError(op, fmt.Errorf("read response body: %w", err))
	}
	if int64(len(responseBody)) > c.maxResponseSize {
		c.logger.Error("homeserver response too large", "op", op, "limit", c.maxResponseSize, "status", response.StatusCode)
		return nil, protocolError(op, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxResponseSize))
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses use the same JSON shape.
	var errorBody struct {
		Code         string `json:"errcode"`
		Message      string `json:"error"`
		RetryAfterMS int64  `json:"retry_after_ms"`
	}
	if jsonErr := json.Unmarshal(responseBody, &errorBody); jsonErr != nil || errorBody.Code == "" {
		// Proxies in front of the homeserver answer with HTML.
		errorBody.Code = ErrCodeUnknown
		errorBody.Message = strings.TrimSpace(string(responseBody))
	}
	if errorBody.Code == ErrCodeLimitExceeded {
		c.logger.Warn("rate limited by homeserver", "op", op, "retry_after_ms", errorBody.RetryAfterMS)
	}
	return nil, &Error{
		Kind:       domain.ErrKindProtocol,
		Op:         op,
		Code:       errorBody.Code,
		Message:    errorBody.Message,
		StatusCode: response.StatusCode,
	}
}
