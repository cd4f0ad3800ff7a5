// Package exo talks to the Exchange Online REST admin API, which executes
// admin cmdlets over HTTP. The groups report uses it for the signals Graph
// does not expose: group mailbox folder statistics and the unified audit log.
package exo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tenantlens/tenantlens/internal/metrics"
)

const (
	defaultTimeout    = 120 * time.Second
	maxRetriesOn429   = 5
	maxErrorBodySize  = 1 << 20 // 1 MiB
	defaultAdminBase  = "https://outlook.office365.com/adminapi/beta"
	defaultAuthority  = "https://login.microsoftonline.com"
	defaultTokenScope = "https://outlook.office365.com/.default"
	tokenExpiryLeeway = 30 * time.Second
	userAgent         = "tenantlens"

	auditResultSize = 5000
)

type Options struct {
	HTTPClient       *http.Client
	AdminBaseURL     string
	AuthorityBaseURL string
}

type Client struct {
	tenantID     string
	clientID     string
	clientSecret string

	http          *http.Client
	adminBaseURL  string
	authorityBase string

	mu                sync.Mutex
	cachedToken       string
	cachedTokenExpiry time.Time
}

// FolderStatistics is one row of Get-MailboxFolderStatistics output.
type FolderStatistics struct {
	Name                      string `json:"Name"`
	FolderPath                string `json:"FolderPath"`
	FolderType                string `json:"FolderType"`
	ItemsInFolder             int    `json:"ItemsInFolder"`
	NewestItemReceivedDateRaw string `json:"NewestItemReceivedDate"`
}

// AuditRecord is one row of Search-UnifiedAuditLog output. Only the
// presence and date of records matter to the activity classifier.
type AuditRecord struct {
	CreationDateRaw string `json:"CreationDate"`
	RecordType      string `json:"RecordType"`
	Operations      string `json:"Operations"`
	UserIDs         string `json:"UserIds"`
}

// UnifiedGroup is the subset of Get-UnifiedGroup output the report needs.
type UnifiedGroup struct {
	ExternalDirectoryObjectID string `json:"ExternalDirectoryObjectId"`
	DisplayName               string `json:"DisplayName"`
	PrimarySmtpAddress        string `json:"PrimarySmtpAddress"`
	SharePointSiteURL         string `json:"SharePointSiteUrl"`
	GroupMemberCount          int    `json:"GroupMemberCount"`
	GroupExternalMemberCount  int    `json:"GroupExternalMemberCount"`
}

type cmdletInput struct {
	CmdletName string         `json:"CmdletName"`
	Parameters map[string]any `json:"Parameters"`
}

type invokeRequest struct {
	CmdletInput cmdletInput `json:"CmdletInput"`
}

func New(tenantID, clientID, clientSecret string) (*Client, error) {
	return NewWithOptions(tenantID, clientID, clientSecret, Options{})
}

func NewWithOptions(tenantID, clientID, clientSecret string, opts Options) (*Client, error) {
	tenantID = strings.ToLower(strings.TrimSpace(tenantID))
	clientID = strings.ToLower(strings.TrimSpace(clientID))
	clientSecret = strings.TrimSpace(clientSecret)

	if tenantID == "" {
		return nil, errors.New("exo tenant id is required")
	}
	if clientID == "" {
		return nil, errors.New("exo client id is required")
	}
	if clientSecret == "" {
		return nil, errors.New("exo client secret is required")
	}

	adminBase := strings.TrimRight(strings.TrimSpace(opts.AdminBaseURL), "/")
	if adminBase == "" {
		adminBase = defaultAdminBase
	}
	authorityBase := strings.TrimRight(strings.TrimSpace(opts.AuthorityBaseURL), "/")
	if authorityBase == "" {
		authorityBase = defaultAuthority
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		tenantID:      tenantID,
		clientID:      clientID,
		clientSecret:  clientSecret,
		http:          httpClient,
		adminBaseURL:  adminBase,
		authorityBase: authorityBase,
	}, nil
}

// MailboxFolderStatistics runs Get-MailboxFolderStatistics for one mailbox,
// scoped to a folder subtree ("Inbox", "ConversationHistory").
func (c *Client) MailboxFolderStatistics(ctx context.Context, identity, folderScope string) ([]FolderStatistics, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("mailbox identity is required")
	}

	params := map[string]any{
		"Identity": identity,
	}
	if folderScope = strings.TrimSpace(folderScope); folderScope != "" {
		params["FolderScope"] = folderScope
	}

	raw, err := c.invoke(ctx, "Get-MailboxFolderStatistics", params)
	if err != nil {
		return nil, err
	}

	out := make([]FolderStatistics, 0, len(raw))
	for _, item := range raw {
		var stats FolderStatistics
		if err := json.Unmarshal(item, &stats); err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// SearchUnifiedAuditLog runs Search-UnifiedAuditLog for one record type over
// a date window, optionally scoped to object ids (site or file URLs).
func (c *Client) SearchUnifiedAuditLog(ctx context.Context, start, end time.Time, recordType string, objectIDs []string) ([]AuditRecord, error) {
	recordType = strings.TrimSpace(recordType)
	if recordType == "" {
		return nil, errors.New("audit record type is required")
	}
	if !end.After(start) {
		return nil, errors.New("audit search end must be after start")
	}

	params := map[string]any{
		"StartDate":  start.UTC().Format(time.RFC3339),
		"EndDate":    end.UTC().Format(time.RFC3339),
		"RecordType": recordType,
		"ResultSize": auditResultSize,
	}
	if len(objectIDs) > 0 {
		params["ObjectIds"] = objectIDs
	}

	raw, err := c.invoke(ctx, "Search-UnifiedAuditLog", params)
	if err != nil {
		return nil, err
	}

	out := make([]AuditRecord, 0, len(raw))
	for _, item := range raw {
		var record AuditRecord
		if err := json.Unmarshal(item, &record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// GetUnifiedGroup runs Get-UnifiedGroup for one group, keyed by the
// directory object id Graph reports.
func (c *Client) GetUnifiedGroup(ctx context.Context, identity string) (UnifiedGroup, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return UnifiedGroup{}, errors.New("group identity is required")
	}

	raw, err := c.invoke(ctx, "Get-UnifiedGroup", map[string]any{
		"Identity": identity,
	})
	if err != nil {
		return UnifiedGroup{}, err
	}
	if len(raw) == 0 {
		return UnifiedGroup{}, fmt.Errorf("unified group not found: %s", identity)
	}

	var group UnifiedGroup
	if err := json.Unmarshal(raw[0], &group); err != nil {
		return UnifiedGroup{}, err
	}
	return group, nil
}

func (c *Client) invoke(ctx context.Context, cmdlet string, params map[string]any) ([]json.RawMessage, error) {
	endpoint, err := c.invokeURL()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(invokeRequest{
		CmdletInput: cmdletInput{
			CmdletName: cmdlet,
			Parameters: params,
		},
	})
	if err != nil {
		return nil, err
	}

	var out []json.RawMessage
	for {
		body, err := c.post(ctx, endpoint, payload)
		if err != nil {
			return nil, err
		}
		var page struct {
			Value    []json.RawMessage `json:"value"`
			NextLink string            `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Value...)

		next := strings.TrimSpace(page.NextLink)
		if next == "" {
			break
		}
		endpoint = next
	}
	return out, nil
}

func (c *Client) invokeURL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.adminBaseURL), "/")
	if base == "" {
		return "", errors.New("exo admin base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + url.PathEscape(c.tenantID) + "/InvokeCommand"
	u.Fragment = ""
	return u.String(), nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetriesOn429; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			metrics.ExoRequests.WithLabelValues("transport_error").Inc()
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			resp.Body.Close()
			if readErr != nil {
				return nil, readErr
			}
			lastErr = formatAdminAPIError("exo admin api throttled", endpoint, resp, body)
			if attempt == maxRetriesOn429 {
				metrics.ExoRequests.WithLabelValues("throttled").Inc()
				return nil, lastErr
			}
			wait, ok := retryAfterDuration(resp.Header.Get("Retry-After"))
			if !ok {
				wait = retryBackoff(attempt)
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			resp.Body.Close()
			if readErr != nil {
				return nil, readErr
			}
			metrics.ExoRequests.WithLabelValues("error").Inc()
			return nil, formatAdminAPIError("exo admin api failed", endpoint, resp, body)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		metrics.ExoRequests.WithLabelValues("ok").Inc()
		return body, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("exo admin request failed")
}

func (c *Client) token(ctx context.Context) (string, error) {
	now := time.Now()

	c.mu.Lock()
	cached := c.cachedToken
	exp := c.cachedTokenExpiry
	c.mu.Unlock()

	if strings.TrimSpace(cached) != "" && exp.After(now.Add(tokenExpiryLeeway)) {
		return cached, nil
	}

	accessToken, expiresAt, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cachedToken = accessToken
	c.cachedTokenExpiry = expiresAt
	c.mu.Unlock()

	return accessToken, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Time, error) {
	authority := strings.TrimRight(strings.TrimSpace(c.authorityBase), "/")
	if authority == "" {
		return "", time.Time{}, errors.New("exo authority base url is required")
	}
	u, err := url.Parse(authority)
	if err != nil {
		return "", time.Time{}, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + url.PathEscape(c.tenantID) + "/oauth2/v2.0/token"
	u.RawQuery = ""
	u.Fragment = ""

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("scope", defaultTokenScope)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	resp.Body.Close()
	if readErr != nil {
		return "", time.Time{}, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, formatAdminAPIError("exo token request failed", u.String(), resp, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   any    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, err
	}

	accessToken := strings.TrimSpace(payload.AccessToken)
	if accessToken == "" {
		return "", time.Time{}, errors.New("exo token response missing access_token")
	}

	expiresIn := 3600
	switch t := payload.ExpiresIn.(type) {
	case float64:
		if t > 0 {
			expiresIn = int(t)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil && n > 0 {
			expiresIn = n
		}
	}
	return accessToken, time.Now().Add(time.Duration(expiresIn) * time.Second), nil
}

// ParseTime parses the timestamps the admin API emits. Cmdlet output may be
// RFC3339 or the US-style "1/2/2006 3:04:05 PM" PowerShell rendering.
func ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "1/2/2006 3:04:05 PM", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil && !t.IsZero() {
			return t, true
		}
	}
	return time.Time{}, false
}

func retryAfterDuration(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func retryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	wait := time.Second * time.Duration(1<<attempt)
	const max = 30 * time.Second
	if wait > max {
		wait = max
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func formatAdminAPIError(prefix, reqURL string, resp *http.Response, body []byte) error {
	message := extractAdminAPIErrorMessage(body)
	details := formatAdminAPIErrorDetails(reqURL, resp)

	if message != "" && details != "" {
		return fmt.Errorf("%s: %s: %s (%s)", prefix, resp.Status, message, details)
	}
	if message != "" {
		return fmt.Errorf("%s: %s: %s", prefix, resp.Status, message)
	}
	if details != "" {
		return fmt.Errorf("%s: %s (%s)", prefix, resp.Status, details)
	}
	return fmt.Errorf("%s: %s", prefix, resp.Status)
}

func extractAdminAPIErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		msg := strings.TrimSpace(payload.Error.Message)
		code := strings.TrimSpace(payload.Error.Code)
		if msg != "" && code != "" {
			return code + ": " + msg
		}
		if msg != "" {
			return msg
		}
		if code != "" {
			return code
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return ""
	}
	msg = strings.Join(strings.Fields(msg), " ")
	const maxLen = 300
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "…"
	}
	return msg
}

func formatAdminAPIErrorDetails(reqURL string, resp *http.Response) string {
	var parts []string
	if reqURL != "" {
		parts = append(parts, "url="+reqURL)
	}
	if v := strings.TrimSpace(resp.Header.Get("request-id")); v != "" {
		parts = append(parts, "request_id="+v)
	}
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		parts = append(parts, "retry_after="+v)
	}
	return strings.Join(parts, ", ")
}
