package graph

import (
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
	defaultGraphBase  = "https://graph.microsoft.com/v1.0"
	defaultAuthority  = "https://login.microsoftonline.com"
	defaultTokenScope = "https://graph.microsoft.com/.default"
	tokenExpiryLeeway = 30 * time.Second
	userAgent         = "tenantlens"
)

// ErrNotFound is returned for 404 responses so callers can treat an absent
// resource (for example a group that never provisioned a document library)
// as a classification signal rather than a failure.
var ErrNotFound = errors.New("graph resource not found")

type Options struct {
	HTTPClient       *http.Client
	GraphBaseURL     string
	AuthorityBaseURL string
}

type Client struct {
	tenantID     string
	clientID     string
	clientSecret string

	http          *http.Client
	graphBaseURL  string
	authorityBase string

	mu                sync.Mutex
	cachedToken       string
	cachedTokenExpiry time.Time
}

// User is a licensed directory member with the sign-in and licensing
// metadata the license report joins against.
type User struct {
	ID                      string                   `json:"id"`
	DisplayName             string                   `json:"displayName"`
	UserPrincipalName       string                   `json:"userPrincipalName"`
	Country                 string                   `json:"country"`
	Department              string                   `json:"department"`
	JobTitle                string                   `json:"jobTitle"`
	AccountEnabled          *bool                    `json:"accountEnabled"`
	CreatedDateTimeRaw      string                   `json:"createdDateTime"`
	AssignedLicenses        []AssignedLicense        `json:"assignedLicenses"`
	LicenseAssignmentStates []LicenseAssignmentState `json:"licenseAssignmentStates"`
	SignInActivity          *SignInActivity          `json:"signInActivity"`
	RawJSON                 []byte                   `json:"-"`
}

type AssignedLicense struct {
	SkuID         string   `json:"skuId"`
	DisabledPlans []string `json:"disabledPlans"`
}

// LicenseAssignmentState describes one SKU grant. AssignedByGroup is empty
// for direct assignments; State is "Active" or "Error".
type LicenseAssignmentState struct {
	SkuID           string `json:"skuId"`
	AssignedByGroup string `json:"assignedByGroup"`
	State           string `json:"state"`
	Error           string `json:"error"`
	LastUpdatedRaw  string `json:"lastUpdatedDateTime"`
}

type SignInActivity struct {
	LastSignInRaw               string `json:"lastSignInDateTime"`
	LastNonInteractiveSignInRaw string `json:"lastNonInteractiveSignInDateTime"`
}

type SubscribedSku struct {
	SkuID         string       `json:"skuId"`
	SkuPartNumber string       `json:"skuPartNumber"`
	ConsumedUnits int          `json:"consumedUnits"`
	PrepaidUnits  PrepaidUnits `json:"prepaidUnits"`
}

type PrepaidUnits struct {
	Enabled   int `json:"enabled"`
	Suspended int `json:"suspended"`
	Warning   int `json:"warning"`
}

type Organization struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type Group struct {
	ID                          string   `json:"id"`
	DisplayName                 string   `json:"displayName"`
	Description                 string   `json:"description"`
	Mail                        string   `json:"mail"`
	Visibility                  string   `json:"visibility"`
	CreatedDateTimeRaw          string   `json:"createdDateTime"`
	GroupTypes                  []string `json:"groupTypes"`
	ResourceProvisioningOptions []string `json:"resourceProvisioningOptions"`
	RawJSON                     []byte   `json:"-"`
}

type GroupMember struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UserType    string `json:"userType"`
}

type GroupOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type Drive struct {
	ID     string     `json:"id"`
	WebURL string     `json:"webUrl"`
	Quota  DriveQuota `json:"quota"`
}

type DriveQuota struct {
	Used  int64 `json:"used"`
	Total int64 `json:"total"`
}

func New(tenantID, clientID, clientSecret string) (*Client, error) {
	return NewWithOptions(tenantID, clientID, clientSecret, Options{})
}

func NewWithOptions(tenantID, clientID, clientSecret string, opts Options) (*Client, error) {
	tenantID = normalizeGUID(tenantID)
	clientID = normalizeGUID(clientID)
	clientSecret = strings.TrimSpace(clientSecret)

	if tenantID == "" {
		return nil, errors.New("graph tenant id is required")
	}
	if clientID == "" {
		return nil, errors.New("graph client id is required")
	}
	if clientSecret == "" {
		return nil, errors.New("graph client secret is required")
	}

	graphBase := strings.TrimRight(strings.TrimSpace(opts.GraphBaseURL), "/")
	if graphBase == "" {
		graphBase = defaultGraphBase
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
		graphBaseURL:  graphBase,
		authorityBase: authorityBase,
	}, nil
}

// ListLicensedUsers returns every member user that holds at least one
// license. The assignedLicenses filter needs an advanced query, hence the
// $count parameter and the eventual consistency header.
func (c *Client) ListLicensedUsers(ctx context.Context) ([]User, error) {
	endpoint, err := c.graphURL("/users", url.Values{
		"$select": []string{"id,displayName,userPrincipalName,country,department,jobTitle,accountEnabled,createdDateTime,assignedLicenses,licenseAssignmentStates,signInActivity"},
		"$filter": []string{"assignedLicenses/$count ne 0 and userType eq 'Member'"},
		"$count":  []string{"true"},
		"$top":    []string{"999"},
	})
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("ConsistencyLevel", "eventual")

	rawItems, err := c.listPagedRaw(ctx, endpoint, headers)
	if err != nil {
		return nil, err
	}

	out := make([]User, 0, len(rawItems))
	for _, raw := range rawItems {
		var u User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, err
		}
		u.RawJSON = raw
		out = append(out, u)
	}
	return out, nil
}

// GetOrganization returns the tenant's organization object; the display
// name heads both reports.
func (c *Client) GetOrganization(ctx context.Context) (Organization, error) {
	endpoint, err := c.graphURL("/organization", url.Values{
		"$select": []string{"id,displayName"},
	})
	if err != nil {
		return Organization{}, err
	}

	body, err := c.get(ctx, endpoint, nil)
	if err != nil {
		return Organization{}, err
	}

	var page struct {
		Value []Organization `json:"value"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return Organization{}, err
	}
	if len(page.Value) == 0 {
		return Organization{}, errors.New("organization query returned no results")
	}
	return page.Value[0], nil
}

func (c *Client) GetGroup(ctx context.Context, groupID string) (Group, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return Group{}, errors.New("group id is required")
	}
	endpoint, err := c.graphURL("/groups/"+url.PathEscape(groupID), url.Values{
		"$select": []string{"id,displayName"},
	})
	if err != nil {
		return Group{}, err
	}

	body, err := c.get(ctx, endpoint, nil)
	if err != nil {
		return Group{}, err
	}

	var g Group
	if err := json.Unmarshal(body, &g); err != nil {
		return Group{}, err
	}
	g.RawJSON = body
	return g, nil
}

func (c *Client) ListSubscribedSkus(ctx context.Context) ([]SubscribedSku, error) {
	endpoint, err := c.graphURL("/subscribedSkus", nil)
	if err != nil {
		return nil, err
	}

	rawItems, err := c.listPagedRaw(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	out := make([]SubscribedSku, 0, len(rawItems))
	for _, raw := range rawItems {
		var sku SubscribedSku
		if err := json.Unmarshal(raw, &sku); err != nil {
			return nil, err
		}
		out = append(out, sku)
	}
	return out, nil
}

// ListUnifiedGroups returns all Microsoft 365 groups (groupTypes contains
// "Unified"); security-only groups have no mailbox or site to inspect.
func (c *Client) ListUnifiedGroups(ctx context.Context) ([]Group, error) {
	endpoint, err := c.graphURL("/groups", url.Values{
		"$select": []string{"id,displayName,description,mail,visibility,createdDateTime,groupTypes,resourceProvisioningOptions"},
		"$filter": []string{"groupTypes/any(c:c eq 'Unified')"},
		"$top":    []string{"999"},
	})
	if err != nil {
		return nil, err
	}

	rawItems, err := c.listPagedRaw(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	out := make([]Group, 0, len(rawItems))
	for _, raw := range rawItems {
		var g Group
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, err
		}
		g.RawJSON = raw
		out = append(out, g)
	}
	return out, nil
}

func (c *Client) ListGroupOwners(ctx context.Context, groupID string) ([]GroupOwner, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, errors.New("group id is required")
	}
	endpoint, err := c.graphURL("/groups/"+url.PathEscape(groupID)+"/owners", url.Values{
		"$select": []string{"id,displayName"},
		"$top":    []string{"999"},
	})
	if err != nil {
		return nil, err
	}

	rawItems, err := c.listPagedRaw(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	out := make([]GroupOwner, 0, len(rawItems))
	for _, raw := range rawItems {
		var owner GroupOwner
		if err := json.Unmarshal(raw, &owner); err != nil {
			return nil, err
		}
		out = append(out, owner)
	}
	return out, nil
}

func (c *Client) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, errors.New("group id is required")
	}
	endpoint, err := c.graphURL("/groups/"+url.PathEscape(groupID)+"/members", url.Values{
		"$select": []string{"id,displayName,userType"},
		"$top":    []string{"999"},
	})
	if err != nil {
		return nil, err
	}

	rawItems, err := c.listPagedRaw(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	out := make([]GroupMember, 0, len(rawItems))
	for _, raw := range rawItems {
		var member GroupMember
		if err := json.Unmarshal(raw, &member); err != nil {
			return nil, err
		}
		out = append(out, member)
	}
	return out, nil
}

// GetGroupDrive returns the group's default document library. A wrapped
// ErrNotFound means the library was never provisioned.
func (c *Client) GetGroupDrive(ctx context.Context, groupID string) (Drive, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return Drive{}, errors.New("group id is required")
	}
	endpoint, err := c.graphURL("/groups/"+url.PathEscape(groupID)+"/drive", url.Values{
		"$select": []string{"id,webUrl,quota"},
	})
	if err != nil {
		return Drive{}, err
	}

	body, err := c.get(ctx, endpoint, nil)
	if err != nil {
		return Drive{}, err
	}

	var d Drive
	if err := json.Unmarshal(body, &d); err != nil {
		return Drive{}, err
	}
	return d, nil
}

func (c *Client) listPagedRaw(ctx context.Context, endpoint string, headers http.Header) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for {
		body, err := c.get(ctx, endpoint, headers)
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

func (c *Client) graphURL(path string, query url.Values) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.graphBaseURL), "/")
	if base == "" {
		return "", errors.New("graph base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	u.Fragment = ""
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, endpoint string, headers http.Header) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetriesOn429; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		for key, values := range headers {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			metrics.GraphRequests.WithLabelValues("transport_error").Inc()
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			resp.Body.Close()
			if readErr != nil {
				return nil, readErr
			}
			metrics.GraphRetries.Inc()
			lastErr = formatGraphAPIError("graph api throttled", endpoint, resp, body)
			if attempt == maxRetriesOn429 {
				metrics.GraphRequests.WithLabelValues("throttled").Inc()
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

		if resp.StatusCode == http.StatusNotFound {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			resp.Body.Close()
			if readErr != nil {
				return nil, readErr
			}
			metrics.GraphRequests.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, formatGraphAPIError("graph api failed", endpoint, resp, body))
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			resp.Body.Close()
			if readErr != nil {
				return nil, readErr
			}
			metrics.GraphRequests.WithLabelValues("error").Inc()
			return nil, formatGraphAPIError("graph api failed", endpoint, resp, body)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		metrics.GraphRequests.WithLabelValues("ok").Inc()
		return body, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("graph request failed")
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

	accessToken, expiresAt, err := fetchClientCredentialToken(ctx, c.http, c.authorityBase, c.tenantID, c.clientID, c.clientSecret, defaultTokenScope)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cachedToken = accessToken
	c.cachedTokenExpiry = expiresAt
	c.mu.Unlock()

	return accessToken, nil
}

// fetchClientCredentialToken performs the client-credential grant. Shared
// with the Exchange admin client, which uses the same authority with a
// different scope.
func fetchClientCredentialToken(ctx context.Context, httpClient *http.Client, authorityBase, tenantID, clientID, clientSecret, scope string) (string, time.Time, error) {
	authority := strings.TrimRight(strings.TrimSpace(authorityBase), "/")
	if authority == "" {
		return "", time.Time{}, errors.New("authority base url is required")
	}
	u, err := url.Parse(authority)
	if err != nil {
		return "", time.Time{}, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + url.PathEscape(tenantID) + "/oauth2/v2.0/token"
	u.RawQuery = ""
	u.Fragment = ""

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("scope", scope)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	resp.Body.Close()
	if readErr != nil {
		return "", time.Time{}, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, formatGraphAPIError("token request failed", u.String(), resp, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   any    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, err
	}

	accessToken := strings.TrimSpace(payload.AccessToken)
	if accessToken == "" {
		return "", time.Time{}, errors.New("token response missing access_token")
	}

	expiresIn, ok := parseExpiresInSeconds(payload.ExpiresIn)
	if !ok {
		expiresIn = 3600
	}
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)
	return accessToken, expiresAt, nil
}

func parseExpiresInSeconds(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
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

func normalizeGUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	return strings.TrimSpace(s)
}

// ParseTime parses the RFC3339 timestamps Graph emits. The zero strings
// Graph uses for "never" ("0001-01-01T00:00:00Z" or empty) report ok=false.
func ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

func formatGraphAPIError(prefix, reqURL string, resp *http.Response, body []byte) error {
	message := extractGraphAPIErrorMessage(body)
	details := formatGraphAPIErrorDetails(reqURL, resp)

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

func extractGraphAPIErrorMessage(body []byte) string {
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

func formatGraphAPIErrorDetails(reqURL string, resp *http.Response) string {
	var parts []string
	if v := safeURL(reqURL); v != "" {
		parts = append(parts, "url="+v)
	}
	if v := strings.TrimSpace(resp.Header.Get("request-id")); v != "" {
		parts = append(parts, "request_id="+v)
	}
	if v := strings.TrimSpace(resp.Header.Get("client-request-id")); v != "" {
		parts = append(parts, "client_request_id="+v)
	}
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		parts = append(parts, "retry_after="+v)
	}
	return strings.Join(parts, ", ")
}

func safeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery != "" {
		return u.Scheme + "://" + u.Host + u.Path + "?" + u.RawQuery
	}
	return u.Scheme + "://" + u.Host + u.Path
}
